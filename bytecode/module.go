package bytecode

import "fmt"

// Module is a read-only-once-loaded bytecode module (spec §3 "Bytecode
// module", §6 "Bytecode module format"). Grounded on barn/vm/program.go's
// Program struct (constants/functions/the verb-equivalent table), widened
// with a class table per spec §6.
type Module struct {
	// BuildID stamps a stable identity for debug/log correlation across
	// reloads of what is logically "the same" module (§11 domain stack:
	// github.com/google/uuid). Populated by the loader; zero value is
	// legal for hand-built test modules.
	BuildID string

	Constants ConstPool
	Functions []Function
	Classes   []Class

	// Debug is optional; nil means no debug info was loaded.
	Debug *DebugInfo
}

// ConstPool holds the string and numeric constant tables (spec §6:
// "length-prefixed string and numeric tables").
type ConstPool struct {
	Strings []string
	Ints    []int64
	Floats  []float64
}

// Function is one entry in the function table.
type Function struct {
	Name        string
	ParamCount  int
	MinArgCount int // for default-parameter semantics; == ParamCount if none
	LocalCount  int
	Code        []byte
}

// Class is one entry in the class table (spec §3 "Class registry").
// ParentIndex is -1 when the class has no parent.
type Class struct {
	Name            string
	ParentIndex     int
	FieldCount      int
	Vtable          []int32 // method index -> function index; -1 = unset
	ConstructorIdx  int     // -1 if none
	IsAbstract      bool
	StaticInitial   []StaticInit
	FieldNames      []string // parallel metadata for reflection, per §3
	MethodNames     []string // parallel to Vtable
}

// StaticInit is a literal initializer for one static field slot.
type StaticInit struct {
	Name string
	Kind StaticKind
	I    int64
	F    float64
	S    string
}

type StaticKind byte

const (
	StaticNull StaticKind = iota
	StaticBool
	StaticInt
	StaticFloat
	StaticString
)

// DebugInfo is the optional debug section (spec §6).
type DebugInfo struct {
	SourceFiles []string
	// FuncLines maps function index -> (source file index, start line, start column).
	FuncLines []DebugFuncLoc
}

type DebugFuncLoc struct {
	FileIndex int
	Line      int
	Column    int
}

func (m *Module) Function(idx uint32) (*Function, error) {
	if int(idx) >= len(m.Functions) {
		return nil, fmt.Errorf("bytecode: function index %d out of range (have %d)", idx, len(m.Functions))
	}
	return &m.Functions[idx], nil
}

func (m *Module) Class(idx uint32) (*Class, error) {
	if int(idx) >= len(m.Classes) {
		return nil, fmt.Errorf("bytecode: class index %d out of range (have %d)", idx, len(m.Classes))
	}
	return &m.Classes[idx], nil
}

func (p ConstPool) String(idx uint16) (string, error) {
	if int(idx) >= len(p.Strings) {
		return "", fmt.Errorf("bytecode: string constant index %d out of range", idx)
	}
	return p.Strings[idx], nil
}
