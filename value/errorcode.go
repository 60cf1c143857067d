package value

// ErrorCode is the closed error-kind taxonomy of spec §7. Modeled
// directly on barn/types.ErrorCode's closed-enum-with-String()/Message()
// shape, narrowed to seven kinds. ErrType, ErrStack and
// ErrUnhandledException are defined but never raised by this runtime:
// type mismatches and operand-stack underflow surface as ErrRuntime.
type ErrorCode int

const (
	ErrNone ErrorCode = iota
	ErrType
	ErrRuntime
	ErrArithmetic
	ErrStack
	ErrTaskCancelled
	ErrChannelClosed
	ErrUnhandledException
)

func (e ErrorCode) String() string {
	switch e {
	case ErrNone:
		return "None"
	case ErrType:
		return "TypeError"
	case ErrRuntime:
		return "RuntimeError"
	case ErrArithmetic:
		return "ArithmeticError"
	case ErrStack:
		return "StackError"
	case ErrTaskCancelled:
		return "TaskCancelled"
	case ErrChannelClosed:
		return "ChannelClosed"
	case ErrUnhandledException:
		return "UnhandledException"
	default:
		return "UnknownError"
	}
}

// Message returns a short default message for errors the core
// synthesizes itself (as opposed to user-level throw payloads, which
// carry their own message).
func (e ErrorCode) Message() string {
	switch e {
	case ErrType:
		return "type mismatch"
	case ErrRuntime:
		return "runtime error"
	case ErrArithmetic:
		return "division or modulo by zero"
	case ErrStack:
		return "stack underflow or overflow"
	case ErrTaskCancelled:
		return "task cancelled"
	case ErrChannelClosed:
		return "channel closed"
	case ErrUnhandledException:
		return "unhandled exception"
	default:
		return ""
	}
}
