package value

// TaskID identifies a task across packages that must not import the
// task package itself (object's Channel/Mutex waiter queues, for
// instance) — kept here because value is the one package everything
// else already depends on.
type TaskID int64

// MutexID identifies a runtime mutex, "a small integer" per spec §4.5.
type MutexID int32
