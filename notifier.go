package hostloop

// eventNotifier is implemented by the platform EventNotifier types.
type eventNotifier interface {
	Set() error
	TestAndClear() bool
	FD() int
	Close() error
}

var _ eventNotifier = (*EventNotifier)(nil)
