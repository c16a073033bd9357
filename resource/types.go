package resource

// Handle is an opaque reference to a value in a table.
// Handle 0 is reserved and always invalid.
type Handle uint32

// Kind tags the values stored in a table so lookups can be checked.
type Kind uint32

const (
	// KindExternRef marks payloads passed to guests as externref values.
	KindExternRef Kind = iota + 1
	// KindListener marks listening sockets exposed to WASI guests.
	KindListener
	// KindConn marks connected sockets exposed to WASI guests.
	KindConn
)

func (k Kind) String() string {
	switch k {
	case KindExternRef:
		return "externref"
	case KindListener:
		return "listener"
	case KindConn:
		return "conn"
	default:
		return "unknown"
	}
}

// EventType identifies a table lifecycle notification.
type EventType uint8

const (
	EventCreated EventType = iota
	EventDropped
)

// Event represents a lifecycle event.
type Event struct {
	Value  any
	Handle Handle
	Kind   Kind
	Type   EventType
}

// Observer receives notifications about lifecycle events.
type Observer interface {
	OnResourceEvent(Event)
}

// Backend provides the underlying storage for a table.
type Backend interface {
	// Create stores a value and returns a handle.
	Create(kind Kind, value any) (Handle, error)

	// Get retrieves a value by handle.
	Get(handle Handle) (any, bool)

	// Kind returns the kind a handle was created with.
	Kind(handle Handle) (Kind, bool)

	// Drop removes a value and returns it.
	Drop(handle Handle) (any, bool)

	// Len returns the number of live values.
	Len() int

	// Each iterates over live values until fn returns false.
	Each(fn func(Handle, Kind, any) bool)

	// Close releases all values held by the backend.
	Close() error
}

// Dropper is optionally implemented by values that need cleanup when removed.
type Dropper interface {
	Drop()
}
