package session

// Event types published on the registry bus.
const (
	// EventConnState carries a ConnState after every transport
	// transition.
	EventConnState = "conn_state"
	// EventStoreState carries a StoreState when replay starts and when
	// it completes.
	EventStoreState = "store_state"
	// EventDecodeDropped carries the error for a payload rejected at the
	// codec boundary. The connection stays up; the payload is gone.
	EventDecodeDropped = "decode_dropped"
	// EventStoreDegraded carries the error for a failed durable append.
	// The in-memory replica stays authoritative for the session.
	EventStoreDegraded = "store_degraded"
)

// ConnState is the client transport state machine.
type ConnState int32

const (
	ConnConnecting ConnState = iota
	ConnOpen
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnConnecting:
		return "connecting"
	case ConnOpen:
		return "open"
	case ConnClosed:
		return "closed"
	}
	return "unknown"
}

// StoreState is the offline store replay state machine.
type StoreState int32

const (
	StoreLoading StoreState = iota
	StoreSynced
)

func (s StoreState) String() string {
	switch s {
	case StoreLoading:
		return "loading"
	case StoreSynced:
		return "synced"
	}
	return "unknown"
}
