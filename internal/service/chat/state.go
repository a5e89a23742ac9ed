package chat

// State is the round-trip phase reached by a query.
type State int

const (
	StateLoaded State = iota + 1
	StateSentToModel
	StateStreaming
	StatePersisted
	StateError
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateSentToModel:
		return "sent_to_model"
	case StateStreaming:
		return "streaming"
	case StatePersisted:
		return "persisted"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
