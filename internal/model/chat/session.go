package chat

import "strings"

// NoCity is stored in place of a city when the user only picked a state.
// Retrieval documents that apply state-wide carry the same value.
const NoCity = "null"

// ErrorMarker prefixes the assistant turn stored when a round trip fails.
const ErrorMarker = "[error] "

// Record is everything persisted for one session.
type Record struct {
	City     string    `json:"city"`
	State    string    `json:"state"`
	Messages []Message `json:"messages"`
	Version  int64     `json:"version,omitempty"`
}

// NewRecord returns an empty conversation for the given jurisdiction.
func NewRecord(city, state string) Record {
	return Record{
		City:     city,
		State:    state,
		Messages: []Message{},
	}
}

// HasCity reports whether a specific city was selected.
func (r Record) HasCity() bool {
	return HasCity(r.City)
}

// Append adds a turn to the end of the conversation.
func (r *Record) Append(msg Message) {
	r.Messages = append(r.Messages, msg)
}

// History returns a copy of the stored messages, never nil.
func (r Record) History() []Message {
	out := make([]Message, len(r.Messages))
	copy(out, r.Messages)
	return out
}

// HasCity reports whether city names a specific city rather than the sentinel.
func HasCity(city string) bool {
	city = strings.TrimSpace(city)
	return city != "" && city != NoCity
}

// NormalizeCity maps an empty city to the sentinel.
func NormalizeCity(city string) string {
	city = strings.TrimSpace(city)
	if city == "" {
		return NoCity
	}
	return city
}
