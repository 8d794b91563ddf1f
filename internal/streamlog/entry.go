package streamlog

// Reserved field names and status values.
const (
	FieldMessage    = "m"
	FieldStatus     = "s"
	StatusCompleted = "completed"
)

// Fields is the field map of one entry.
type Fields map[string][]byte

// MessageFields builds the fields of a message entry.
func MessageFields(payload []byte) Fields { return Fields{FieldMessage: payload} }

// CompletedFields builds the fields of the terminal status entry.
func CompletedFields() Fields { return Fields{FieldStatus: []byte(StatusCompleted)} }

// Kind classifies an entry by its reserved fields.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindMessage
	KindStatus
)

// Entry is one stored log entry.
type Entry struct {
	Position Position
	Fields   Fields
}

// Kind reports whether the entry carries a status marker or a message.
// A status field wins when both are present.
func (e Entry) Kind() Kind {
	if _, ok := e.Fields[FieldStatus]; ok {
		return KindStatus
	}
	if _, ok := e.Fields[FieldMessage]; ok {
		return KindMessage
	}
	return KindUnknown
}

// Completed reports whether the entry is the durable terminal signal.
func (e Entry) Completed() bool {
	s, ok := e.Fields[FieldStatus]
	return ok && string(s) == StatusCompleted
}

// Message returns the message payload, if any.
func (e Entry) Message() ([]byte, bool) {
	m, ok := e.Fields[FieldMessage]
	return m, ok
}
