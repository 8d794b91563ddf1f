// Package outcome defines the tagged result a stream consumer pulls: an
// item, a clean end of stream, or a failure.
package outcome

import "fmt"

// Kind discriminates an Outcome.
type Kind uint8

const (
	// KindOk carries an item.
	KindOk Kind = iota
	// KindEnd marks a cleanly completed stream.
	KindEnd
	// KindError marks a failed stream; Err is set.
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindOk:
		return "ok"
	case KindEnd:
		return "end"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Outcome is one step of a stream.
type Outcome[T any] struct {
	Kind Kind
	Item T
	Err  error
}

// Ok wraps an item.
func Ok[T any](item T) Outcome[T] { return Outcome[T]{Kind: KindOk, Item: item} }

// End is the clean end-of-stream outcome.
func End[T any]() Outcome[T] { return Outcome[T]{Kind: KindEnd} }

// Fail wraps err. A nil err yields End.
func Fail[T any](err error) Outcome[T] {
	if err == nil {
		return End[T]()
	}
	return Outcome[T]{Kind: KindError, Err: err}
}

// Terminal reports whether o ends the stream.
func (o Outcome[T]) Terminal() bool { return o.Kind != KindOk }

// IsOk reports whether o carries an item.
func (o Outcome[T]) IsOk() bool { return o.Kind == KindOk }
