package broadcast

import "github.com/rzbill/mediaflo/pkg/log"

// Defaults.
const (
	DefaultIntakeDepth = 16
	DefaultLagLimit    = 1024
)

// Policy selects how long a Distributor keeps buffered items.
type Policy struct {
	expected int
}

// PolicyUnbounded keeps every item until the Distributor is dropped.
var PolicyUnbounded = Policy{}

// PolicyTrimmed keeps items only until expected sinks have attached.
func PolicyTrimmed(expected int) Policy {
	if expected < 1 {
		expected = 1
	}
	return Policy{expected: expected}
}

// Trimmed reports whether p releases consumed items.
func (p Policy) Trimmed() bool { return p.expected > 0 }

func (p Policy) String() string {
	if p.Trimmed() {
		return "trimmed"
	}
	return "unbounded"
}

type options struct {
	intakeDepth int
	policy      Policy
	lagLimit    int
	logger      log.Logger
}

// Option configures a Distributor.
type Option func(*options)

// WithIntakeDepth bounds how many attach requests may queue for the driver.
func WithIntakeDepth(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.intakeDepth = n
		}
	}
}

// WithPolicy selects the buffering policy.
func WithPolicy(p Policy) Option { return func(o *options) { o.policy = p } }

// WithLagLimit bounds how many items a sink may fall behind the source
// before it is dropped with ErrSlowSink. It applies under both policies.
func WithLagLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.lagLimit = n
		}
	}
}

// WithLogger sets the logger used for sink drops.
func WithLogger(l log.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
