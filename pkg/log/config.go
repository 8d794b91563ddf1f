package log

import (
	"fmt"
	"os"
	"strings"
)

// Config is the declarative form accepted by ApplyConfig.
type Config struct {
	Level  string
	Format string
	// Output is "stderr" (default), "stdout", "null", or a file path.
	Output string
}

// ApplyConfig builds a Logger from cfg.
func ApplyConfig(cfg *Config) (Logger, error) {
	if cfg == nil {
		return NewLogger(), nil
	}
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	var format Format
	switch strings.ToLower(cfg.Format) {
	case "", "text", "console":
		format = FormatText
	case "json":
		format = FormatJSON
	default:
		return nil, fmt.Errorf("log: unknown format %q", cfg.Format)
	}
	opts := []LoggerOption{WithLevel(lvl), WithFormat(format)}
	switch cfg.Output {
	case "", "stderr":
	case "stdout":
		opts = append(opts, WithOutput(os.Stdout))
	case "null":
		return NewNop(), nil
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("log: open output: %w", err)
		}
		opts = append(opts, WithOutput(f))
	}
	return NewLogger(opts...), nil
}
