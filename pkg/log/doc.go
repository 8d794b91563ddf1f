// Package log provides mediaflo's structured logging facade.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// Field type for structured context. It is backed by go.uber.org/zap; Field
// is zap.Field so call sites pay no conversion cost.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormat(log.FormatText),
//	)
//	l = l.With(log.Component("relay"), log.Stream(streamID))
//	l.Info("tailing", log.Int("batch", 10))
//
// # Configuration
//
// Use ApplyConfig to build a logger from a declarative Config (level, text or
// JSON format, and an output of stderr, stdout, null or a file path).
//
// # Interop
//
// RedirectStdLog routes the standard library logger through a Logger, and
// ToStdLogger adapts one for http.Server.ErrorLog.
package log
