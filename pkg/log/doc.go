// Package log provides xs's structured logging facade.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// Field type for structured context. A bridge handler makes the same
// formatter/output pipeline available to slog-speaking libraries, and
// RedirectStdLog captures standard library log output (Pebble, bbolt,
// net/http) into the facade.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("store"))
//	l.Info("store spawned", log.Str("path", dir))
//
// # Configuration
//
// ApplyConfig builds a logger from a declarative Config (level, text or
// JSON format, optional log file), which the serve command sources from the
// process configuration.
package log
