// Package log provides a small, leveled logging interface for the scriptflow
// orchestrator and its storage backends.
//
// Components accept a Logger rather than constructing one, so callers control
// where orchestration output goes. Two implementations ship with the package:
// DefaultLogger on top of the standard library, and GologLogger wrapping
// github.com/kataras/golog for applications already using it.
//
//	logger := log.NewDefaultLogger(log.LogLevelInfo)
//	logger.Info("workflow %s entering stage %s", id, stage)
//
// A settable package-level default is available for code that does not thread
// a Logger through explicitly:
//
//	log.SetLogLevel(log.LogLevelDebug)
//	log.Debug("tool %s finished in %v", name, elapsed)
//
// NoOpLogger silences a component entirely, which tests use to keep output
// quiet.
package log
