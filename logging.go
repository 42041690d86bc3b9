package runonce

import (
	"log/slog"
)

// Logger is the optional side channel described in spec section 6.3. All
// methods must be no-op-safe: a panicking or slow sink must never perturb
// the coordinator's state machine. Callers that don't supply one get
// noopLogger, which discards everything.
type Logger interface {
	Started(key string)
	Retry(key string)
	Replay(key string)
	Finished(key string)
	Timeout(key string, err error)
	Error(key string, err error)
	AlreadyRunning(key string)
	MarkRetryable(key string)
	MarkNonRetryable(key string)
}

type noopLogger struct{}

func (noopLogger) Started(string)          {}
func (noopLogger) Retry(string)            {}
func (noopLogger) Replay(string)           {}
func (noopLogger) Finished(string)         {}
func (noopLogger) Timeout(string, error)   {}
func (noopLogger) Error(string, error)     {}
func (noopLogger) AlreadyRunning(string)   {}
func (noopLogger) MarkRetryable(string)    {}
func (noopLogger) MarkNonRetryable(string) {}

// SlogLogger adapts Logger onto log/slog, matching the JSON-structured
// logging the rest of this module's ambient stack uses.
type SlogLogger struct {
	log *slog.Logger
}

// NewSlogLogger wraps log. A nil log falls back to slog.Default().
func NewSlogLogger(log *slog.Logger) *SlogLogger {
	if log == nil {
		log = slog.Default()
	}
	return &SlogLogger{log: log}
}

func (s *SlogLogger) Started(key string) {
	s.log.Info("runonce started", "key", key)
}

func (s *SlogLogger) Retry(key string) {
	s.log.Info("runonce retry", "key", key)
}

func (s *SlogLogger) Replay(key string) {
	s.log.Info("runonce replay", "key", key)
}

func (s *SlogLogger) Finished(key string) {
	s.log.Info("runonce finished", "key", key)
}

func (s *SlogLogger) Timeout(key string, err error) {
	s.log.Warn("runonce timeout", "key", key, "error", err)
}

func (s *SlogLogger) Error(key string, err error) {
	s.log.Error("runonce error", "key", key, "error", err)
}

func (s *SlogLogger) AlreadyRunning(key string) {
	s.log.Info("runonce already_running", "key", key)
}

func (s *SlogLogger) MarkRetryable(key string) {
	s.log.Info("runonce mark_retryable", "key", key)
}

func (s *SlogLogger) MarkNonRetryable(key string) {
	s.log.Info("runonce mark_non_retryable", "key", key)
}

// safeCall invokes fn and recovers from any panic, so a misbehaving logging
// sink can never perturb the coordinator's state machine. Per spec section
// 5, logging failures are swallowed.
func safeCall(fn func()) {
	defer func() {
		_ = recover()
	}()
	fn()
}
