// Package inference - Inference runtime sessions.
package inference

import (
	"io"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Session owns the inference runtime and the models built on it.
//
// Every detector configuration starts with Reset, which releases the models
// built by earlier configurations and re-initializes the runtime, so a
// configuration never inherits state from a previous one.
type Session struct {
	mu      sync.Mutex
	runtime Runtime
	logger  *zap.Logger
	models  []io.Closer
	resets  int
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithRuntime sets the backend runtime. The default is NopRuntime.
func WithRuntime(r Runtime) SessionOption {
	return func(s *Session) {
		s.runtime = r
	}
}

// WithSessionLogger sets the logger.
func WithSessionLogger(l *zap.Logger) SessionOption {
	return func(s *Session) {
		s.logger = l
	}
}

// NewSession creates a session. The runtime is not initialized until Reset.
func NewSession(opts ...SessionOption) *Session {
	s := &Session{
		runtime: NopRuntime{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	defaultOnce    sync.Once
	defaultSession *Session
)

// Default returns the process-wide session shared by configurators that are
// not given one explicitly.
func Default() *Session {
	defaultOnce.Do(func() {
		defaultSession = NewSession()
	})
	return defaultSession
}

// Reset closes every tracked model and re-initializes the runtime.
//
// Returns:
//   - error: The combined close errors, or the runtime initialization error.
//     Tracked models are released even when closing one of them fails.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	for _, m := range s.models {
		err = multierr.Append(err, m.Close())
	}
	released := len(s.models)
	s.models = nil

	if rerr := s.runtime.Reset(); rerr != nil {
		err = multierr.Append(err, errors.Wrap(rerr, "reset runtime"))
	}
	s.resets++

	s.logger.Debug("inference session reset",
		zap.Int("released_models", released),
		zap.Int("resets", s.resets),
		zap.Error(err),
	)

	return err
}

// Track registers a model to be released by the next Reset or Close.
func (s *Session) Track(m io.Closer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models = append(s.models, m)
}

// Tracked returns the number of models awaiting release.
func (s *Session) Tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.models)
}

// Close releases every tracked model and the runtime.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	for _, m := range s.models {
		err = multierr.Append(err, m.Close())
	}
	s.models = nil

	return multierr.Append(err, s.runtime.Close())
}
