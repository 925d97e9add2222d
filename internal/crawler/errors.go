package crawler

import (
	"errors"
	"fmt"
)

// ErrNotConfigured is returned by Start when no strategy has been set.
var ErrNotConfigured = errors.New("crawl strategy not set; call SetStrategy first")

// ErrAlreadyStarted is returned by Start on a non-idle engine. Engines are
// single-session; build a new one per crawl.
var ErrAlreadyStarted = errors.New("engine already started")

// ConfigError is a fatal construction-time error. The engine never reaches
// StateRunning when one is raised.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func configErrorf(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
}

// FetchErrorKind classifies fetch failures.
type FetchErrorKind string

// Fetch failure classes.
const (
	FetchErrTimeout    FetchErrorKind = "timeout"
	FetchErrConnection FetchErrorKind = "connection"
	FetchErrHTTP       FetchErrorKind = "http"
	FetchErrParse      FetchErrorKind = "parse"
)

// FetchError wraps a failed fetch attempt. Retriable errors are retried
// against the next proxy in rotation; non-retriable ones drop the URL
// immediately. A fetch failure never fails the whole session.
type FetchError struct {
	Kind       FetchErrorKind
	StatusCode int
	Retriable  bool
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsRetriable reports whether err is a FetchError marked retriable.
func IsRetriable(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Retriable
}
