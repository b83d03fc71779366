package task

import (
	"errors"
	"fmt"
)

// ErrUnknownFunc is wrapped by the crawl error raised for an unregistered func_name.
var ErrUnknownFunc = errors.New("unknown func_name")

// CrawlError is the task-scoped failure of the crawl phase.
type CrawlError struct {
	Traceback string
	Err       error
}

// NewCrawlError captures err as a crawl failure.
func NewCrawlError(err error) *CrawlError {
	return &CrawlError{Traceback: traceback("crawl", err), Err: err}
}

func (e *CrawlError) Error() string { return "crawl error: " + e.Traceback }

func (e *CrawlError) Unwrap() error { return e.Err }

// ProcessError is the task-scoped failure of the process phase.
type ProcessError struct {
	Traceback string
	Err       error
}

// NewProcessError captures err as a process failure.
func NewProcessError(err error) *ProcessError {
	return &ProcessError{Traceback: traceback("process", err), Err: err}
}

func (e *ProcessError) Error() string { return "process error: " + e.Traceback }

func (e *ProcessError) Unwrap() error { return e.Err }

// traceback renders the wrapped chain one cause per line, outermost first.
// Goroutine ids and addresses are left out so identical failures hash identically.
func traceback(phase string, err error) string {
	if err == nil {
		return phase + ": unknown failure"
	}
	out := fmt.Sprintf("%s: %T: %s", phase, err, err.Error())
	for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
		out += fmt.Sprintf("\n  caused by %T: %s", cause, cause.Error())
	}
	return out
}
