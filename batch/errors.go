package batch

import (
	"errors"
	"fmt"
)

// ErrPipelineClosed is returned by Get once the pipeline has been shut down.
var ErrPipelineClosed = errors.New("pipeline closed")

// ErrAlreadyStarted is returned when Start is called twice.
var ErrAlreadyStarted = errors.New("pipeline already started")

// ErrNotStarted is returned by Get before Start.
var ErrNotStarted = errors.New("pipeline not started")

// ConfigError is returned when the pipeline options are rejected. Err joins
// every violation found.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid pipeline config: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ReaderError is returned when a record reader fails.
type ReaderError struct {
	Worker int
	Err    error
}

func (e *ReaderError) Error() string {
	return fmt.Sprintf("reader %d: %v", e.Worker, e.Err)
}

func (e *ReaderError) Unwrap() error {
	return e.Err
}

// TransformError is returned when a record transformer fails.
type TransformError struct {
	Worker int
	Err    error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transformer %d: %v", e.Worker, e.Err)
}

func (e *TransformError) Unwrap() error {
	return e.Err
}

// FetchError is returned when a batch fetcher fails.
type FetchError struct {
	Worker int
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetcher %d: %v", e.Worker, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
