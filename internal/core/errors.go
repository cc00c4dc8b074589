package core

import (
	"errors"
	"fmt"
)

// The pipeline components raise typed failures; the consumer loop is the only
// place that turns them into retry, dead-letter or fatal decisions.

// NotFoundError means the document reference does not exist in storage.
type NotFoundError struct {
	Ref string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("document not found: %s", e.Ref)
}

// TransientIOError covers network, timeout and rate-limit failures that are
// worth retrying with backoff.
type TransientIOError struct {
	Op  string
	Err error
}

func (e *TransientIOError) Error() string {
	return fmt.Sprintf("transient %s failure: %v", e.Op, e.Err)
}

func (e *TransientIOError) Unwrap() error { return e.Err }

// CorruptDocumentError means the document bytes cannot be parsed. Not
// retryable; the event goes to the dead-letter topic.
type CorruptDocumentError struct {
	Ref string
	Err error
}

func (e *CorruptDocumentError) Error() string {
	return fmt.Sprintf("corrupt document %s: %v", e.Ref, e.Err)
}

func (e *CorruptDocumentError) Unwrap() error { return e.Err }

// InvalidInputError means a chunk cannot be embedded (empty text, over the
// model limit). Not retryable.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid embedding input: %s", e.Reason)
}

// IndexWriteError means the vector index rejected a batch write. Retryable
// up to the budget.
type IndexWriteError struct {
	Err error
}

func (e *IndexWriteError) Error() string {
	return fmt.Sprintf("index write failed: %v", e.Err)
}

func (e *IndexWriteError) Unwrap() error { return e.Err }

// ConfigurationError is fatal at startup; the process exits non-zero before
// consuming any event.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Key, e.Reason)
}

// ErrDimensionMismatch marks an embedding whose length does not match the
// configured index dimension. Checked before any upsert is attempted.
var ErrDimensionMismatch = errors.New("dimension mismatch")

// Retryable reports whether the pipeline may retry the failing stage.
// Everything typed as transient or an index write is retryable; data problems
// and unknown errors are not.
func Retryable(err error) bool {
	var tioe *TransientIOError
	if errors.As(err, &tioe) {
		return true
	}
	var iwe *IndexWriteError
	return errors.As(err, &iwe)
}
