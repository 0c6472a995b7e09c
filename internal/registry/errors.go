package registry

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	ErrNotFound  = errors.New("not found")
	ErrCorrupt   = errors.New("corrupt bundle")
	ErrTransport = errors.New("transport failure")
)

// Error describes a failed registry operation. Err is the underlying cause.
type Error struct {
	Op     string
	Bucket string
	Key    string
	Kind   error
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("registry %s %s/%s: %s", e.Op, e.Bucket, e.Key, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func (r *Registry) errorf(op, key string, kind, err error) error {
	return &Error{Op: op, Bucket: r.bucket, Key: key, Kind: kind, Err: err}
}
