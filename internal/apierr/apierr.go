// Package apierr defines the sentinel error kinds shared across the engine's
// public packages. It exists so that weights, tokenizer and the root llama2
// package can all return (and callers can all errors.Is-match) the same
// values without the root package importing its own subpackages and those
// subpackages importing the root package back.
package apierr

import "errors"

var (
	// ErrVersionMismatch: configuration api version does not match the
	// compiled constant.
	ErrVersionMismatch = errors.New("llama2core: api version mismatch")

	// ErrBadPath: a checkpoint or tokenizer path was empty or unreadable.
	ErrBadPath = errors.New("llama2core: bad path")

	// ErrIoError: a file could be opened but not read.
	ErrIoError = errors.New("llama2core: io error")

	// ErrBadFormat: header magic/version wrong, or declared shapes disagree
	// with the data actually present.
	ErrBadFormat = errors.New("llama2core: bad file format")

	// ErrResourceLimit: session creation exceeded max_sessions, or a paged
	// cache budget is smaller than the largest tensor it must hold.
	ErrResourceLimit = errors.New("llama2core: resource limit exceeded")

	// ErrBadConfig: a configuration field is internally inconsistent, e.g.
	// absolute access without model_base/size, or cache mode with a zero
	// cache_limit.
	ErrBadConfig = errors.New("llama2core: bad configuration")

	// ErrBadState: an operation was attempted on a session that is no
	// longer live.
	ErrBadState = errors.New("llama2core: bad session state")
)
