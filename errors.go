package llama2

import "github.com/llama2core/llama2core/internal/apierr"

// Sentinel error kinds from spec §7, checked with errors.Is. These alias
// the values returned by the weights and tokenizer subpackages so callers
// never need to import internal/apierr directly.
var (
	ErrVersionMismatch = apierr.ErrVersionMismatch
	ErrBadPath         = apierr.ErrBadPath
	ErrIoError         = apierr.ErrIoError
	ErrBadFormat       = apierr.ErrBadFormat
	ErrResourceLimit   = apierr.ErrResourceLimit
	ErrBadConfig       = apierr.ErrBadConfig
	ErrBadState        = apierr.ErrBadState
)
