package domain

import "errors"

// Failure kinds of the image cache. None of them reach UI callers; they are
// logged and counted, and the caller falls back to the remote URL.
var (
	ErrNetwork = errors.New("network failure")
	ErrStorage = errors.New("storage failure")
	ErrDecode  = errors.New("decode failure")

	// ErrEmptyContent is a storage failure: a zero-byte write is never cached.
	ErrEmptyContent = errors.Join(ErrStorage, errors.New("zero-byte content"))
)

// FailureKind classifies err into a metric label.
func FailureKind(err error) string {
	switch {
	case errors.Is(err, ErrEmptyContent):
		return "empty"
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrStorage):
		return "storage"
	default:
		return "unknown"
	}
}
