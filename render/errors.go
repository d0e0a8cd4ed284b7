package render

import "errors"

var (
	// ErrTargetMissing means there was nowhere to draw. No fallback is possible.
	ErrTargetMissing = errors.New("render target missing")
	// ErrEncoderUnavailable means the QR capability never became ready.
	ErrEncoderUnavailable = errors.New("qr encoder unavailable")
	// ErrEncodeFailed means the encoder reported an error.
	ErrEncodeFailed = errors.New("qr encode failed")
	// ErrEncodeThrew means the encoder panicked.
	ErrEncodeThrew = errors.New("qr encoder panicked")
)

// Reasons logged and reported with every failed render.
const (
	ReasonLibraryNotLoaded = "library not loaded"
	ReasonTimeout          = "timeout"
	ReasonEncodeError      = "encode error"
	ReasonEncodeException  = "encode exception"
	ReasonTargetMissing    = "target missing"
	ReasonTargetError      = "target error"
)

// failure pairs a taxonomy error with the reason string reported for it.
type failure struct {
	reason string
	err    error
}

func (f *failure) Error() string { return f.reason + ": " + f.err.Error() }

func (f *failure) Unwrap() error { return f.err }

// Reason returns the reason string carried by err, or "" when err did not
// come from a render.
func Reason(err error) string {
	var f *failure
	if errors.As(err, &f) {
		return f.reason
	}
	return ""
}
