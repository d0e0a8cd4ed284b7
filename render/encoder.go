package render

import (
	"context"
	"encoding/base64"
	"sync"
)

// Artifact is an encoded QR code as produced by an Encoder.
type Artifact struct {
	Payload string `json:"payload"`
	MIME    string `json:"mime"`
	Data    []byte `json:"data"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
}

// DataURL returns the artifact as a data: URL usable in an <img src>.
func (a *Artifact) DataURL() string {
	return "data:" + a.MIME + ";base64," + base64.StdEncoding.EncodeToString(a.Data)
}

// Encoder is the external QR capability. Implementations may be slow but
// must be safe for concurrent use.
type Encoder interface {
	Encode(ctx context.Context, payload string, opts Options) (*Artifact, error)
}

// EncoderSource reports whether the QR capability has finished loading.
type EncoderSource interface {
	Encoder() (Encoder, bool)
}

// SourceFunc adapts a function to EncoderSource.
type SourceFunc func() (Encoder, bool)

func (f SourceFunc) Encoder() (Encoder, bool) { return f() }

// Static returns a source that is ready immediately with enc.
func Static(enc Encoder) EncoderSource {
	return SourceFunc(func() (Encoder, bool) { return enc, enc != nil })
}

// Registry is an EncoderSource whose encoder is installed at some point after
// start-up, e.g. once a slower backend has warmed up.
type Registry struct {
	mu  sync.RWMutex
	enc Encoder
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Install makes enc available to waiting renders. Passing nil unloads it.
func (r *Registry) Install(enc Encoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enc = enc
}

func (r *Registry) Encoder() (Encoder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enc, r.enc != nil
}

// Ready reports whether an encoder is installed.
func (r *Registry) Ready() bool {
	_, ok := r.Encoder()
	return ok
}
