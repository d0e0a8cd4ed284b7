package render

import (
	"fmt"
	"html"
	"reflect"
	"strings"
	"sync"
)

// Target is a display region a render writes into. Each call replaces the
// previous content wholesale. The renderer never keeps a target beyond the
// render that was given it.
type Target interface {
	ShowImage(a *Artifact, size Size) error
	ShowFallback(f Fallback) error
}

// isNilTarget catches both a nil interface and a typed nil pointer.
func isNilTarget(t Target) bool {
	if t == nil {
		return true
	}
	v := reflect.ValueOf(t)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface:
		return v.IsNil()
	}
	return false
}

// ContentKind describes what an Element currently shows.
type ContentKind string

const (
	ContentEmpty    ContentKind = "empty"
	ContentImage    ContentKind = "image"
	ContentFallback ContentKind = "fallback"
)

// Element is an HTML container held in memory, the server-side equivalent of
// a page's QR <div>.
type Element struct {
	id string

	mu       sync.RWMutex
	kind     ContentKind
	inner    string
	artifact *Artifact
	fallback *Fallback
}

// NewElement returns an empty container with the given DOM id.
func NewElement(id string) *Element {
	return &Element{id: id, kind: ContentEmpty}
}

func (e *Element) ShowImage(a *Artifact, size Size) error {
	if a == nil {
		return fmt.Errorf("show image: nil artifact")
	}

	var inner string
	style := fmt.Sprintf("display: block; margin: 0 auto; border-radius: 4px; background: white; width: %dpx; height: %dpx; -webkit-print-color-adjust: exact; print-color-adjust: exact;", size.Width, size.Height)
	if strings.HasPrefix(a.MIME, "text/") {
		inner = fmt.Sprintf(`<pre class="qr-code" style="line-height: 1; font-size: 6px;">%s</pre>`, html.EscapeString(string(a.Data)))
	} else {
		inner = fmt.Sprintf(`<img class="qr-code" alt="Ticket QR code" src="%s" width="%d" height="%d" style="%s">`,
			a.DataURL(), size.Width, size.Height, style)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.kind = ContentImage
	e.inner = inner
	e.artifact = a
	e.fallback = nil
	return nil
}

func (e *Element) ShowFallback(f Fallback) error {
	inner := f.HTML()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.kind = ContentFallback
	e.inner = inner
	e.artifact = nil
	e.fallback = &f
	return nil
}

// ID returns the container's DOM id.
func (e *Element) ID() string { return e.id }

// Kind reports what the container currently shows.
func (e *Element) Kind() ContentKind {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.kind
}

// InnerHTML returns the current content without the wrapping container.
func (e *Element) InnerHTML() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.inner
}

// Artifact returns the image currently installed, or nil.
func (e *Element) Artifact() *Artifact {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.artifact
}

// Fallback returns the placeholder currently shown, or nil.
func (e *Element) Fallback() *Fallback {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.fallback == nil {
		return nil
	}
	f := *e.fallback
	return &f
}

// HTML returns the full container. data-qr-ready is "true" only while a real
// code is installed, so print logic can tell a scannable ticket from a
// degraded one.
func (e *Element) HTML() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fmt.Sprintf(`<div id="%s" class="qr-container" data-qr-state="%s" data-qr-ready="%t">%s</div>`,
		html.EscapeString(e.id), e.kind, e.kind == ContentImage, e.inner)
}
