// Package render defines the rendering session contract the crawler consumes
// and its go-rod implementation.
//
// The crawler never talks to a browser directly: it depends on Session, Page
// and Element only, so tests can drive the crawl controller with canned HTML
// and the production binary can swap automation engines without touching the
// core. All operations may suspend (network-bound); nothing here assumes
// synchronous completion.
package render

import (
	"context"
	"fmt"
	"time"
)

// Session is one browser automation session. A session owns exactly one page
// in flight at a time and must not be shared across concurrent crawls.
type Session interface {
	// Navigate loads url and returns a handle to the rendered page.
	// Failures (DNS, timeout, renderer crash) surface as *NavigationError.
	Navigate(ctx context.Context, url string) (Page, error)

	// Close releases the underlying browser resources. Safe to call once.
	Close() error
}

// Page is a handle to the currently rendered document.
type Page interface {
	// URL returns the page's current address (it can differ from the
	// navigated URL after redirects or affordance clicks).
	URL() string

	// HTML returns a snapshot of the rendered DOM.
	HTML() (string, error)

	// WaitIdle blocks until network activity quiesces or timeout elapses.
	WaitIdle(ctx context.Context, timeout time.Duration) error

	// WaitFor blocks until selector matches or timeout elapses, in which
	// case it returns *TimeoutError.
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error

	// QueryAll returns all elements matching selector, possibly none.
	// A selector that matches nothing is not an error.
	QueryAll(selector string) ([]Element, error)

	// Click clicks the first element matching selector.
	Click(selector string) error
}

// Element is a handle to one rendered DOM node.
type Element interface {
	// Text returns the node's visible text. ok=false means the node could
	// not be read (detached, renderer gone) — absence, not failure.
	Text() (string, bool)

	// Attribute returns the named attribute. ok=false when absent.
	Attribute(name string) (string, bool)

	// Click clicks the element.
	Click() error
}

// NavigationError reports a page that failed to load.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigate %s: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// TimeoutError reports a wait that did not complete in time.
type TimeoutError struct {
	Op       string
	Selector string
	Err      error
}

func (e *TimeoutError) Error() string {
	if e.Selector != "" {
		return fmt.Sprintf("%s %q: timed out: %v", e.Op, e.Selector, e.Err)
	}
	return fmt.Sprintf("%s: timed out: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }
