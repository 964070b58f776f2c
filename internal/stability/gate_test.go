package stability

import (
	"context"
	"errors"
	"testing"
	"time"

	"catcrawl/internal/render"
)

// fakePage implements render.Page with canned selector matches.
type fakePage struct {
	matches map[string][]*fakeElement
	idle    int
}

func (p *fakePage) URL() string           { return "http://example.test" }
func (p *fakePage) HTML() (string, error) { return "", nil }

func (p *fakePage) WaitIdle(context.Context, time.Duration) error {
	p.idle++
	return nil
}

func (p *fakePage) WaitFor(context.Context, string, time.Duration) error { return nil }

func (p *fakePage) QueryAll(selector string) ([]render.Element, error) {
	els := p.matches[selector]
	out := make([]render.Element, 0, len(els))
	for _, el := range els {
		out = append(out, el)
	}
	return out, nil
}

func (p *fakePage) Click(selector string) error {
	if els := p.matches[selector]; len(els) > 0 {
		return els[0].Click()
	}
	return errors.New("no match")
}

type fakeElement struct {
	clicks   int
	clickErr error
}

func (e *fakeElement) Text() (string, bool)            { return "", false }
func (e *fakeElement) Attribute(string) (string, bool) { return "", false }

func (e *fakeElement) Click() error {
	e.clicks++
	return e.clickErr
}

func noSleep(context.Context, time.Duration) error { return nil }

// TestStabilize_Ready verifies the happy path: idle wait, settle, no markers.
func TestStabilize_Ready(t *testing.T) {
	t.Parallel()

	page := &fakePage{matches: map[string][]*fakeElement{}}
	g := &Gate{Lockout: []string{`input[name="captcha"]`}, sleep: noSleep}

	out, err := g.Stabilize(context.Background(), page)
	if err != nil {
		t.Fatalf("Stabilize: %v", err)
	}
	if !out.Ready {
		t.Fatalf("expected Ready, got Blocked(%q)", out.Reason)
	}
	if page.idle != 1 {
		t.Fatalf("expected one WaitIdle call, got %d", page.idle)
	}
}

// TestStabilize_Blocked verifies a lockout marker yields Blocked, not an
// error: the caller decides whether to abandon the page or escalate.
func TestStabilize_Blocked(t *testing.T) {
	t.Parallel()

	page := &fakePage{matches: map[string][]*fakeElement{
		`input[name="captcha"]`: {{}},
	}}
	g := &Gate{Lockout: []string{`input[name="captcha"]`}, sleep: noSleep}

	out, err := g.Stabilize(context.Background(), page)
	if err != nil {
		t.Fatalf("Stabilize: %v", err)
	}
	if out.Ready {
		t.Fatalf("expected Blocked")
	}
	if out.Reason != `input[name="captcha"]` {
		t.Fatalf("unexpected reason %q", out.Reason)
	}
}

// TestStabilize_ConsentBestEffort verifies interstitials are clicked when
// present and that a failing dismissal does not fail the gate.
func TestStabilize_ConsentBestEffort(t *testing.T) {
	t.Parallel()

	ok := &fakeElement{}
	broken := &fakeElement{clickErr: errors.New("detached")}
	page := &fakePage{matches: map[string][]*fakeElement{
		"#accept-cookies": {ok},
		"#newsletter":     {broken},
	}}
	g := &Gate{Consent: []string{"#accept-cookies", "#newsletter"}, sleep: noSleep}

	out, err := g.Stabilize(context.Background(), page)
	if err != nil {
		t.Fatalf("Stabilize: %v", err)
	}
	if !out.Ready {
		t.Fatalf("expected Ready despite consent failure")
	}
	if ok.clicks != 1 || broken.clicks != 1 {
		t.Fatalf("expected both interstitials clicked once, got %d/%d", ok.clicks, broken.clicks)
	}
}

// TestSettle_Bounds verifies the jittered delay stays within configured
// bounds.
func TestSettle_Bounds(t *testing.T) {
	t.Parallel()

	var got time.Duration
	g := &Gate{
		SettleMin: 200 * time.Millisecond,
		SettleMax: 300 * time.Millisecond,
		sleep: func(_ context.Context, d time.Duration) error {
			got = d
			return nil
		},
	}
	for range 20 {
		if err := g.settle(context.Background()); err != nil {
			t.Fatalf("settle: %v", err)
		}
		if got < 200*time.Millisecond || got > 300*time.Millisecond {
			t.Fatalf("settle delay %v outside [200ms, 300ms]", got)
		}
	}
}
