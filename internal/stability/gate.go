// Package stability implements the pre-extraction gate: a fetched page must
// be quiescent and free of known lockout conditions before any field is read.
package stability

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"catcrawl/internal/render"
)

// Outcome is the gate's verdict for one page.
type Outcome struct {
	Ready bool
	// Reason names the lockout marker that matched when Ready is false.
	Reason string
}

// Gate validates rendered pages. It never retries indefinitely and never
// attempts to solve a challenge: on a lockout marker it reports Blocked and
// leaves the decision to the caller.
type Gate struct {
	// SettleMin/SettleMax bound the jittered settle delay applied after
	// network quiescence to defeat lazy-loaded content.
	SettleMin time.Duration
	SettleMax time.Duration

	// IdleTimeout bounds the network-quiescence wait.
	IdleTimeout time.Duration

	// Lockout selectors mark pages presenting an automated-access
	// challenge (e.g. a captcha input).
	Lockout []string

	// Consent selectors match dismissable, non-blocking interstitials.
	// Dismissal is best-effort; failure to dismiss is not an error.
	Consent []string

	Log *logrus.Entry

	// sleep is a test seam. When nil, a context-aware timer sleep is used.
	sleep func(ctx context.Context, d time.Duration) error
}

// Stabilize waits the page out and probes it. The returned error reports
// renderer trouble only; a detected lockout is a Blocked outcome, not an
// error.
func (g *Gate) Stabilize(ctx context.Context, page render.Page) (Outcome, error) {
	idle := g.IdleTimeout
	if idle <= 0 {
		idle = 10 * time.Second
	}
	if err := page.WaitIdle(ctx, idle); err != nil {
		return Outcome{}, fmt.Errorf("wait idle: %w", err)
	}

	if err := g.settle(ctx); err != nil {
		return Outcome{}, err
	}

	g.dismissConsent(page)

	for _, sel := range g.Lockout {
		els, err := page.QueryAll(sel)
		if err != nil {
			return Outcome{}, fmt.Errorf("probe lockout %q: %w", sel, err)
		}
		if len(els) > 0 {
			if g.Log != nil {
				g.Log.WithField("marker", sel).Warn("lockout marker detected, abandoning page")
			}
			return Outcome{Ready: false, Reason: sel}, nil
		}
	}

	return Outcome{Ready: true}, nil
}

// settle sleeps a jittered delay within [SettleMin, SettleMax]. Defaults to
// 2-3 seconds when unconfigured.
func (g *Gate) settle(ctx context.Context) error {
	min, max := g.SettleMin, g.SettleMax
	if min <= 0 {
		min = 2 * time.Second
	}
	if max < min {
		max = min + time.Second
	}
	d := min
	if max > min {
		d += time.Duration(rand.Int63n(int64(max - min)))
	}

	sleep := g.sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	return sleep(ctx, d)
}

func (g *Gate) dismissConsent(page render.Page) {
	for _, sel := range g.Consent {
		els, err := page.QueryAll(sel)
		if err != nil || len(els) == 0 {
			continue
		}
		if err := els[0].Click(); err != nil {
			if g.Log != nil {
				g.Log.WithField("selector", sel).Debug("consent dismissal failed, continuing")
			}
			continue
		}
		if g.Log != nil {
			g.Log.WithField("selector", sel).Debug("dismissed consent interstitial")
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
