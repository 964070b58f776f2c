// Package crawl implements the batch crawl controller: it walks a category's
// listing pages, enriches each discovered product from its detail page, and
// reconciles the merged records into storage.
//
// The controller is a small state machine. Listing navigation failures are
// fatal after retries; everything scoped to a single page or record (a
// lockout, a dead detail link, a rejected record) is isolated and the crawl
// moves on.
package crawl

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"catcrawl/internal/extract"
	"catcrawl/internal/metrics"
	"catcrawl/internal/model"
	"catcrawl/internal/profile"
	"catcrawl/internal/render"
	"catcrawl/internal/retry"
	"catcrawl/internal/stability"
	"catcrawl/internal/storage"
)

type state int

const (
	stateStart state = iota
	stateFetching
	stateExtracting
	stateAdvancing
	stateDone
	stateFailed
)

// maxConsecutiveBlocked bounds how many blocked listing pages in a row the
// crawl walks past before giving up. Affordance pagination re-loads the last
// listing page before clicking through, so a site that serves a challenge on
// every page would otherwise re-fetch the same URL without end.
const maxConsecutiveBlocked = 3

// FatalError aborts the whole crawl. Only listing-level navigation failures
// (the category root or a subsequent listing page, after retries) produce it.
type FatalError struct {
	Stage string
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("crawl aborted at %s: %v", e.Stage, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Options configures one crawl run.
type Options struct {
	Profile  *profile.Profile
	Category string

	// MaxPages and MaxItems bound the run; zero means unbounded. The item
	// budget halts mid-page: remaining tiles on the current page are not
	// visited.
	MaxPages int
	MaxItems int

	// MinSellerRating drops records whose extracted seller rating falls
	// below the threshold. Records without a rating pass.
	MinSellerRating float64

	Retry retry.Policy
	Gate  *stability.Gate
	Log   *logrus.Entry
}

// Stats summarizes one crawl run.
type Stats struct {
	PagesFetched int
	PagesBlocked int
	Candidates   int
	Inserted     int
	Updated      int
	Unchanged    int
	Rejected     int
	Filtered     int
	DetailErrors int
}

// Controller drives one crawl session. It owns neither the session nor the
// store; the caller closes both.
type Controller struct {
	session render.Session
	store   storage.Store
	opts    Options
	log     *logrus.Entry
}

// New constructs a controller. Options.Profile and Options.Gate are required.
func New(session render.Session, store storage.Store, opts Options) *Controller {
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Controller{
		session: session,
		store:   store,
		opts:    opts,
		log:     log.WithField("source", opts.Profile.Source),
	}
}

// Run executes the crawl to completion. The returned stats are valid even
// when err is non-nil: they describe the work done before the abort.
func (c *Controller) Run(ctx context.Context) (Stats, error) {
	var (
		stats         Stats
		st            = stateStart
		page          render.Page
		candidates    []extract.Candidate
		fatal         error
		blockedStreak int
	)

	p := c.opts.Profile
	listingURL := p.CategoryURL(c.opts.Category)
	currentListingURL := listingURL
	pageNum := 1

	for {
		switch st {
		case stateStart:
			c.log.WithField("url", listingURL).Info("starting crawl")
			var err error
			page, err = c.fetchListing(ctx, listingURL)
			if err != nil {
				fatal = &FatalError{Stage: "root navigation", Err: err}
				st = stateFailed
				continue
			}
			st = stateFetching

		case stateFetching:
			stats.PagesFetched++
			outcome, err := c.opts.Gate.Stabilize(ctx, page)
			if err != nil {
				fatal = &FatalError{Stage: "page stabilization", Err: err}
				st = stateFailed
				continue
			}
			if !outcome.Ready {
				stats.PagesBlocked++
				blockedStreak++
				metrics.IncCounter(metrics.MetricPagesTotal, 1,
					metrics.Labels{"source": p.Source, "status": "blocked"})
				c.log.WithFields(logrus.Fields{
					"page":   pageNum,
					"reason": outcome.Reason,
				}).Warn("listing page blocked, abandoning page")
				if blockedStreak >= maxConsecutiveBlocked {
					c.log.WithField("blocked", blockedStreak).Warn("giving up after consecutive blocked listing pages")
					st = stateDone
					continue
				}
				candidates = nil
				st = stateAdvancing
				continue
			}
			blockedStreak = 0
			metrics.IncCounter(metrics.MetricPagesTotal, 1,
				metrics.Labels{"source": p.Source, "status": "ok"})
			currentListingURL = page.URL()

			if p.Listing.Ready != "" {
				if err := page.WaitFor(ctx, p.Listing.Ready, 10*time.Second); err != nil {
					c.log.WithField("page", pageNum).Warn("listing never became ready, abandoning page")
					candidates = nil
					st = stateAdvancing
					continue
				}
			}

			html, err := page.HTML()
			if err != nil {
				fatal = &FatalError{Stage: "listing snapshot", Err: err}
				st = stateFailed
				continue
			}
			candidates, err = extract.Tiles(html, p, page.URL())
			if err != nil {
				fatal = &FatalError{Stage: "listing extraction", Err: err}
				st = stateFailed
				continue
			}
			st = stateExtracting

		case stateExtracting:
			if len(candidates) == 0 {
				c.log.WithField("page", pageNum).Info("no tiles on page, crawl complete")
				st = stateDone
				continue
			}
			budgetHit := false
			for _, cand := range candidates {
				if c.opts.MaxItems > 0 && stats.Candidates >= c.opts.MaxItems {
					c.log.WithField("items", stats.Candidates).Info("item budget reached, halting mid-page")
					budgetHit = true
					break
				}
				stats.Candidates++
				c.processCandidate(ctx, cand, &stats)
			}
			if budgetHit {
				st = stateDone
				continue
			}
			st = stateAdvancing

		case stateAdvancing:
			if err := ctx.Err(); err != nil {
				fatal = &FatalError{Stage: "advancing", Err: err}
				st = stateFailed
				continue
			}
			if c.opts.MaxPages > 0 && pageNum >= c.opts.MaxPages {
				c.log.WithField("pages", pageNum).Info("page budget reached")
				st = stateDone
				continue
			}

			next, err := c.advance(ctx, listingURL, currentListingURL, pageNum)
			if err != nil {
				fatal = &FatalError{Stage: "listing navigation", Err: err}
				st = stateFailed
				continue
			}
			if next == nil {
				c.log.WithField("pages", pageNum).Info("no further pages")
				st = stateDone
				continue
			}
			page = next
			pageNum++
			st = stateFetching

		case stateDone:
			c.logSummary(stats)
			return stats, nil

		case stateFailed:
			c.logSummary(stats)
			return stats, fatal
		}
	}
}

// fetchListing navigates to a listing URL under the retry policy and records
// retry metrics. The last navigation error propagates unchanged.
func (c *Controller) fetchListing(ctx context.Context, url string) (render.Page, error) {
	start := time.Now()
	attempts := 0
	page, err := retry.DoValue(ctx, c.opts.Retry, func(ctx context.Context) (render.Page, error) {
		attempts++
		return c.session.Navigate(ctx, url)
	})
	if attempts > 1 {
		metrics.IncCounter(metrics.MetricRetriesTotal, float64(attempts-1),
			metrics.Labels{"source": c.opts.Profile.Source, "op": "listing"})
	}
	if err == nil {
		metrics.ObserveHistogram(metrics.MetricPageSeconds, time.Since(start).Seconds(),
			metrics.Labels{"source": c.opts.Profile.Source, "kind": "listing"})
	}
	return page, err
}

// advance moves to the next listing page. Template-paginated profiles
// navigate directly; affordance-paginated profiles re-load the listing page
// just processed and click through, since detail visits left the session
// elsewhere. Returns (nil, nil) when there is no further page.
func (c *Controller) advance(ctx context.Context, listingURL, currentListingURL string, pageNum int) (render.Page, error) {
	p := c.opts.Profile

	if url, ok := p.PageURL(listingURL, pageNum+1); ok {
		page, err := c.fetchListing(ctx, url)
		if err != nil {
			return nil, err
		}
		return page, nil
	}

	page, err := c.fetchListing(ctx, currentListingURL)
	if err != nil {
		return nil, err
	}
	els, err := page.QueryAll(p.Listing.NextPage)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, nil
	}
	if err := page.Click(p.Listing.NextPage); err != nil {
		return nil, err
	}
	return page, nil
}

// processCandidate enriches one tile from its detail page and reconciles the
// merged record. All failures here are record-scoped: logged, counted, never
// fatal.
func (c *Controller) processCandidate(ctx context.Context, cand extract.Candidate, stats *Stats) {
	p := c.opts.Profile
	log := c.log.WithField("url", cand.DetailURL)

	rec, ok := c.enrich(ctx, cand, stats, log)
	if !ok {
		rec = cand.Partial
	}

	if c.opts.MinSellerRating > 0 && rec.Seller != nil {
		if rating, set := rec.Seller.Rating.Get(); set && rating < c.opts.MinSellerRating {
			stats.Filtered++
			metrics.IncCounter(metrics.MetricRecordsTotal, 1,
				metrics.Labels{"source": p.Source, "result": "filtered"})
			log.WithField("rating", rating).Debug("record below rating threshold, skipped")
			return
		}
	}

	if !rec.Valid() {
		stats.Rejected++
		metrics.IncCounter(metrics.MetricRecordsTotal, 1,
			metrics.Labels{"source": p.Source, "result": "rejected"})
		log.Warn("record has no name, rejected")
		return
	}

	if cols, err := storage.ScalarColumns(rec); err == nil {
		metrics.ObserveHistogram(metrics.MetricRecordFields, float64(len(cols)),
			metrics.Labels{"source": p.Source})
	}

	attempts := 0
	result, err := retry.DoValue(ctx, c.opts.Retry, func(ctx context.Context) (storage.Result, error) {
		attempts++
		return c.store.Reconcile(ctx, rec)
	})
	if attempts > 1 {
		metrics.IncCounter(metrics.MetricRetriesTotal, float64(attempts-1),
			metrics.Labels{"source": p.Source, "op": "reconcile"})
	}
	if err != nil {
		stats.DetailErrors++
		log.WithError(err).Error("reconcile failed, record dropped")
		return
	}

	switch result {
	case storage.ResultInserted:
		stats.Inserted++
	case storage.ResultUpdated:
		stats.Updated++
	case storage.ResultUnchanged:
		stats.Unchanged++
	}
	metrics.IncCounter(metrics.MetricRecordsTotal, 1,
		metrics.Labels{"source": p.Source, "result": result.String()})
	log.WithField("result", result.String()).Debug("record reconciled")
}

// enrich visits the detail page and merges its record over the tile partial.
// ok=false means the detail page was unreachable or blocked; the caller falls
// back to the partial record alone.
func (c *Controller) enrich(ctx context.Context, cand extract.Candidate, stats *Stats, log *logrus.Entry) (model.Product, bool) {
	p := c.opts.Profile

	start := time.Now()
	attempts := 0
	page, err := retry.DoValue(ctx, c.opts.Retry, func(ctx context.Context) (render.Page, error) {
		attempts++
		return c.session.Navigate(ctx, cand.DetailURL)
	})
	if attempts > 1 {
		metrics.IncCounter(metrics.MetricRetriesTotal, float64(attempts-1),
			metrics.Labels{"source": p.Source, "op": "detail"})
	}
	if err != nil {
		stats.DetailErrors++
		log.WithError(err).Warn("detail page unreachable, using tile data only")
		return model.Product{}, false
	}
	metrics.ObserveHistogram(metrics.MetricPageSeconds, time.Since(start).Seconds(),
		metrics.Labels{"source": p.Source, "kind": "detail"})

	outcome, err := c.opts.Gate.Stabilize(ctx, page)
	if err != nil {
		stats.DetailErrors++
		log.WithError(err).Warn("detail page stabilization failed, using tile data only")
		return model.Product{}, false
	}
	if !outcome.Ready {
		stats.PagesBlocked++
		metrics.IncCounter(metrics.MetricPagesTotal, 1,
			metrics.Labels{"source": p.Source, "status": "blocked"})
		log.WithField("reason", outcome.Reason).Warn("detail page blocked, using tile data only")
		return model.Product{}, false
	}

	if p.Detail.Ready != "" {
		if err := page.WaitFor(ctx, p.Detail.Ready, 10*time.Second); err != nil {
			log.Warn("detail page never became ready, using tile data only")
			return model.Product{}, false
		}
	}

	html, err := page.HTML()
	if err != nil {
		stats.DetailErrors++
		log.WithError(err).Warn("detail snapshot failed, using tile data only")
		return model.Product{}, false
	}
	detail, err := extract.Detail(html, p, page.URL())
	if err != nil {
		stats.DetailErrors++
		log.WithError(err).Warn("detail extraction failed, using tile data only")
		return model.Product{}, false
	}

	return model.Merge(cand.Partial, detail), true
}

func (c *Controller) logSummary(s Stats) {
	c.log.WithFields(logrus.Fields{
		"pages":    s.PagesFetched,
		"blocked":  s.PagesBlocked,
		"found":    s.Candidates,
		"inserted": s.Inserted,
		"updated":  s.Updated,
		"same":     s.Unchanged,
		"rejected": s.Rejected,
		"filtered": s.Filtered,
		"errors":   s.DetailErrors,
	}).Info("crawl finished")
}
