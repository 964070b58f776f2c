package render

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/sirupsen/logrus"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Options configures a rod-backed session.
type Options struct {
	Headless   bool
	UserAgent  string
	NavTimeout time.Duration
	// RequestIdleWindow is how long the network must stay quiet before a
	// WaitIdle call considers the page settled.
	RequestIdleWindow time.Duration
}

// RodSession implements Session on top of go-rod with the stealth preamble
// applied to every new document, matching how rendered catalog sites are
// usually fetched without tripping trivial automation checks.
type RodSession struct {
	browser *rod.Browser
	page    *rod.Page
	opts    Options
	log     *logrus.Entry
	lastURL string
}

// NewRodSession launches a browser and prepares a single reusable page.
// The caller owns the session and must Close it on every exit path.
func NewRodSession(opts Options, log *logrus.Entry) (*RodSession, error) {
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.NavTimeout <= 0 {
		opts.NavTimeout = 30 * time.Second
	}
	if opts.RequestIdleWindow <= 0 {
		opts.RequestIdleWindow = time.Second
	}

	u, err := launcher.New().
		Headless(opts.Headless).
		NoSandbox(true).
		Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("create page: %w", err)
	}
	if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("apply stealth script: %w", err)
	}
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: opts.UserAgent}); err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("set user agent: %w", err)
	}

	return &RodSession{
		browser: browser,
		page:    page,
		opts:    opts,
		log:     log,
	}, nil
}

// Navigate loads url on the session's page and waits for the load event.
func (s *RodSession) Navigate(ctx context.Context, url string) (Page, error) {
	p := s.page.Context(ctx).Timeout(s.opts.NavTimeout)

	if err := p.Navigate(url); err != nil {
		return nil, &NavigationError{URL: url, Err: err}
	}
	if err := p.WaitLoad(); err != nil {
		return nil, &NavigationError{URL: url, Err: err}
	}

	s.lastURL = url
	return &rodPage{page: s.page, sess: s}, nil
}

// Close shuts the browser down.
func (s *RodSession) Close() error {
	return s.browser.Close()
}

type rodPage struct {
	page *rod.Page
	sess *RodSession
}

func (p *rodPage) URL() string {
	info, err := p.page.Info()
	if err != nil || info.URL == "" {
		return p.sess.lastURL
	}
	return info.URL
}

func (p *rodPage) HTML() (string, error) {
	return p.page.HTML()
}

func (p *rodPage) WaitIdle(ctx context.Context, timeout time.Duration) error {
	wait := p.page.Context(ctx).Timeout(timeout).
		WaitRequestIdle(p.sess.opts.RequestIdleWindow, nil, nil, nil)
	wait()
	// A timeout here is not fatal: lazy beacons can keep a page from ever
	// going fully quiet. The stability gate's settle delay covers the rest.
	return nil
}

func (p *rodPage) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	if _, err := p.page.Context(ctx).Timeout(timeout).Element(selector); err != nil {
		return &TimeoutError{Op: "wait for", Selector: selector, Err: err}
	}
	return nil
}

func (p *rodPage) QueryAll(selector string) ([]Element, error) {
	els, err := p.page.Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	out := make([]Element, 0, len(els))
	for _, el := range els {
		out = append(out, &rodElement{el: el})
	}
	return out, nil
}

func (p *rodPage) Click(selector string) error {
	els, err := p.page.Elements(selector)
	if err != nil {
		return fmt.Errorf("query %q: %w", selector, err)
	}
	if len(els) == 0 {
		return fmt.Errorf("click %q: no match", selector)
	}
	return (&rodElement{el: els[0]}).Click()
}

type rodElement struct {
	el *rod.Element
}

func (e *rodElement) Text() (string, bool) {
	t, err := e.el.Text()
	if err != nil {
		return "", false
	}
	return t, true
}

func (e *rodElement) Attribute(name string) (string, bool) {
	v, err := e.el.Attribute(name)
	if err != nil || v == nil {
		return "", false
	}
	return *v, true
}

func (e *rodElement) Click() error {
	return e.el.Click(proto.InputMouseButtonLeft, 1)
}
