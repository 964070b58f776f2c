// Command crawl runs one catalog crawl job: it walks a category's listing
// pages on a profiled site, extracts product records, and reconciles them
// into the configured store.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"catcrawl/internal/config"
	"catcrawl/internal/crawl"
	"catcrawl/internal/metrics"
	"catcrawl/internal/metrics/datadog"
	"catcrawl/internal/profile"
	"catcrawl/internal/render"
	"catcrawl/internal/retry"
	"catcrawl/internal/stability"
	"catcrawl/internal/storage"

	// register all backends with the storage factory; the config selects
	// which one to use.
	_ "catcrawl/internal/storage/all"
)

func main() {
	var (
		cfgPath        string
		metricsBackend string
		validate       bool
		verbose        bool

		source      string
		category    string
		maxPages    int
		maxItems    int
		minRating   float64
		storageKind string
		storageDSN  string
	)

	flag.StringVar(&cfgPath, "config", "configs/jobs/sample.json", "crawl job config JSON path")
	flag.StringVar(&metricsBackend, "metrics-backend", "none", "metrics backend to use (datadog, none)")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	flag.BoolVar(&verbose, "v", false, "enable verbose logs")

	// Per-run overrides of the config file.
	flag.StringVar(&source, "source", "", "override the site profile to crawl")
	flag.StringVar(&category, "category", "", "override the category to crawl")
	flag.IntVar(&maxPages, "max-pages", -1, "override the page budget (0 = unbounded)")
	flag.IntVar(&maxItems, "max-items", -1, "override the item budget (0 = unbounded)")
	flag.Float64Var(&minRating, "min-rating", -1, "override the minimum seller rating")
	flag.StringVar(&storageKind, "storage-kind", "", "override the storage backend kind")
	flag.StringVar(&storageDSN, "dsn", "", "override the storage DSN")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	log := logrus.WithField("cmd", "crawl")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatalf("load config: %v", err)
	}

	if source != "" {
		cfg.Source = source
	}
	if category != "" {
		cfg.Category = category
	}
	if maxPages >= 0 {
		cfg.Crawl.MaxPages = maxPages
	}
	if maxItems >= 0 {
		cfg.Crawl.MaxItems = maxItems
	}
	if minRating >= 0 {
		cfg.Crawl.MinSellerRating = minRating
	}
	if storageKind != "" {
		cfg.Storage.Kind = storageKind
	}
	if storageDSN != "" {
		cfg.Storage.DSN = storageDSN
	}

	issues := config.Validate(cfg)
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasError(issues) {
		fatalf("configuration is invalid: %s", cfgPath)
	}
	if validate {
		log.WithField("config", cfgPath).Info("configuration is valid")
		return
	}

	setupMetrics(metricsBackend, cfg, log)
	// Close stops the flush loop and performs the final flush.
	defer func() {
		if err := metrics.Close(); err != nil {
			log.WithError(err).Warn("metrics flush failed")
		}
	}()

	prof, err := profile.LoadFor(cfg.ProfileDir, cfg.Source)
	if err != nil {
		fatalf("load profile: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		fatalf("connect storage: %v", err)
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		fatalf("ensure schema: %v", err)
	}

	headless := true
	if cfg.Browser.Headless != nil {
		headless = *cfg.Browser.Headless
	}
	session, err := render.NewRodSession(render.Options{
		Headless:          headless,
		UserAgent:         cfg.Browser.UserAgent,
		NavTimeout:        time.Duration(cfg.Browser.NavTimeoutS) * time.Second,
		RequestIdleWindow: time.Duration(cfg.Browser.RequestIdleS) * time.Second,
	}, log)
	if err != nil {
		fatalf("start browser: %v", err)
	}
	defer session.Close()

	ctrl := crawl.New(session, store, crawl.Options{
		Profile:         prof,
		Category:        cfg.Category,
		MaxPages:        cfg.Crawl.MaxPages,
		MaxItems:        cfg.Crawl.MaxItems,
		MinSellerRating: cfg.Crawl.MinSellerRating,
		Retry:           retryPolicy(cfg.Retry),
		Gate:            gate(cfg, prof, log),
		Log:             log,
	})

	start := time.Now()
	stats, err := ctrl.Run(ctx)
	if err != nil {
		log.WithError(err).WithField("stats", fmt.Sprintf("%+v", stats)).Error("crawl failed")
		os.Exit(1)
	}
	log.WithField("elapsed", time.Since(start).Truncate(time.Millisecond)).Info("done")
}

func retryPolicy(rc config.RetryConfig) retry.Policy {
	attempts := rc.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	base := time.Duration(rc.BaseDelayMS) * time.Millisecond
	if base <= 0 {
		base = time.Second
	}
	return retry.Policy{MaxAttempts: attempts, BaseDelay: base}
}

func gate(cfg config.Config, prof *profile.Profile, log *logrus.Entry) *stability.Gate {
	g := &stability.Gate{
		SettleMin:   time.Duration(cfg.Gate.SettleMinMS) * time.Millisecond,
		SettleMax:   time.Duration(cfg.Gate.SettleMaxMS) * time.Millisecond,
		IdleTimeout: time.Duration(cfg.Gate.IdleTimeoutS) * time.Second,
		Lockout:     prof.Lockout,
		Consent:     prof.Consent,
		Log:         log,
	}
	return g
}

func setupMetrics(backendName string, cfg config.Config, log *logrus.Entry) {
	switch backendName {
	case "datadog":
		jobName := cfg.Job
		if jobName == "" {
			jobName = "catcrawl"
		}
		b, err := datadog.NewBackend(context.Background(), datadog.Options{
			JobName: jobName,
			Tags:    datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS")),
		})
		if err != nil {
			log.WithError(err).Warn("datadog metrics init failed; metrics disabled")
			return
		}
		metrics.SetBackend(b)
	case "", "none":
		// nop backend remains
	default:
		log.WithField("backend", backendName).Warn("unknown metrics backend; metrics disabled")
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
