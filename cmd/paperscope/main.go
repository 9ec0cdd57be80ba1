package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"

	"github.com/umputun/paperscope/pkg/collector"
	"github.com/umputun/paperscope/pkg/config"
	"github.com/umputun/paperscope/pkg/domain"
	"github.com/umputun/paperscope/pkg/notify"
	"github.com/umputun/paperscope/pkg/pipeline"
	"github.com/umputun/paperscope/pkg/repository"
)

// Opts with all CLI options
type Opts struct {
	Config string `short:"c" long:"config" env:"CONFIG" default:"paperscope.yml" description:"config file path"`
	DB     string `long:"db" env:"DB" description:"database DSN, overrides the config value"`
	DryRun bool   `long:"dry-run" description:"run the pipeline but skip notifications"`

	// Common options
	Debug   bool `long:"dbg" env:"DEBUG" description:"debug mode"`
	Version bool `short:"V" long:"version" description:"show version info"`
	NoColor bool `long:"no-color" env:"NO_COLOR" description:"disable color output"`
}

var revision = "unknown"

func main() {
	var opts Opts
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if opts.Version {
		fmt.Printf("Version: %s\nGolang: %s\n", revision, runtime.Version())
		os.Exit(0)
	}

	if opts.NoColor {
		color.NoColor = true
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}

	if opts.DB != "" {
		cfg.Database.DSN = opts.DB
	}

	setupLog(opts.Debug, cfg.Email.Password)

	log.Printf("[INFO] starting paperscope version %s", revision)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// handle termination signals
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		log.Print("[INFO] termination signal received")
		cancel()
	}()

	if err := run(ctx, cfg, opts.DryRun); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}

	log.Print("[INFO] run complete")
}

// run executes one pipeline pass and delivers the digest
func run(ctx context.Context, cfg *config.Config, dryRun bool) error {
	store, err := repository.NewSeenStore(ctx, repository.Config{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetime) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("open seen store: %w", err)
	}
	defer store.Close()

	collectors, err := makeCollectors(cfg)
	if err != nil {
		return err
	}

	p := pipeline.New(collectors, store, cfg.Policy(), cfg.RunOptions(), cfg.RetentionHorizon())
	res, err := p.Run(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	for id, srcErr := range res.SourceErrors {
		log.Printf("[WARN] source %s failed: %v", id, srcErr)
	}
	log.Printf("[INFO] collected %d, matched %d, new %d, duplicates %d",
		res.Collected, res.Matched, len(res.Articles), res.Duplicates)

	if dryRun {
		for _, a := range res.Articles {
			log.Printf("[INFO] dry-run: would notify about %s/%s %q", a.SourceID, a.ExternalID, a.Title)
		}
		return nil
	}

	if !cfg.Email.Enabled {
		for _, a := range res.Articles {
			log.Printf("[INFO] new article %s/%s %q %s", a.SourceID, a.ExternalID, a.Title, a.Link)
		}
		return nil
	}

	return deliver(ctx, cfg, store, res.Articles)
}

// deliver sends the digest including the unsent backlog of earlier failed
// runs, then stamps everything delivered
func deliver(ctx context.Context, cfg *config.Config, store *repository.SeenStore, articles []domain.Article) error {
	notifier, err := notify.NewEmail(notify.EmailConfig{
		Host:     cfg.Email.Host,
		Port:     cfg.Email.Port,
		Username: cfg.Email.Username,
		Password: cfg.Email.Password,
		From:     cfg.Email.From,
		To:       cfg.Email.To,
		Subject:  cfg.Email.Subject,
		STARTTLS: cfg.Email.STARTTLS,
		Timeout:  cfg.Email.Timeout,
	})
	if err != nil {
		return fmt.Errorf("email notifier: %w", err)
	}

	digest := withBacklog(ctx, store, articles)

	if err := notifier.Send(ctx, digest); err != nil {
		// nothing gets marked sent, the whole digest becomes next run's backlog
		return fmt.Errorf("notify: %w", err)
	}

	sent := make([]*domain.Article, len(digest))
	for i := range digest {
		sent[i] = &digest[i]
	}
	if err := store.MarkSent(ctx, sent, time.Now()); err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return nil
}

// withBacklog appends unsent records left over from failed deliveries to the
// current batch. Backlog entries carry only the persisted fields.
func withBacklog(ctx context.Context, store *repository.SeenStore, articles []domain.Article) []domain.Article {
	const backlogLimit = 500

	backlog, err := store.GetUnsent(ctx, backlogLimit)
	if err != nil {
		log.Printf("[WARN] can't load unsent backlog: %v", err)
		return articles
	}

	current := make(map[string]bool, len(articles))
	for _, a := range articles {
		current[a.SourceID+"/"+a.ExternalID] = true
	}

	added := 0
	for _, rec := range backlog {
		if current[rec.SourceID+"/"+rec.ExternalID] {
			continue
		}
		articles = append(articles, domain.Article{
			SourceID:   rec.SourceID,
			ExternalID: rec.ExternalID,
			Title:      rec.Title,
			Link:       rec.Link,
			Journal:    rec.Journal,
		})
		added++
	}
	if added > 0 {
		log.Printf("[INFO] %d unsent articles from earlier runs added to the digest", added)
	}
	return articles
}

// makeCollectors builds one collector per enabled source
func makeCollectors(cfg *config.Config) ([]collector.Collector, error) {
	specs := cfg.SourceSpecs()
	collectors := make([]collector.Collector, 0, len(specs))
	for _, spec := range specs {
		c, err := collector.New(spec, collector.Options{
			UserAgent:      cfg.Run.UserAgent,
			RequestTimeout: cfg.Run.RequestTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("build collector: %w", err)
		}
		collectors = append(collectors, c)
	}
	return collectors, nil
}

func setupLog(dbg bool, secs ...string) {
	logOpts := []lgr.Option{lgr.Msec, lgr.LevelBraces}
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.CallerFile, lgr.CallerFunc, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	colorizer := lgr.Mapper{
		ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
		WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
		InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
		DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
		TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
	}
	logOpts = append(logOpts, lgr.Map(colorizer))

	var nonEmpty []string
	for _, s := range secs {
		if s != "" {
			nonEmpty = append(nonEmpty, s)
		}
	}
	if len(nonEmpty) > 0 {
		logOpts = append(logOpts, lgr.Secret(nonEmpty...))
	}
	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
