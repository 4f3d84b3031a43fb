package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aizatto/ical-debugger/internal/config"
	"github.com/aizatto/ical-debugger/internal/ics"
	appLog "github.com/aizatto/ical-debugger/internal/log"
	"github.com/aizatto/ical-debugger/internal/model"
	"github.com/aizatto/ical-debugger/internal/render"
	"github.com/aizatto/ical-debugger/internal/scheduler"
	"github.com/aizatto/ical-debugger/internal/storage"
	"github.com/aizatto/ical-debugger/internal/subscription"
	"github.com/aizatto/ical-debugger/internal/timeline"
	"github.com/aizatto/ical-debugger/internal/web"
)

const version = "0.1.0"

// flagConfig holds CLI flag values that override the config file.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
	noFeeds    bool
	days       int
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI flags override the config file when provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.days > 0 {
		conf.HorizonDays = flags.days
	}

	appLog.Setup(os.Stderr, conf.LogFormat, appLog.ParseLevel(conf.LogLevel))
	appLog.Info("ical-debugger starting", "version", version)

	loc, err := conf.Location()
	if err != nil {
		appLog.Error("invalid timezone; falling back to local", err)
	}
	order, err := timeline.ParseOrder(conf.EventOrder)
	if err != nil {
		appLog.Error("invalid event order; sorting by start", err)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", loc.String(),
		"refresh", conf.RefreshCron,
		"horizon_days", conf.HorizonDays,
		"event_order", order.String(),
		"store", conf.Store.Driver,
		"once", flags.once,
	)

	repo, err := storage.Open(conf.Store.Driver, conf.Store.Path)
	if err != nil {
		appLog.Error("failed to open subscription store", err, "driver", conf.Store.Driver, "path", conf.Store.Path)
		os.Exit(1)
	}
	defer repo.Close()

	fetcher := ics.NewFetcher(ics.FetcherConfig{
		Timeout:       conf.Fetch.Timeout,
		MaxConcurrent: conf.Fetch.MaxConcurrent,
		MaxBodyBytes:  conf.Fetch.MaxBodyBytes,
		UserAgent:     conf.Fetch.UserAgent,
		CacheDir:      conf.Fetch.CacheDir,
	})
	pipeline := timeline.NewPipeline(fetcher, order)

	window := func() timeline.Window {
		return timeline.DefaultWindow(time.Now().In(loc), conf.HorizonDays)
	}

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if flags.once {
		if err := runOnce(ctx, repo, pipeline, window(), flags.noFeeds); err != nil {
			appLog.Error("single run failed", err)
			os.Exit(1)
		}
		return
	}

	runner := timeline.NewRunner(pipeline, func(res timeline.Result) {
		appLog.Info("timeline updated", "generation", res.Generation, "days", len(res.Days))
	})

	subs, err := subscription.Open(ctx, repo, func(list []model.Subscription) {
		runner.Trigger(ctx, list, window())
	})
	if err != nil {
		appLog.Error("failed to load subscriptions", err)
		os.Exit(1)
	}

	refresh := func() uint64 {
		return runner.Trigger(ctx, subs.List(), window())
	}
	refresh()

	sched, err := scheduler.New(conf.RefreshCron, loc, func() { refresh() })
	if err != nil {
		appLog.Error("invalid refresh schedule", err, "refresh", conf.RefreshCron)
		os.Exit(1)
	}
	sched.Start()

	srv := &http.Server{
		Addr: conf.Listen,
		Handler: web.NewServer(web.Options{
			Subscriptions: subs,
			Timeline:      runner,
			Refresh:       refresh,
			Location:      loc,
		}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("HTTP server failed", err)
			cancel()
		}
	}()

	<-ctx.Done()
	appLog.Info("shutting down")

	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("HTTP shutdown failed", err)
	}

	runner.Wait()
	appLog.Info("ical-debugger exiting")
}

// runOnce aggregates the stored subscriptions a single time and prints the
// day listing to stdout, followed by unavailable feeds unless noFeeds.
func runOnce(ctx context.Context, repo storage.Repository, p *timeline.Pipeline, win timeline.Window, noFeeds bool) error {
	list, err := repo.Load(ctx)
	if err != nil {
		return err
	}
	res := p.Run(ctx, list, win)
	if noFeeds {
		return render.Days(os.Stdout, res.Days)
	}
	return render.Text(os.Stdout, res)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Aggregate once, print the days to stdout and exit")
	flag.BoolVar(&cfg.noFeeds, "no-feeds", false, "With -once, print only the days and omit unavailable feeds")
	flag.IntVar(&cfg.days, "days", 0, "Days past today to include (overrides config if set)")

	flag.Parse()

	return cfg
}
