package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"freebusy/internal/availability"
	"freebusy/internal/config"
	"freebusy/internal/gcal"
	"freebusy/internal/ics"
	appLog "freebusy/internal/log"
	"freebusy/internal/report"
	"freebusy/internal/web"
)

// flagConfig holds CLI flag values. Flags given on the command line
// override the config file.
type flagConfig struct {
	configPath string
	envFile    string
	days       int
	start      int
	end        int
	duration   int
	mode       string
	format     string
	debug      bool
	serve      bool
	listen     string

	// given holds the names of flags set explicitly, so any value a user
	// types (negative ones included) reaches validation.
	given map[string]bool
}

func main() {
	flags := parseFlags()
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}

	if err := run(flags); err != nil {
		var cErr *availability.ConfigurationError
		if errors.As(err, &cErr) {
			fmt.Fprintf(os.Stderr, "freebusy: %v\n", err)
		} else {
			appLog.Error("freebusy failed", err)
		}
		os.Exit(1)
	}
}

func run(flags flagConfig) error {
	conf, err := config.Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", flags.configPath, err)
	}
	if err := conf.ApplyEnv(flags.envFile); err != nil {
		return err
	}
	flags.apply(conf)
	if err := conf.Validate(); err != nil {
		return err
	}

	mode, err := report.ParseMode(conf.Mode)
	if err != nil {
		return err
	}
	if flags.format != "text" && flags.format != "json" {
		return fmt.Errorf("unknown output format %q (want text or json)", flags.format)
	}

	appLog.Info("effective config",
		"source", conf.Source,
		"calendar_id", conf.CalendarID,
		"days", conf.Days,
		"start_hour", conf.StartHour,
		"end_hour", conf.EndHour,
		"slot_minutes", conf.SlotMinutes,
		"mode", conf.Mode,
		"ics_count", len(conf.ICS),
		"serve", flags.serve,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	newSource, err := sourceFactory(ctx, conf)
	if err != nil {
		return err
	}
	compute := func(ctx context.Context) (availability.Report, error) {
		sched := &availability.Scheduler{Source: newSource(), CalendarID: conf.CalendarID}
		return sched.Run(ctx, conf.Params())
	}

	if flags.serve {
		return serve(ctx, conf, compute)
	}

	rep, err := compute(ctx)
	if err != nil {
		return err
	}
	return writeReport(os.Stdout, rep, mode, flags.format)
}

// sourceFactory returns a constructor for the configured event source.
// Google sources share one authorized client; ICS sources are rebuilt per
// run so every run sees fresh feeds.
func sourceFactory(ctx context.Context, conf *config.Config) (func() availability.EventSource, error) {
	switch conf.Source {
	case config.SourceGoogle:
		oc, err := gcal.LoadOAuthConfig(conf.Google.CredentialsFile)
		if err != nil {
			return nil, err
		}
		httpClient, err := gcal.Authorize(ctx, oc, gcal.TokenStore{Path: conf.Google.TokenFile}, os.Stderr)
		if err != nil {
			return nil, err
		}
		client, err := gcal.New(ctx, httpClient)
		if err != nil {
			return nil, err
		}
		return func() availability.EventSource { return client }, nil

	case config.SourceICS:
		fetcher := ics.NewFetcher(conf.CacheDir, nil)
		feeds := make([]ics.Feed, 0, len(conf.ICS))
		for _, c := range conf.ICS {
			if c.URL == "" {
				continue
			}
			id := c.ID
			if id == "" {
				id = c.Name
			}
			if id == "" {
				id = fmt.Sprintf("feed-%d", len(feeds)+1)
			}
			feeds = append(feeds, ics.Feed{ID: id, URL: c.URL})
		}
		return func() availability.EventSource {
			return ics.NewSource(fetcher, feeds, conf.SelfEmails, conf.Timezone)
		}, nil
	}
	return nil, fmt.Errorf("unknown source %q", conf.Source)
}

func writeReport(w io.Writer, rep availability.Report, mode report.Mode, format string) error {
	if format == "json" {
		return report.WriteJSON(w, rep, mode)
	}
	return report.WriteText(w, rep, mode)
}

// serve computes an initial snapshot, refreshes it on the cron schedule and
// serves it over HTTP until ctx is cancelled.
func serve(ctx context.Context, conf *config.Config, compute web.ComputeFunc) error {
	srv := web.NewServer(conf, compute, 0)

	if err := srv.Refresh(ctx); err != nil {
		appLog.Error("initial availability refresh failed", err)
	}

	c := cron.New()
	if _, err := c.AddFunc(conf.RefreshCron, func() {
		if err := srv.Refresh(ctx); err != nil {
			appLog.Error("scheduled availability refresh failed", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", conf.RefreshCron, err)
	}
	c.Start()
	defer func() { <-c.Stop().Done() }()
	appLog.Info("refresh scheduled", "cron", conf.RefreshCron)

	return web.ListenAndServe(ctx, conf.Listen, srv)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "config.yaml", "Path to config file (created with defaults if missing)")
	flag.StringVar(&cfg.envFile, "env", ".env", "Optional .env file with FREEBUSY_* overrides")
	flag.IntVar(&cfg.days, "days", 0, "Number of days to check (default from config: 5)")
	flag.IntVar(&cfg.start, "start", 0, "Start hour of the working day (default from config: 9)")
	flag.IntVar(&cfg.end, "end", 0, "End hour of the working day (default from config: 17)")
	flag.IntVar(&cfg.duration, "duration", 0, "Slot duration in minutes (default from config: 30)")
	flag.StringVar(&cfg.mode, "mode", "", "Display mode: free, busy or both")
	flag.StringVar(&cfg.format, "format", "text", "Output format: text or json")
	flag.BoolVar(&cfg.debug, "debug", false, "Log fetched events and debug details")
	flag.BoolVar(&cfg.serve, "serve", false, "Serve availability over HTTP instead of printing once")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")

	flag.Parse()

	cfg.given = make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		cfg.given[f.Name] = true
	})

	return cfg
}

// apply copies the flags that were given onto conf.
func (f flagConfig) apply(conf *config.Config) {
	if f.given["days"] {
		conf.Days = f.days
	}
	if f.given["start"] {
		conf.StartHour = f.start
	}
	if f.given["end"] {
		conf.EndHour = f.end
	}
	if f.given["duration"] {
		conf.SlotMinutes = f.duration
	}
	if f.mode != "" {
		conf.Mode = f.mode
	}
	if f.listen != "" {
		conf.Listen = f.listen
	}
	conf.Normalize()
}
