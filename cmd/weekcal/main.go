package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"weekcal/internal/ai"
	"weekcal/internal/api"
	"weekcal/internal/capture"
	"weekcal/internal/config"
	"weekcal/internal/ics"
	appLog "weekcal/internal/log"
	"weekcal/internal/refresh"
	"weekcal/internal/session"
	"weekcal/internal/store"
	"weekcal/internal/uistate"
	"weekcal/internal/web"
)

// flagConfig holds CLI flag values; they override the config file.
type flagConfig struct {
	configPath string
	envFile    string
	listen     string
	once       bool
	snapshot   bool
	debug      bool
}

func main() {
	appLog.Info("weekcal starting", "version", "0.1.0")

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if err := conf.ApplyEnv(flags.envFile); err != nil {
		appLog.Error("failed to apply environment overrides", err, "env_file", flags.envFile)
		os.Exit(1)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.debug {
		conf.LogLevel = "debug"
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"horizon_days", conf.HorizonDays,
		"storage", conf.Storage.Backend,
		"api", conf.API.BaseURL,
		"ics_count", len(conf.ICS),
		"capture", conf.Capture.Enabled || flags.snapshot,
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, conf, flags); err != nil {
		appLog.Error("weekcal failed", err)
		os.Exit(1)
	}
	appLog.Info("weekcal exiting")
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	loc, err := time.LoadLocation(conf.Timezone)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", conf.Timezone)
		loc = time.Local
	}

	kv, err := store.OpenKV(ctx, conf)
	if err != nil {
		return err
	}
	st, err := store.Open(ctx, kv)
	if err != nil {
		_ = kv.Close()
		return err
	}
	defer st.Close()
	if issue := st.LoadIssue(); issue != nil {
		appLog.Error("persisted schedules were unreadable; started from defaults", issue)
	}

	sess := session.New()
	client := api.New(sess, api.Options{
		BaseURL:   conf.API.BaseURL,
		Timeout:   time.Duration(conf.API.TimeoutSec) * time.Second,
		AITimeout: time.Duration(conf.API.AITimeoutSec) * time.Second,
		Endpoints: conf.API.Endpoints,
	})
	aiSvc := ai.NewService(client, loc)
	fetcher := ics.NewFetcher(filepath.Join(conf.StateDir, "ics-cache"), time.Duration(conf.API.TimeoutSec)*time.Second)

	ln, err := net.Listen("tcp", conf.Listen)
	if err != nil {
		return err
	}

	previewPath := filepath.Join(conf.StateDir, "preview.png")
	var captureFn func(context.Context) error
	if conf.Capture.Enabled || flags.snapshot {
		c, err := capture.New(capture.Options{
			URL:        weekURL(conf, ln.Addr().String()),
			OutputPath: previewPath,
			Width:      conf.Capture.Width,
			Height:     conf.Capture.Height,
		})
		if err != nil {
			_ = ln.Close()
			return err
		}
		captureFn = c.Capture
	}

	refresher := refresh.New(refresh.Options{
		Store:       st,
		Remote:      client,
		LoggedIn:    sess.LoggedIn,
		Fetcher:     fetcher,
		Sources:     ics.SourcesFromConfig(conf.ICS),
		Location:    loc,
		HorizonDays: conf.HorizonDays,
		Capture:     captureFn,
	})

	srv := web.NewServer(web.Deps{
		Config:      conf,
		Store:       st,
		UI:          uistate.New(time.Now().In(loc)),
		Session:     sess,
		Backend:     client,
		AI:          aiSvc,
		Refresher:   refresher,
		PreviewPath: previewPath,
	}, flags.debug)

	serveCtx, stopServe := context.WithCancel(ctx)
	defer stopServe()
	served := make(chan error, 1)
	go func() { served <- srv.Serve(serveCtx, ln) }()

	if flags.once {
		rep := refresher.RunOnce(ctx)
		stopServe()
		if err := <-served; err != nil {
			appLog.Error("HTTP server stopped with error", err)
		}
		if len(rep.Errors) > 0 {
			return errors.New("refresh: " + strings.Join(rep.Errors, "; "))
		}
		return nil
	}

	if _, err := refresher.Start(ctx, conf.RefreshCron); err != nil {
		stopServe()
		<-served
		return err
	}
	go refresher.RunOnce(ctx)

	return <-served
}

// loopback rewrites a wildcard listen address to one the capture browser
// can dial.
func loopback(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

// weekURL is the page the capture browser renders, carrying basic auth
// credentials when they are configured.
func weekURL(conf *config.Config, addr string) string {
	u := url.URL{Scheme: "http", Host: loopback(addr), Path: "/week"}
	if ba := conf.BasicAuth; ba != nil && ba.Username != "" && ba.Password != "" {
		u.User = url.UserPassword(ba.Username, ba.Password)
	}
	return u.String()
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/weekcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.envFile, "env", ".env", "Optional .env file with WEEKCAL_* overrides")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one refresh(+capture) cycle and exit")
	flag.BoolVar(&cfg.snapshot, "snapshot", false, "Capture the week page preview even if disabled in config")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}
