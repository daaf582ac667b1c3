package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/whisper-darkly/kickclient/api"
	"github.com/whisper-darkly/kickclient/capture"
	"github.com/whisper-darkly/kickclient/config"
	"github.com/whisper-darkly/kickclient/cookies"
	_ "github.com/whisper-darkly/kickclient/driver" // register drivers
	"github.com/whisper-darkly/kickclient/events"
	"github.com/whisper-darkly/kickclient/logger"
	"github.com/whisper-darkly/kickclient/metrics"
	"github.com/whisper-darkly/kickclient/orchestrator"
	"github.com/whisper-darkly/kickclient/stream"
	"github.com/whisper-darkly/kickclient/units"
)

// Set via ldflags at build time: -ldflags "-X main.version=..."
var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cmd := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	fs := flag.NewFlagSet("kickclient", flag.ContinueOnError)
	configPath := fs.StringP("config", "C", config.GetEnv(config.EnvPrefix+"CONFIG", ""), "YAML config file")
	listen := fs.StringP("listen", "l", "", "HTTP listen address (serve)")
	outDir := fs.StringP("out", "o", "", "Output directory")
	driverName := fs.StringP("driver", "d", "", "Driver for channel names and page URLs")
	quality := fs.StringP("quality", "q", "", "Quality hint: label, WxH, <height>p, URL or \"source\" (record)")
	ffmpegPath := fs.String("ffmpeg", "", "ffmpeg binary")
	cookieFlag := fs.StringP("cookies", "c", "", "HTTP cookies (key=value; key2=value2 or file://cookies.txt)")
	userAgent := fs.StringP("user-agent", "a", "", "Custom User-Agent header")
	maxReconnects := fs.Int("max-reconnects", -1, "Reconnect attempts for live captures (default 5)")
	reconnectDelay := fs.String("reconnect-delay", "", "Delay before each reconnect (e.g. 3s, 00:00:03)")
	logLevel := fs.String("log-level", "", "Log level: debug, info, warn, error, fatal")
	outputFormat := fs.String("output-format", "", "Output format: normal, json")
	showVersion := fs.BoolP("version", "V", false, "Print version and exit")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "kickclient %s\n\n", version)
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  kickclient [serve] [flags]\n")
		fmt.Fprintf(os.Stderr, "  kickclient record <channel|url> [name] [flags]\n")
		fmt.Fprintf(os.Stderr, "  kickclient download <vod-url> [name] [flags]\n")
		fmt.Fprintf(os.Stderr, "  kickclient qualities <channel|url> [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nDurations: hh:mm:ss | 1h30m | plain seconds.\n")
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	if *showVersion {
		fmt.Println("kickclient", version)
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	// Flags override file and environment only when given.
	setIf := func(name string, dst *string, v string) {
		if fs.Changed(name) {
			*dst = v
		}
	}
	setIf("listen", &cfg.Listen, *listen)
	setIf("out", &cfg.OutputDir, *outDir)
	setIf("driver", &cfg.Driver, *driverName)
	setIf("ffmpeg", &cfg.FFmpegPath, *ffmpegPath)
	setIf("cookies", &cfg.Cookies, *cookieFlag)
	setIf("user-agent", &cfg.UserAgent, *userAgent)
	setIf("log-level", &cfg.LogLevel, *logLevel)
	setIf("output-format", &cfg.LogFormat, *outputFormat)
	if fs.Changed("max-reconnects") {
		cfg.MaxReconnects = *maxReconnects
	}

	// Create logger early so all validation messages use it
	log := logger.New(logger.ParseLevel(cfg.LogLevel))
	log.SetFormat(logger.ParseFormat(cfg.LogFormat))

	if fs.Changed("reconnect-delay") {
		d, err := units.ParseDuration(*reconnectDelay)
		if err != nil {
			log.Error("invalid --reconnect-delay: %v", err)
			return 1
		}
		cfg.ReconnectDelay = config.Duration(d)
	}
	if err := cfg.Validate(); err != nil {
		log.Error("%v", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	orch, err := buildOrchestrator(cfg, log, m)
	if err != nil {
		log.Error("%v", err)
		return 1
	}

	switch cmd {
	case "serve":
		return serve(ctx, cfg, orch, log, m)
	case "record":
		if fs.NArg() < 1 {
			log.Error("record: channel or URL is required")
			return 1
		}
		return runJob(ctx, orch, log, fs.Arg(0), func(ctx context.Context) (orchestrator.Result, error) {
			if orch.IsVOD(fs.Arg(0)) {
				log.Info("%s is an archived video, downloading", fs.Arg(0))
				return orch.DownloadVOD(ctx, orchestrator.DownloadRequest{Locator: fs.Arg(0), Name: fs.Arg(1)})
			}
			return orch.StartCapture(ctx, orchestrator.CaptureRequest{
				Locator: fs.Arg(0), Name: fs.Arg(1), Quality: *quality,
			})
		})
	case "download":
		if fs.NArg() < 1 {
			log.Error("download: VOD URL is required")
			return 1
		}
		return runJob(ctx, orch, log, fs.Arg(0), func(ctx context.Context) (orchestrator.Result, error) {
			return orch.DownloadVOD(ctx, orchestrator.DownloadRequest{Locator: fs.Arg(0), Name: fs.Arg(1)})
		})
	case "qualities":
		if fs.NArg() < 1 {
			log.Error("qualities: channel or URL is required")
			return 1
		}
		opts, err := orch.Qualities(ctx, fs.Arg(0))
		if err != nil {
			log.Error("%v", err)
			return 1
		}
		for _, q := range opts {
			fmt.Printf("%-16s %-10s %6d kbps  %s\n", q.Label, q.Resolution, q.BitrateKbps, q.MediaURL)
		}
		return 0
	default:
		log.Error("unknown command %q", cmd)
		fs.Usage()
		return 1
	}
}

func buildOrchestrator(cfg config.Config, log *logger.Logger, m *metrics.Metrics) (*orchestrator.Orchestrator, error) {
	var drv stream.Driver
	if cfg.Driver != "" && cfg.Driver != "none" {
		d, err := stream.Get(strings.ToLower(cfg.Driver))
		if err != nil {
			return nil, err
		}
		drv = d
	}
	cookieDomain := ""
	if drv != nil {
		if u, err := url.Parse(drv.DefaultDomain()); err == nil {
			cookieDomain = u.Hostname()
		}
	}
	cookieHeader, err := cookies.Load(cfg.Cookies, cookieDomain)
	if err != nil {
		return nil, err
	}
	client := stream.NewHTTPClient(cookieHeader, cfg.UserAgent)
	policy := capture.Policy{
		MaxReconnects:  cfg.MaxReconnects,
		ReconnectDelay: time.Duration(cfg.ReconnectDelay),
	}
	ffmpegLog := log.With("component", "ffmpeg")

	return orchestrator.New(orchestrator.Config{
		OutputDir:        cfg.OutputDir,
		FilenameTemplate: cfg.FilenameTemplate,
		UserAgent:        cfg.UserAgent,
		Cookies:          cookieHeader,
		Policy:           policy,
		Resolver:         stream.NewResolver(client, log.With("component", "resolver"), m),
		Driver:           drv,
		Client:           client,
		Runner: &capture.FFmpeg{
			Path:     cfg.FFmpegPath,
			LogLevel: cfg.FFmpegLogLevel,
			Grace:    time.Duration(cfg.InterruptGrace),
			Log:      ffmpegLog,
		},
		Joiner: &capture.FFmpegJoiner{
			Path:     cfg.FFmpegPath,
			LogLevel: cfg.FFmpegLogLevel,
			Log:      ffmpegLog,
		},
		Metrics: m,
		Log:     log,
	}), nil
}

// serve runs the HTTP surface until a signal arrives, then drains jobs.
func serve(ctx context.Context, cfg config.Config, orch *orchestrator.Orchestrator, log *logger.Logger, m *metrics.Metrics) int {
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.NewHandler(orch, log.With("component", "api"), m).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening on %s", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Warn("shutting down...")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Stop jobs first so open event streams see the bus close.
		jobErr := orch.Shutdown(sctx)
		if err := srv.Shutdown(sctx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return jobErr
	})

	if err := g.Wait(); err != nil {
		log.Error("%v", err)
		return 1
	}
	return 0
}

// runJob starts one job and blocks until it reaches a terminal state or a
// signal stops it.
func runJob(ctx context.Context, orch *orchestrator.Orchestrator, log *logger.Logger, locator string,
	start func(context.Context) (orchestrator.Result, error)) int {
	ch, unsubscribe := orch.Subscribe(64)
	defer unsubscribe()

	res, err := start(ctx)
	if err != nil {
		log.Error("%v", err)
		return 1
	}
	log.Info("writing %s", res.OutputPath)

	key := strings.TrimSpace(locator)
	for {
		select {
		case <-ctx.Done():
			log.Warn("interrupted, finalizing %s", res.Filename)
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := orch.Shutdown(sctx); err != nil {
				log.Error("shutdown: %v", err)
				return 1
			}
			return 0
		case e, ok := <-ch:
			if !ok {
				return 0
			}
			if e.StreamID != key {
				continue
			}
			switch e.Type {
			case events.TypeProgress:
				if p := e.Progress; p != nil {
					log.Debug("%s frames=%d size=%s %.1f%%", p.Timemark, p.Frames, units.FormatSize(p.Bytes), p.Percent)
				}
			case events.TypeCompleted, events.TypeStopped:
				log.Info("saved %s", e.OutputPath)
				return 0
			case events.TypeError:
				return 1
			}
		}
	}
}
