package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"webcam-uploader/internal/artifact"
	"webcam-uploader/internal/capture"
	"webcam-uploader/internal/capture/gstreamer"
	"webcam-uploader/internal/config"
	"webcam-uploader/internal/connectivity"
	"webcam-uploader/internal/cycle"
	"webcam-uploader/internal/httpclient"
	"webcam-uploader/internal/journal"
	"webcam-uploader/internal/logging"
	"webcam-uploader/internal/metrics"
	"webcam-uploader/internal/notify"
	"webcam-uploader/internal/snapshot"
	"webcam-uploader/internal/status"
	"webcam-uploader/internal/upload"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configPath := flag.String("config", "", "optional YAML configuration file")
	envFile := flag.String("env-file", "", "dotenv file (default ./.env when present)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("webcam-uploader %s\n", version)
		return
	}

	if err := run(*configPath, *envFile); err != nil {
		reportError(os.Stderr, err)
		os.Exit(1)
	}
}

// reportError prints err with a prefix telling configuration problems apart
// from runtime failures.
func reportError(w io.Writer, err error) {
	var cfgErr *config.Error
	if errors.As(err, &cfgErr) {
		fmt.Fprintf(w, "Configuration error: %v\n", err)
		return
	}
	fmt.Fprintf(w, "Fatal error: %v\n", err)
}

func run(configPath, envFile string) error {
	cfg, err := config.Load(config.Options{FilePath: configPath, EnvFile: envFile})
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		return &config.Error{Field: "logging", Reason: err.Error()}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel, logger)

	logStartup(logger, cfg)

	store := artifact.New(cfg.ArtifactPath)

	client := httpclient.New(httpclient.Config{
		Timeout:   cfg.Timeout,
		UserAgent: cfg.UserAgent,
		Retry:     httpclient.DefaultRetryPolicy(cfg.MaxRetries),
		Logger:    logger,
	})

	deps := capture.Deps{Client: client, Store: store, Logger: logger}
	if cfg.CaptureMethod == config.CaptureRTSP {
		deps.Opener = gstreamer.NewOpener(logger)
	}
	backend, err := capture.New(cfg, deps)
	if err != nil {
		return err
	}

	uploader := upload.New(client, cfg.UploadURL, upload.Credentials{
		Fingerprint: cfg.Fingerprint,
		Token:       cfg.Token,
	}, logger)

	snap := snapshot.New(backend.Name(), cfg.PingHost)
	collector := metrics.New()
	observers := []cycle.Observer{snap, collector}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Journal.DatabaseURL != "" {
		if j, closeFn, err := openJournal(gctx, cfg, backend.Name(), logger); err != nil {
			logger.Warnf("cycle journal disabled: %v", err)
		} else {
			defer closeFn()
			observers = append(observers, j)
		}
	}

	if cfg.Telegram.Token != "" {
		tbot, err := notify.NewBot(cfg.Telegram.Token)
		if err != nil {
			logger.Warnf("telegram notifications disabled: %v", err)
		} else {
			n := notify.New(tbot, cfg.Telegram.ChatID, fmt.Sprintf("%s (%s)", cfg.PingHost, backend.Name()), logger)
			observers = append(observers, n)
			g.Go(func() error {
				n.Run(gctx)
				return nil
			})
		}
	}

	if cfg.Status.Addr != "" {
		srv := status.New(cfg.Status.Addr, snap, collector.Handler(), logger)
		g.Go(func() error {
			if err := srv.Run(gctx); err != nil {
				return fmt.Errorf("status server: %w", err)
			}
			return nil
		})
	}

	scheduler, err := cycle.New(cycle.Options{
		NormalDelay:  cfg.Delay,
		PenaltyDelay: cfg.LongDelay,
		Host:         cfg.PingHost,
		Checker:      connectivity.NewPingChecker(logger),
		Capturer:     backend,
		Uploader:     uploader,
		Store:        store,
		Logger:       logger,
		Observers:    observers,
	})
	if err != nil {
		return err
	}

	g.Go(func() error {
		err := scheduler.Run(gctx)
		// stop the status server and notifier with the loop
		cancel()
		return err
	})

	return g.Wait()
}

func openJournal(ctx context.Context, cfg config.Config, backend string, logger logrus.FieldLogger) (*journal.Journal, func(), error) {
	pool, err := journal.Connect(ctx, cfg.Journal.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	j := journal.New(pool, backend, logger)
	if err := j.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return j, pool.Close, nil
}

func logStartup(logger logrus.FieldLogger, cfg config.Config) {
	logger.Infof("Starting webcam uploader %s", version)
	for _, src := range cfg.Sources {
		logger.Infof("Loaded configuration from %s", src)
	}
	logger.Infof("Upload URL: %s", cfg.UploadURL)
	logger.Infof("Capture method: %s", strings.ToUpper(string(cfg.CaptureMethod)))
	if cfg.CaptureMethod == config.CaptureRTSP {
		logger.Infof("RTSP URL: %s", cfg.RTSPURL)
		logger.Infof("RTSP timeout: %s", cfg.RTSPTimeout)
	} else {
		logger.Infof("Snapshot URL: %s", cfg.SnapshotURL)
	}
	logger.Infof("Normal delay: %s", cfg.Delay)
	logger.Infof("Error delay: %s", cfg.LongDelay)
}

func handleSignals(cancel context.CancelFunc, logger logrus.FieldLogger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.WithFields(logrus.Fields{
		"signal": sig.String(),
	}).Info("Received shutdown signal, preparing graceful shutdown...")
	cancel()
}
