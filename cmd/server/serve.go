package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"claude-line/internal/certgen"
	"claude-line/internal/cleanup"
	"claude-line/internal/config"
	"claude-line/internal/logging"
	"claude-line/internal/realtime"
	"claude-line/internal/session"
	"claude-line/internal/tracing"
	"claude-line/internal/transcribe"
	"claude-line/internal/watcher"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// serve runs the HTTP and WebSocket server until ctx is cancelled or the
// process receives SIGINT or SIGTERM.
func serve(ctx context.Context, s config.Settings, logOut io.Writer) error {
	logger, err := logging.New(s.LogLevel, s.LogFormat, logOut)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	tp, err := tracing.NewProvider(ctx, tracing.Config{
		Enabled:      s.Tracing.Enabled,
		Exporter:     s.Tracing.Exporter,
		OTLPEndpoint: s.Tracing.OTLPEndpoint,
		SampleRate:   s.Tracing.SampleRate,
		Writer:       logOut,
	})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown", "error", err)
		}
	}()

	mgr := session.NewManager(session.Options{
		WorkDir:     s.ClaudeWorkDir,
		Command:     s.ClaudeCommand,
		ExtraArgs:   s.ExtraClaudeArgs(),
		GracePeriod: s.CancelGrace,
		Logger:      logger.With("component", "session"),
	})

	// The watcher starts before the server exists; counts reported in
	// between are dropped.
	var rt atomic.Pointer[realtime.Server]
	fileWatch, err := watcher.New(mgr.WorkDir(), func(count int) {
		if srv := rt.Load(); srv != nil {
			srv.OnFileCount(count)
		}
	}, logger.With("component", "watcher"))
	if err != nil {
		logger.Warn("file watching disabled", "workDir", mgr.WorkDir(), "error", err)
		fileWatch = nil
	}

	srv := realtime.New(realtime.Options{
		Manager:               mgr,
		Watcher:               fileWatch,
		Transcriber:           transcribe.FromSettings(s, logger.With("component", "transcribe")),
		Cleaner:               cleanup.FromSettings(s, logger.With("component", "cleanup")),
		CleanupEnabled:        s.CleanupEnabled,
		TranscriptionProvider: s.TranscriptionProvider,
		StaticDir:             s.StaticDir,
		Logger:                logger.With("component", "realtime"),
	})
	rt.Store(srv)

	httpServer := &http.Server{
		Addr:              net.JoinHostPort(s.Host, strconv.Itoa(s.Port)),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	logStartup(logger, s, mgr.WorkDir())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if s.SSLEnabled() {
			err = httpServer.ListenAndServeTLS(s.SSLCertFile, s.SSLKeyFile)
		} else {
			err = httpServer.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)

		srv.Close()
		if fileWatch != nil {
			fileWatch.Close()
		}
		return err
	})

	return g.Wait()
}

func logStartup(logger *slog.Logger, s config.Settings, workDir string) {
	cleanupStatus := "disabled"
	if s.CleanupEnabled {
		cleanupStatus = "enabled (" + s.CleanupProvider + ")"
	}
	logger.Info("starting claude-line",
		"addr", net.JoinHostPort(s.Host, strconv.Itoa(s.Port)),
		"transcription", s.TranscriptionProvider,
		"workDir", workDir,
		"cleanup", cleanupStatus,
	)

	for _, ip := range certgen.LocalIPs() {
		logger.Info("open on your phone", "url", fmt.Sprintf("%s://%s:%d", s.Scheme(), ip, s.Port))
	}
	if !s.SSLEnabled() {
		logger.Info("browsers only allow the microphone over HTTPS; run 'claude-line gencert' to create a certificate")
	}
}
