package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gshare/internal/app"
	"gshare/internal/config"
	"gshare/internal/importer"
	"gshare/internal/logging"
	"gshare/internal/syncer"
	"gshare/internal/web"
)

func main() {
	closeLog := logging.Setup(os.Stdout, logging.OptionsFromEnv())
	defer closeLog()

	cfg := config.Load()
	if err := run(cfg); err != nil {
		slog.Error("server error", "err", err)
		closeLog()
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	a, err := app.Open(startCtx, cfg)
	cancel()
	if err != nil {
		return err
	}
	defer a.Close()
	slog.Info("startup", "data", a.Config.DataPath, "mirror", a.Sync.MirrorName())

	debounce := syncer.NewDebouncer(a.Config.SyncDebounce, a.Sync.Scheduled("change"))
	defer debounce.Stop()
	a.Library.OnChange(func(string) { debounce.Notify() })

	if im := a.Importer(); im != nil {
		report, err := im.Import(ctx)
		if err != nil {
			slog.Warn("initial import failed", "root", im.Root(), "err", err)
		} else {
			slog.Info("initial import", "root", im.Root(), "created", report.Created, "updated", report.Updated, "failed", report.Failed)
		}
		watcher := importer.NewWatcher(im, time.Second, nil)
		go func() {
			if err := watcher.Run(ctx); err != nil {
				slog.Warn("content watcher stopped", "err", err)
			}
		}()
	}

	go syncer.RunScheduler(ctx, a.Config.SyncInterval, a.Sync.Scheduled("schedule"))

	srv, err := web.NewServer(a.Config, a.Library, a.Sync)
	if err != nil {
		return err
	}
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              a.Config.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", a.Config.ListenAddr)
		errc <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	// push what is still pending before exit
	a.Sync.Scheduled("shutdown")(shutdownCtx)
	return nil
}
