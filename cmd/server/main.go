package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"

	"slideshow/internal/api"
	"slideshow/internal/auth"
	"slideshow/internal/config"
	"slideshow/internal/gallery"
	"slideshow/internal/imaging"
	"slideshow/internal/storage"
	"slideshow/internal/upload"
	ws "slideshow/internal/websocket"
)

// App holds the process-wide state, built once at startup
type App struct {
	cfg     *config.Config
	db      *storage.DB
	images  *storage.ImageStore
	hub     *ws.Hub
	updater *gallery.Updater
	server  *http.Server
}

// NewApp opens the store and wires every component
func NewApp(cfg *config.Config) (*App, error) {
	db, err := storage.InitDB(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	images := storage.NewImageStore(cfg.ImageDir)
	if err := images.EnsureDir(); err != nil {
		db.Close()
		return nil, err
	}

	var codec ws.Codec = ws.JSONCodec{}
	if cfg.ImageMode == gallery.ModeBinary {
		codec = ws.MsgpackCodec{}
	}
	hub := ws.NewHub(codec)

	materializer, err := gallery.NewMaterializer(cfg.ImageMode, images, cfg.PublicURL)
	if err != nil {
		db.Close()
		return nil, err
	}

	secret := []byte(cfg.SessionSecret)
	if len(secret) == 0 {
		secret = securecookie.GenerateRandomKey(32)
	}
	sessionStore := sessions.NewCookieStore(secret)
	sessionStore.Options.HttpOnly = true
	sessionStore.Options.SameSite = http.SameSiteLaxMode

	authenticator, err := auth.New(cfg.AuthMode, cfg.Username, cfg.Password, sessionStore)
	if err != nil {
		db.Close()
		return nil, err
	}

	uploads := upload.NewService(
		db,
		images,
		imaging.NewNormalizer(cfg.MaxImageDimension),
		materializer,
		hub,
		ws.EventNewImage,
		cfg.MaxUploadBytes,
	)
	updater := gallery.NewUpdater(db, materializer, hub, ws.EventGalleryUpdate, cfg.GalleryInterval)

	templates, err := api.NewTemplates()
	if err != nil {
		db.Close()
		return nil, err
	}
	handler := api.NewHandler(db, images, uploads, hub, authenticator, sessionStore)
	e := api.SetupRouter(handler, templates)

	return &App{
		cfg:     cfg,
		db:      db,
		images:  images,
		hub:     hub,
		updater: updater,
		server:  &http.Server{Addr: cfg.Addr(), Handler: e},
	}, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(cfg))

	slog.Info("configuration loaded",
		"addr", cfg.Addr(),
		"database", cfg.DatabasePath,
		"image_dir", cfg.ImageDir,
		"image_mode", cfg.ImageMode,
		"auth_mode", cfg.AuthMode,
		"gallery_interval", cfg.GalleryInterval,
	)

	app, err := NewApp(cfg)
	if err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("server exited cleanly")
}

// Run serves until a signal arrives or the listener fails, then stops the
// updater and releases every resource. A listener failure is returned.
func (a *App) Run() error {
	updaterCtx, stopUpdater := context.WithCancel(context.Background())
	a.updater.Start(updaterCtx)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", a.server.Addr, "public_url", a.cfg.PublicURL)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var runErr error
	select {
	case sig := <-quit:
		slog.Info("shutting down", "signal", sig)
	case runErr = <-serverErr:
		slog.Error("listener failed, shutting down", "error", runErr)
	}

	stopUpdater()
	a.updater.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	a.hub.Close()

	if err := a.db.Close(); err != nil {
		slog.Warn("failed to close database", "error", err)
	}
	return runErr
}
