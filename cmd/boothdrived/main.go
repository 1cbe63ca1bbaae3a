package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/mainbooth/boothdrive/internal/cloudfiles"
	"github.com/mainbooth/boothdrive/internal/config"
	"github.com/mainbooth/boothdrive/internal/fetchhttp"
	"github.com/mainbooth/boothdrive/internal/fusehost"
	"github.com/mainbooth/boothdrive/internal/httpapi"
	"github.com/mainbooth/boothdrive/internal/statestore"
	"github.com/mainbooth/boothdrive/internal/watcher"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", envOrDefault("BOOTHDRIVE_CONFIG", defaultConfigPath()), "path to config file")
	logLevelFlag := flag.String("log-level", "", "override configured log level")
	flag.Parse()

	bootLog := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog.Fatal().Err(err).Msg("load config")
	}
	applyEnvOverrides(&cfg)

	levelName := cfg.LogLevel
	if *logLevelFlag != "" {
		levelName = *logLevelFlag
	}
	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		bootLog.Fatal().Str("level", levelName).Msg("invalid log level")
	}
	log := bootLog.Level(level)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("boothdrived failed")
	}
}

func run(cfg config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := statestore.Open(cfg.StateDSN)
	if err != nil {
		return err
	}
	defer store.Close()

	host := fusehost.New(fusehost.Options{
		FetchTimeout: cfg.FetchTimeout(),
		Logger:       log.With().Str("component", "fusehost").Logger(),
	})

	provider, err := cloudfiles.New(cloudfiles.Options{
		Host:         host,
		SyncRootPath: cfg.SyncRoot,
		DisplayName:  cfg.DisplayName,
		Logger:       log.With().Str("component", "provider").Logger(),
	})
	if err != nil {
		return err
	}

	client := fetchhttp.NewClient(cfg.APIBaseURL, cfg.APIToken, cfg.WorkspaceID, nil)
	hub := httpapi.NewEventHub()
	defer hub.Close()

	provider.SetFetchSource(client)
	provider.SetNotifySink(&notifyFanout{
		log:   log.With().Str("component", "notify").Logger(),
		hub:   hub,
		store: store,
	})

	if err := provider.Init(); err != nil {
		return err
	}
	defer provider.Shutdown()

	if err := provider.RegisterSyncRoot(); err != nil {
		return err
	}
	defer provider.UnregisterSyncRoot()
	log.Info().Str("sync_root", cfg.SyncRoot).Msg("sync root connected")

	if err := seedPlaceholders(ctx, log, provider, store, client); err != nil {
		log.Warn().Err(err).Msg("placeholder seeding incomplete")
	}

	w, err := watcher.New(cfg.SyncRoot, provider, hub, log.With().Str("component", "watcher").Logger())
	if err != nil {
		return err
	}
	go func() {
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Msg("watcher stopped")
		}
	}()
	defer w.Close()

	admin := &http.Server{
		Addr:    cfg.AdminListenAddr,
		Handler: httpapi.NewServer(provider, store, hub, cfg.AdminToken, log.With().Str("component", "httpapi").Logger()),
	}
	go func() {
		log.Info().Str("addr", cfg.AdminListenAddr).Msg("admin api listening")
		if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("admin api failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := admin.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("admin api shutdown")
	}
	return nil
}

// seedPlaceholders creates placeholders for remote files the store does not
// know about yet, and records them.
func seedPlaceholders(ctx context.Context, log zerolog.Logger, provider *cloudfiles.Provider, store statestore.Store, client *fetchhttp.Client) error {
	entries, err := client.ListAll(ctx, "/")
	if err != nil {
		return err
	}
	created := 0
	for _, entry := range entries {
		rel := cloudfiles.NormalizePath(entry.Path)
		if rel == "" {
			continue
		}
		if _, known, err := store.Get(rel); err != nil {
			return err
		} else if known {
			continue
		}
		meta := cloudfiles.Metadata{Mode: 0o644}
		if entry.ModifiedAt != "" {
			if ts, err := time.Parse(time.RFC3339, entry.ModifiedAt); err == nil {
				meta.ModifiedAt = ts
			}
		}
		if err := provider.CreatePlaceholder(rel, meta, entry.Size); err != nil {
			log.Warn().Str("path", rel).Err(err).Msg("create placeholder failed")
			continue
		}
		now := time.Now().UTC()
		if err := store.Put(statestore.PlaceholderRecord{
			Path:      rel,
			Identity:  cloudfiles.IdentityString(rel),
			Size:      entry.Size,
			InSync:    cloudfiles.InSyncStateInSync,
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			return err
		}
		created++
	}
	log.Info().Int("remote_files", len(entries)).Int("created", created).Msg("placeholders seeded")
	return nil
}

// notifyFanout forwards provider notifications to the event hub and keeps
// the placeholder store in step with deletions and local edits.
type notifyFanout struct {
	log   zerolog.Logger
	hub   *httpapi.EventHub
	store statestore.Store
}

func (f *notifyFanout) Notify(relativePath, event string) {
	f.hub.Notify(relativePath, event)
	switch event {
	case "file_deleted", "file_renamed":
		if err := f.store.Delete(relativePath); err != nil {
			f.log.Warn().Str("path", relativePath).Err(err).Msg("drop store record failed")
		}
	case "file_modified":
		rec, ok, err := f.store.Get(relativePath)
		if err != nil || !ok {
			return
		}
		rec.InSync = cloudfiles.InSyncStateNotInSync
		rec.UpdatedAt = time.Now().UTC()
		if err := f.store.Put(rec); err != nil {
			f.log.Warn().Str("path", relativePath).Err(err).Msg("update store record failed")
		}
	}
	f.log.Debug().Str("path", relativePath).Str("event", event).Msg("notification")
}

func envOrDefault(name, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		return value
	}
	return fallback
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "boothdrive.json"
	}
	return filepath.Join(home, ".boothdrive", "boothdrive.json")
}

func applyEnvOverrides(cfg *config.Config) {
	cfg.SyncRoot = envOrDefault("BOOTHDRIVE_SYNC_ROOT", cfg.SyncRoot)
	cfg.DisplayName = envOrDefault("BOOTHDRIVE_DISPLAY_NAME", cfg.DisplayName)
	cfg.WorkspaceID = envOrDefault("BOOTHDRIVE_WORKSPACE_ID", cfg.WorkspaceID)
	cfg.APIBaseURL = envOrDefault("BOOTHDRIVE_API_BASE_URL", cfg.APIBaseURL)
	cfg.APIToken = envOrDefault("BOOTHDRIVE_API_TOKEN", cfg.APIToken)
	cfg.StateDSN = envOrDefault("BOOTHDRIVE_STATE_DSN", cfg.StateDSN)
	cfg.AdminListenAddr = envOrDefault("BOOTHDRIVE_ADMIN_ADDR", cfg.AdminListenAddr)
	cfg.AdminToken = envOrDefault("BOOTHDRIVE_ADMIN_TOKEN", cfg.AdminToken)
}
