// Command echoreplay captures and replays multimodal conversation logs.
//
// Replay a stored session:
//
//	echoreplay -config config.yaml -session s-2026-03-14-a
//
// Attach to a live capture feed:
//
//	echoreplay -config config.yaml -live
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/MrWong99/echoreplay/internal/aggregator"
	"github.com/MrWong99/echoreplay/internal/config"
	"github.com/MrWong99/echoreplay/internal/health"
	"github.com/MrWong99/echoreplay/internal/ingest"
	"github.com/MrWong99/echoreplay/internal/logstore"
	"github.com/MrWong99/echoreplay/internal/media"
	"github.com/MrWong99/echoreplay/internal/media/fsblob"
	"github.com/MrWong99/echoreplay/internal/observe"
	"github.com/MrWong99/echoreplay/internal/replay"
	"github.com/MrWong99/echoreplay/internal/scheduler"
	"github.com/MrWong99/echoreplay/pkg/audio"
	"github.com/MrWong99/echoreplay/pkg/sink/console"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	sessionID := flag.String("session", "", "session ID to replay")
	live := flag.Bool("live", false, "attach to the live capture feed instead of replaying")
	list := flag.Bool("list", false, "list stored session IDs and exit")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "echoreplay: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "echoreplay: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("echoreplay starting",
		"config", *configPath,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Log store ─────────────────────────────────────────────────────────────
	var store logstore.Store
	var pingStore func(context.Context) error
	if cfg.Store.PostgresDSN != "" {
		pg, err := logstore.NewPostgresStore(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			slog.Error("failed to connect to log store", "err", err)
			return 1
		}
		defer pg.Close()
		store = pg
		pingStore = pg.Ping
		slog.Info("using postgres log store")
	} else {
		store = logstore.NewMemoryStore()
		pingStore = func(context.Context) error { return nil }
		slog.Info("using in-memory log store")
	}

	if *list {
		return listSessions(ctx, store)
	}

	// ── Blob store ────────────────────────────────────────────────────────────
	mediaRoot := cfg.Store.MediaRoot
	if mediaRoot == "" {
		mediaRoot = "media"
	}
	blobs, err := fsblob.New(mediaRoot)
	if err != nil {
		slog.Error("failed to open blob store", "err", err)
		return 1
	}

	// ── Replay controller ─────────────────────────────────────────────────────
	audioSink := console.NewAudio()
	textSink := console.NewText(os.Stdout)

	ctrl := replay.NewController(replay.Config{
		Logs:   store,
		Blobs:  blobs,
		Frames: media.NewMemoryFrames(),
		Sinks: scheduler.Sinks{
			Audio: audioSink,
			Video: console.Video{},
			Text:  textSink,
		},
		Caps: audio.Caps{
			MaxDuration: cfg.Playback.MaxSegmentDuration(),
			MaxChunks:   cfg.Playback.MaxSegmentChunks,
		},
		Metrics: metrics,
		SchedulerOptions: []scheduler.Option{
			scheduler.WithGains(cfg.Playback.UserGain, cfg.Playback.AIGain),
		},
	})
	defer ctrl.Close()

	if cfg.Playback.Speed > 0 {
		ctrl.SetSpeed(cfg.Playback.Speed)
	}

	// ── Metrics / health endpoint ─────────────────────────────────────────────
	var metricsSrv *http.Server
	if cfg.Server.MetricsListenAddr != "" {
		checks := health.New(health.Checker{Name: "logstore", Check: pingStore})
		checks.StatusFunc = func() any { return ctrl.Progress() }

		mux := http.NewServeMux()
		checks.Register(mux)
		mux.Handle("GET /metrics", promhttp.Handler())

		metricsSrv = &http.Server{Addr: cfg.Server.MetricsListenAddr, Handler: mux}
		go func() {
			slog.Info("metrics endpoint listening", "addr", cfg.Server.MetricsListenAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics endpoint error", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				slog.Warn("metrics endpoint shutdown error", "err", err)
			}
		}()
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.SpeedChanged {
			ctrl.SetSpeed(d.NewSpeed)
			slog.Info("playback speed changed", "speed", d.NewSpeed)
		}
		if d.GainsChanged {
			slog.Warn("gain changes require a restart to take effect")
		}
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}
	defer watcher.Stop()

	// ── Mode dispatch ─────────────────────────────────────────────────────────
	switch {
	case *live:
		return runLive(ctx, cfg, store, audioSink, textSink, metrics)
	case *sessionID != "":
		return runReplay(ctx, ctrl, *sessionID, textSink)
	default:
		fmt.Fprintln(os.Stderr, "echoreplay: nothing to do — pass -session <id>, -live or -list")
		return 2
	}
}

// runReplay plays one stored session end to end.
func runReplay(ctx context.Context, ctrl *replay.Controller, sessionID string, textSink *console.Text) int {
	if err := ctrl.LoadSession(ctx, sessionID); err != nil {
		slog.Error("failed to load session", "session_id", sessionID, "err", err)
		return 1
	}

	if p := ctrl.Progress(); p.ExpiredMedia > 0 {
		textSink.Status(fmt.Sprintf("%d media references expired; attempting regeneration", p.ExpiredMedia))
		if recovered, err := ctrl.RegenerateExpiredMedia(ctx); err != nil {
			slog.Warn("media regeneration incomplete", "recovered", recovered, "err", err)
		} else if recovered > 0 {
			slog.Info("media regenerated", "recovered", recovered)
		}
	}

	if err := ctrl.Play(); err != nil {
		slog.Error("failed to start playback", "err", err)
		return 1
	}

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			ctrl.Stop()
			slog.Info("replay interrupted")
			return 0
		case <-ticker.C:
			if p := ctrl.Progress(); !p.Playing {
				slog.Info("replay finished", "session_id", sessionID, "units", p.Total)
				return 0
			}
		}
	}
}

// runLive attaches to the capture feed and plays coalesced units as the
// conversation happens.
func runLive(ctx context.Context, cfg *config.Config, store logstore.Store, audioSink *console.Audio, textSink *console.Text, metrics *observe.Metrics) int {
	if cfg.Capture.FeedURL == "" {
		fmt.Fprintln(os.Stderr, "echoreplay: -live requires capture.feed_url in the config")
		return 2
	}

	player := ingest.NewLivePlayer(audioSink,
		ingest.WithPlayerGain(aggregator.SourceUser, cfg.Playback.UserGain),
		ingest.WithPlayerGain(aggregator.SourceAI, cfg.Playback.AIGain),
		ingest.WithPlayerTextSink(textSink),
		ingest.WithPlayerMetrics(metrics),
	)
	defer player.Close()

	agg := aggregator.New(aggregator.Events{
		PlaybackStart: player.Handle,
	},
		aggregator.WithQuietPeriod(aggregator.SourceUser, cfg.Capture.UserQuietPeriod()),
		aggregator.WithQuietPeriod(aggregator.SourceAI, cfg.Capture.AIQuietPeriod()),
	)
	defer agg.Close()

	feed, err := ingest.Dial(ctx, cfg.Capture.FeedURL, store, agg, ingest.WithMetrics(metrics))
	if err != nil {
		slog.Error("failed to connect capture feed", "err", err)
		return 1
	}
	defer feed.Close()

	select {
	case <-ctx.Done():
		slog.Info("capture stopped")
	case <-feed.Done():
		slog.Info("capture feed ended")
	}
	return 0
}

// listSessions prints every stored session ID.
func listSessions(ctx context.Context, store logstore.Store) int {
	sessions, err := store.Sessions(ctx)
	if err != nil {
		slog.Error("failed to list sessions", "err", err)
		return 1
	}
	if len(sessions) == 0 {
		fmt.Println("no sessions stored")
		return 0
	}
	for _, id := range sessions {
		fmt.Println(id)
	}
	return 0
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
