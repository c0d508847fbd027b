// Command sharedhealth runs the shared-vitality server: one health bar for
// everyone, and a fresh world whenever someone dies.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/sharedhealth/internal/api"
	"github.com/talgya/sharedhealth/internal/config"
	"github.com/talgya/sharedhealth/internal/engine"
	"github.com/talgya/sharedhealth/internal/entropy"
	"github.com/talgya/sharedhealth/internal/environment"
	"github.com/talgya/sharedhealth/internal/notify"
	"github.com/talgya/sharedhealth/internal/participant"
	"github.com/talgya/sharedhealth/internal/persistence"
	"github.com/talgya/sharedhealth/internal/session"
	"github.com/talgya/sharedhealth/internal/vitality"
	"github.com/talgya/sharedhealth/internal/world"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("SHAREDHEALTH_CONFIG"))
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	level, _ := cfg.Level()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	slog.Info("sharedhealth starting",
		"data_dir", cfg.DataDir,
		"waiting_world", cfg.Waiting,
		"retention", cfg.Retention.Mode,
		"keep", cfg.Retention.Keep,
		"tick_interval", cfg.TickInterval,
	)

	// ── Database ──────────────────────────────────────────────────────
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		slog.Error("failed to create data dir", "error", err)
		os.Exit(1)
	}
	db, err := persistence.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database opened", "path", cfg.DBPath)
	if last, err := db.GetMeta("active_world"); err == nil {
		slog.Info("previous run", "active_world", last)
	}

	// ── Environments ──────────────────────────────────────────────────
	registry, err := environment.NewDiskRegistry(cfg.WorldsDir, cfg.Waiting)
	if err != nil {
		slog.Error("failed to open worlds dir", "error", err)
		os.Exit(1)
	}

	// ── Core ──────────────────────────────────────────────────────────
	eng := engine.NewEngine()
	eng.Interval = cfg.TickInterval

	hub := notify.NewHub()
	notifier := notify.Multi{hub, notify.Log{}}
	roster := participant.NewRoster()

	seeds := entropy.NewClient(cfg.RandomOrgKey)
	if seeds.Enabled() {
		slog.Info("random.org seeds enabled")
	} else {
		slog.Info("RANDOM_ORG_API_KEY not set, seeds from crypto/rand")
	}

	tracker := session.NewTracker(cfg.Waiting, cfg.ReconnectDelayTicks, eng, nil)
	mgr := engine.NewManager(eng, engine.Deps{
		Registry:  registry,
		Storage:   environment.Disk{},
		Roster:    roster,
		Sync:      vitality.NewSynchronizer(roster, notifier),
		Tracker:   tracker,
		Actuator:  participant.Direct{},
		Notifier:  notifier,
		Generator: world.SimplexGenerator{Config: cfg.Generation},
		Seeds:     seeds,
		Journal:   db,
	}, engine.ManagerConfig{
		Waiting:            cfg.Waiting,
		ProgressEveryTicks: cfg.ProgressEveryTicks,
		Retention:          cfg.Retention,
	})
	if err := mgr.Init(); err != nil {
		slog.Error("failed to start lifecycle manager", "error", err)
		os.Exit(1)
	}
	if active := mgr.Active(); active != nil && active.Terrain != nil {
		counts := world.TerrainCounts(active.Terrain)
		for t, c := range counts {
			slog.Debug("terrain", "type", world.TerrainName(t), "count", c)
		}
		slog.Info("active world restored", "name", active.Name, "spawn", mgr.Spawn().String(), "hexes", active.Terrain.HexCount())
	}

	sim := engine.NewSimulation(eng, mgr, engine.SimConfig{
		DeathTriggerDelayTicks: cfg.DeathTriggerDelayTicks,
		WaitingCheckTicks:      cfg.WaitingCheckTicks,
		WaitingRadius:          cfg.WaitingRadius,
		EventFlushTicks:        cfg.EventFlushTicks,
	})
	sim.Start()
	if mgr.Active() == nil {
		sim.TriggerRegeneration("no active world")
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	if cfg.AdminKey == "" {
		slog.Warn("SHAREDHEALTH_ADMIN_KEY not set, admin POST endpoints are disabled")
	}
	apiServer := &api.Server{
		Sim:            sim,
		Eng:            eng,
		DB:             db,
		Hub:            hub,
		Port:           cfg.APIPort,
		AdminKey:       cfg.AdminKey,
		RelayKey:       cfg.RelayKey,
		CORSOrigins:    cfg.CORSOrigins,
		TrustedProxies: cfg.TrustedProxies,
		RegenPerHour:   cfg.RegenPerHour,
	}
	httpServer := apiServer.Start()

	// ── Start ─────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("API: http://localhost:%d/api/v1/status\n", cfg.APIPort)
	fmt.Println("Starting main loop... (Ctrl+C to stop)")

	eng.Run(ctx)

	// ── Shutdown ──────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown", "error", err)
	}

	// The loop has stopped; state is ours to read.
	if err := db.SaveEvents(sim.TakePending()); err != nil {
		slog.Error("final event save failed", "error", err)
	}
	st := sim.Status()
	if err := db.SaveStatus(st); err != nil {
		slog.Error("final save failed", "error", err)
	}

	slog.Info("stopped",
		"uptime", st.Uptime,
		"regenerations", st.Completed,
		"stream_dropped", humanize.Comma(int64(hub.Dropped())),
	)
}
