// WarServer - Artemis fleet-versus-invasion war simulator.
//
// WarServer runs the 8x8 sector war: it speaks the proprietary binary UDP
// protocol to bridge clients, advances the invasion every turn, exposes a
// REST API and websocket feed for operators, and publishes telemetry via
// MQTT.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/warserver-project/warserver/internal/api"
	"github.com/warserver-project/warserver/internal/cli"
	"github.com/warserver-project/warserver/internal/config"
	"github.com/warserver-project/warserver/internal/events"
	"github.com/warserver-project/warserver/internal/game"
	"github.com/warserver-project/warserver/internal/health"
	"github.com/warserver-project/warserver/internal/network"
	"github.com/warserver-project/warserver/internal/store"
	"github.com/warserver-project/warserver/internal/telemetry"
	"github.com/warserver-project/warserver/internal/turns"
	"github.com/warserver-project/warserver/internal/util"
)

const (
	AppName    = "WarServer"
	AppVersion = "1.0.0"
	Banner     = `
 __          __         _____
 \ \        / /        / ____|
  \ \  /\  / /_ _ _ __| (___   ___ _ ____   _____ _ __
   \ \/  \/ / _' | '__|\___ \ / _ \ '__\ \ / / _ \ '__|
    \  /\  / (_| | |   ____) |  __/ |   \ V /  __/ |
     \/  \/ \__,_|_|  |_____/ \___|_|    \_/ \___|_|   v%s
 Artemis War Simulator
`
)

func main() {
	configDir := flag.String("config", config.DefaultConfigDir, "configuration directory")
	loadSave := flag.String("load", "", "saved game to restore on startup")
	flag.Parse()

	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Initialize logger with defaults first (reconfigured after config load)
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting WarServer")

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Re-initialize logger with config-based settings
	logging := cfg.GetApplicationData().Logging
	logCfg := util.LogConfig{
		Level:         logging.Level,
		Directory:     logging.Directory,
		RetentionDays: logging.RetentionDays,
		Console:       true,
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := cfg.Validate()
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Msg("configuration validation failed, please fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	if ip, err := util.GetLocalIP(); err == nil {
		log.Info().Str("ip", ip).Int("port", cfg.GetServerData().GamePort).
			Msg("bridge clients connect here")
	}

	// Create root context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := events.NewEventBus()

	st, err := store.NewStore(cfg.GetApplicationData().Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open save store")
	}
	defer st.Close()

	state := newGame(cfg)

	// At every turn boundary: record the finished turn's scoreboard, then
	// autosave. The snapshot is taken after the turn counter advanced.
	autosave := func(snap game.Snapshot) error {
		if err := st.RecordScores(snap.Turn.Number-1, snap.Kills, snap.Clears); err != nil {
			log.Warn().Err(err).Msg("failed to record score history")
		}
		return st.Autosave(snap)
	}
	scheduler := turns.NewScheduler(state, autosave, eventBus)

	// Restore a save before anything starts serving.
	resumed := false
	if *loadSave != "" {
		snap, err := st.LoadGame(*loadSave)
		if err != nil {
			log.Fatal().Err(err).Str("save", *loadSave).Msg("failed to restore save")
		}
		state.Restore(snap)
		scheduler.Resume(snap.RemainingSeconds)
		resumed = true
	}
	if !resumed {
		scheduler.Start()
	}

	udpServer := network.NewServer(cfg.GameAddr(), state, eventBus)

	var apiServer *api.Server
	if cfg.GetServerData().APIEnabled {
		apiServer = api.NewServer(cfg, state, scheduler, st, udpServer, eventBus)
	}

	var mqttHandler *telemetry.MQTTHandler
	if cfg.GetApplicationData().MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Str("addr", cfg.GameAddr()).Msg("starting UDP game server")
		if err := udpServer.Run(ctx); err != nil {
			errCh <- fmt.Errorf("udp server: %w", err)
		}
	}()

	if apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Str("addr", cfg.APIAddr()).Msg("starting operator API")
			if err := apiServer.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("operator API failed (non-fatal)")
			}
		}()
	}

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed (non-fatal)")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting health check manager")
		health.NewManager(cfg, eventBus, state, udpServer).Start(ctx)
	}()

	if cfg.GetServerData().CLIEnabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting war console")
			cli.NewCLI(state, scheduler, st, eventBus).Start(ctx)
		}()
	}

	// ---------------------------------------------------------------
	// Graceful shutdown handling
	// ---------------------------------------------------------------
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	shutdownCh := make(chan struct{}, 1)
	eventBus.Subscribe(events.EventShutdown, "main.shutdown", func(ctx context.Context, event events.Event) error {
		select {
		case shutdownCh <- struct{}{}:
		default:
		}
		return nil
	})

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-shutdownCh:
		log.Info().Msg("shutdown requested from console")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")
	scheduler.Stop()
	cancel()

	// Final autosave so an operator restart resumes where the war stood.
	if err := st.Autosave(state.Snapshot()); err != nil {
		log.Warn().Err(err).Msg("shutdown autosave failed")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(15 * time.Second):
		log.Warn().Msg("shutdown timed out after 15 seconds, forcing exit")
	}

	if mqttHandler != nil {
		mqttHandler.PublishShutdown()
	}
	eventBus.Stop()

	log.Info().Msg("WarServer stopped")
}

// newGame builds a fresh war from the configured generation parameters.
func newGame(cfg *config.Config) *game.State {
	g := cfg.GetGameData()

	rules := game.Rules{
		DifficultyLevel:       g.DifficultyLevel,
		InvadersPerTurn:       g.InvadersPerTurn,
		TurnSeconds:           g.TurnSeconds,
		InterludeSeconds:      g.InterludeSeconds,
		InvasionMode:          g.InvasionMode,
		EnemiesAvoidDirection: game.Direction(g.AvoidDirection),
		NonReentrantSectors:   g.NonReentrantSectors,
		FogOfWar:              g.FogOfWar,
		NoInterludes:          g.NoInterludes,
		InfiniteGame:          g.InfiniteGame,
	}
	setup := game.Setup{
		Beachheads:          g.Beachheads,
		EmptySectors:        g.EmptySectors,
		RandomizeBeachheads: g.RandomizeBeachheads,
		OffByOneFix:         g.OffByOneFix,
		WarmupPasses:        g.WarmupPasses,
		MaxTurns:            g.MaxTurns,
	}

	seed := g.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return game.New(rules, setup, seed)
}
