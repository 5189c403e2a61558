// Package health implements periodic background monitoring: stale client
// cleanup, disk and memory utilization checks, and a heartbeat event for
// telemetry consumers.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/warserver-project/warserver/internal/config"
	"github.com/warserver-project/warserver/internal/events"
	"github.com/warserver-project/warserver/internal/game"
	"github.com/warserver-project/warserver/internal/network"
	"github.com/warserver-project/warserver/internal/util"
)

const (
	staleCheckInterval = 30 * time.Second
	clientTimeout      = 2 * time.Minute
	diskCheckInterval  = 10 * time.Minute
	memCheckInterval   = 5 * time.Minute
	heartbeatInterval  = time.Minute
)

// Manager runs the periodic health checks.
type Manager struct {
	cfg      *config.Config
	eventBus *events.EventBus
	state    *game.State
	udp      *network.Server
}

// NewManager creates a new health check manager.
func NewManager(cfg *config.Config, eventBus *events.EventBus, state *game.State, udp *network.Server) *Manager {
	return &Manager{
		cfg:      cfg,
		eventBus: eventBus,
		state:    state,
		udp:      udp,
	}
}

// Start launches all health check goroutines and blocks until the context
// is cancelled.
func (m *Manager) Start(ctx context.Context) {
	checks := []struct {
		name     string
		interval time.Duration
		fn       func(context.Context)
	}{
		{"stale_clients", staleCheckInterval, m.checkStaleClients},
		{"disk_utilization", diskCheckInterval, m.checkDiskUtilization},
		{"memory", memCheckInterval, m.checkMemory},
		{"heartbeat", heartbeatInterval, m.heartbeat},
	}

	for _, check := range checks {
		check := check
		go func() {
			ticker := time.NewTicker(check.interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					check.fn(ctx)
				}
			}
		}()
	}

	log.Info().Int("checks", len(checks)).Msg("health check manager started")

	<-ctx.Done()
	log.Info().Msg("health check manager stopped")
}

// checkStaleClients drops clients that stopped sending. Their battles are
// released without awards, like any other disconnect.
func (m *Manager) checkStaleClients(ctx context.Context) {
	if dropped := m.udp.DropStale(clientTimeout); dropped > 0 {
		log.Info().Int("dropped", dropped).Msg("dropped stale clients")
	}
}

// checkDiskUtilization monitors the save directory's disk and alerts at
// thresholds.
func (m *Manager) checkDiskUtilization(ctx context.Context) {
	path := m.cfg.GetApplicationData().Storage.Directory
	if path == "" {
		path = "."
	}

	usage, err := util.GetDiskUsage(path)
	if err != nil {
		log.Warn().Err(err).Msg("disk utilization check failed")
		return
	}

	log.Debug().
		Float64("used_percent", usage.UsedPercent).
		Uint64("free_gb", usage.Free).
		Msg("disk utilization")

	var level string
	switch {
	case usage.UsedPercent >= 95:
		level = "critical"
	case usage.UsedPercent >= 90:
		level = "warning"
	default:
		return
	}

	log.Warn().Str("level", level).
		Msg(fmt.Sprintf("disk usage at %.1f%% (%d GB free of %d GB total)",
			usage.UsedPercent, usage.Free, usage.Total))
}

// checkMemory logs system memory pressure.
func (m *Manager) checkMemory(ctx context.Context) {
	mem, err := util.GetMemoryUsage()
	if err != nil {
		log.Warn().Err(err).Msg("memory check failed")
		return
	}
	if mem.UsedPercent >= 90 {
		log.Warn().Float64("used_percent", mem.UsedPercent).
			Uint64("available_mb", mem.Available).Msg("system memory pressure")
	}
}

// heartbeat publishes a periodic status event for telemetry consumers.
func (m *Manager) heartbeat(ctx context.Context) {
	status := m.state.TurnStatus()
	m.eventBus.Emit(ctx, events.Event{
		Type:   events.EventStatusReport,
		Source: "health",
		Payload: map[string]interface{}{
			"type":          "heartbeat",
			"connections":   m.udp.ConnectionCount(),
			"turn":          status.Number,
			"interlude":     status.Interlude,
			"total_enemies": m.state.TotalEnemies(),
			"timestamp":     time.Now().Unix(),
		},
	})
}
