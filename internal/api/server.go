// Package api implements the operator REST interface: map and turn
// inspection, sector editing, save management, and a websocket observer
// feed. The game clients never touch this surface; they speak the binary
// UDP protocol.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/warserver-project/warserver/internal/config"
	"github.com/warserver-project/warserver/internal/events"
	"github.com/warserver-project/warserver/internal/game"
	"github.com/warserver-project/warserver/internal/network"
	"github.com/warserver-project/warserver/internal/store"
	"github.com/warserver-project/warserver/internal/turns"
	"github.com/warserver-project/warserver/internal/util"
)

// Server is the operator HTTP server.
type Server struct {
	cfg       *config.Config
	state     *game.State
	scheduler *turns.Scheduler
	store     *store.Store
	udp       *network.Server
	eventBus  *events.EventBus
	observers *observerHub
	router    *gin.Engine
	http      *http.Server
	logger    zerolog.Logger
}

// NewServer creates the operator API server.
func NewServer(cfg *config.Config, state *game.State, scheduler *turns.Scheduler,
	st *store.Store, udp *network.Server, eventBus *events.EventBus) *Server {

	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		cfg:       cfg,
		state:     state,
		scheduler: scheduler,
		store:     st,
		udp:       udp,
		eventBus:  eventBus,
		observers: newObserverHub(state),
		logger:    util.ComponentLogger("api"),
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	sec := s.cfg.GetApplicationData().Security

	corsConfig := cors.DefaultConfig()
	if len(sec.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = sec.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	router.Use(cors.New(corsConfig))

	limiter := NewRateLimiter(sec.RateLimitRPS, sec.RateLimitBurst)
	router.Use(limiter.Middleware())

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/ws", s.observers.handleUpgrade)

	state := router.Group("/api/state")
	{
		state.GET("/status", s.handleStatus)
		state.GET("/map", s.handleGetMap)
		state.GET("/sector/:x/:y", s.handleGetSector)
		state.GET("/updates", s.handleGetUpdates)
		state.GET("/turn", s.handleGetTurn)
		state.GET("/ships", s.handleGetShips)
		state.GET("/scoreboard", s.handleGetScoreboard)
		state.GET("/scoreboard/history", s.handleScoreHistory)
		state.GET("/rules", s.handleGetRules)
		state.GET("/beachheads", s.handleGetBeachheads)
		state.GET("/admiral", s.handleGetAdmiral)
		state.GET("/saves", s.handleListSaves)
	}

	control := router.Group("/api/control")
	{
		control.POST("/sector/:x/:y/set", s.handleSetSector)
		control.POST("/sector/:x/:y/modify", s.handleModifySector)
		control.POST("/base", s.handlePlaceBase)
		control.POST("/strategy-points", s.handleChangeStrategyPoints)
		control.POST("/scoreboard", s.handleChangeScoreboard)
		control.POST("/turn/end", s.handleEndTurn)
		control.POST("/turn/time", s.handleAdjustTime)
		control.POST("/turn/number", s.handleChangeTurnNumber)
		control.POST("/turn/max", s.handleChangeMaxTurns)
		control.POST("/fog/reset", s.handleResetFog)
		control.POST("/beachhead", s.handleAddBeachhead)
		control.DELETE("/beachhead", s.handleRemoveBeachhead)
		control.PUT("/rules", s.handleSetRules)
		control.POST("/overlay/map", s.handleAddMapRule)
		control.DELETE("/overlay/map/:key", s.handleClearMapRules)
		control.POST("/overlay/enter", s.handleAddEnterRule)
		control.DELETE("/overlay/enter/:key", s.handleClearEnterRules)
		control.POST("/save", s.handleSaveGame)
		control.POST("/load", s.handleLoadGame)
	}

	return router
}

// Start runs the API server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := s.cfg.APIAddr()
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc := network.ReuseAddrListenConfig()
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	go s.observers.run(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("operator API listening")
		if err := s.http.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn().Err(err).Msg("API shutdown failed")
		}
		s.logger.Info().Msg("operator API stopped")
		return nil
	case err := <-errCh:
		return fmt.Errorf("API server failed: %w", err)
	}
}
