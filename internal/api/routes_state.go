package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/warserver-project/warserver/internal/game"
	"github.com/warserver-project/warserver/internal/util"
)

// parseCoords reads the :x/:y path parameters. On failure it writes the
// error response and returns ok=false.
func parseCoords(c *gin.Context) (x, y int, ok bool) {
	x, errX := strconv.Atoi(c.Param("x"))
	y, errY := strconv.Atoi(c.Param("y"))
	if errX != nil || errY != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "coordinates must be integers"})
		return 0, 0, false
	}
	return x, y, true
}

// viewerFromQuery builds the overlay viewer from the optional address and
// shipname query parameters. Absent both, the unfiltered view is returned.
func viewerFromQuery(c *gin.Context) game.Viewer {
	return game.Viewer{
		Address:  c.Query("address"),
		ShipName: c.Query("shipname"),
	}
}

// writeGameError maps the game package's sentinel errors onto HTTP codes.
func writeGameError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, game.ErrBadCoordinates):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, game.ErrUnknownField):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, game.ErrTypeMismatch), errors.Is(err, game.ErrNotNumeric):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// handleStatus reports server health: host metrics, connection count and
// the headline war numbers.
func (s *Server) handleStatus(c *gin.Context) {
	status := gin.H{
		"system":        util.GetSystemInfo(),
		"connections":   s.udp.ConnectionCount(),
		"turn":          s.state.TurnStatus(),
		"total_enemies": s.state.TotalEnemies(),
	}
	if cpu, err := util.GetCPUUsage(); err == nil {
		status["cpu_percent"] = cpu
	}
	if mem, err := util.GetMemoryUsage(); err == nil {
		status["memory"] = mem
	}
	if disk, err := util.GetDiskUsage(s.cfg.GetApplicationData().Storage.Directory); err == nil {
		status["disk"] = disk
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleGetMap(c *gin.Context) {
	grid := s.state.GetMap(viewerFromQuery(c))
	c.JSON(http.StatusOK, gin.H{"sectors": grid})
}

func (s *Server) handleGetSector(c *gin.Context) {
	x, y, ok := parseCoords(c)
	if !ok {
		return
	}
	sector, err := s.state.GetSector(x, y, viewerFromQuery(c))
	if err != nil {
		writeGameError(c, err)
		return
	}
	c.JSON(http.StatusOK, sector)
}

// handleGetUpdates returns the state delta since the given RFC3339
// timestamp. Without a since parameter the full state is returned.
func (s *Server) handleGetUpdates(c *gin.Context) {
	var since time.Time
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		since = parsed
	}
	c.JSON(http.StatusOK, s.state.GetUpdates(since, viewerFromQuery(c)))
}

func (s *Server) handleGetTurn(c *gin.Context) {
	c.JSON(http.StatusOK, s.state.TurnStatus())
}

func (s *Server) handleGetShips(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ships": s.state.GetShips()})
}

func (s *Server) handleGetScoreboard(c *gin.Context) {
	kills, clears := s.state.Scoreboard()
	c.JSON(http.StatusOK, gin.H{"kills": kills, "clears": clears})
}

// handleScoreHistory returns persisted per-turn scoreboards. An optional
// turn parameter narrows it to one turn.
func (s *Server) handleScoreHistory(c *gin.Context) {
	turn := -1
	if raw := c.Query("turn"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "turn must be an integer"})
			return
		}
		turn = parsed
	}
	rows, err := s.store.ScoreHistory(turn)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": rows})
}

func (s *Server) handleGetRules(c *gin.Context) {
	c.JSON(http.StatusOK, s.state.Rules())
}

func (s *Server) handleGetBeachheads(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"beachheads": s.state.Beachheads()})
}

func (s *Server) handleGetAdmiral(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"strategy_points": s.state.StrategyPoints()})
}

func (s *Server) handleListSaves(c *gin.Context) {
	saves, err := s.store.ListSaves()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"saves": saves})
}
