package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/warserver-project/warserver/internal/events"
	"github.com/warserver-project/warserver/internal/game"
)

// normalizeValue coerces JSON-decoded values into the types the sector
// fields expect. encoding/json delivers every number as float64.
func normalizeValue(field game.SectorField, value any) any {
	if field.Numeric() || field == game.FieldTerrain {
		if f, ok := value.(float64); ok {
			return int(f)
		}
	}
	return value
}

type sectorSetRequest struct {
	Field string `json:"field" binding:"required"`
	Value any    `json:"value"`
}

func (s *Server) handleSetSector(c *gin.Context) {
	x, y, ok := parseCoords(c)
	if !ok {
		return
	}
	var req sectorSetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	field, err := game.ParseSectorField(req.Field)
	if err != nil {
		writeGameError(c, err)
		return
	}
	if err := s.state.UpdateSector(x, y, field, normalizeValue(field, req.Value)); err != nil {
		writeGameError(c, err)
		return
	}
	s.logger.Info().Int("x", x).Int("y", y).Str("field", req.Field).
		Interface("value", req.Value).Msg("sector updated")
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

type sectorModifyRequest struct {
	Field string `json:"field" binding:"required"`
	Delta int    `json:"delta"`
}

func (s *Server) handleModifySector(c *gin.Context) {
	x, y, ok := parseCoords(c)
	if !ok {
		return
	}
	var req sectorModifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	field, err := game.ParseSectorField(req.Field)
	if err != nil {
		writeGameError(c, err)
		return
	}
	if err := s.state.ChangeSector(x, y, field, req.Delta); err != nil {
		writeGameError(c, err)
		return
	}
	s.logger.Info().Int("x", x).Int("y", y).Str("field", req.Field).
		Int("delta", req.Delta).Msg("sector modified")
	c.JSON(http.StatusOK, gin.H{"status": "modified"})
}

type placeBaseRequest struct {
	X    int    `json:"x"`
	Y    int    `json:"y"`
	Kind string `json:"kind" binding:"required"`
}

// handlePlaceBase spends strategy points on a new base.
func (s *Server) handlePlaceBase(c *gin.Context) {
	var req placeBaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	var kind game.BaseKind
	switch req.Kind {
	case "rear":
		kind = game.BaseRear
	case "forward":
		kind = game.BaseForward
	case "fire":
		kind = game.BaseFire
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be rear, forward or fire"})
		return
	}
	placed, err := s.state.PlaceBase(req.X, req.Y, kind)
	if err != nil {
		writeGameError(c, err)
		return
	}
	if !placed {
		c.JSON(http.StatusConflict, gin.H{"error": "not enough strategy points"})
		return
	}
	s.logger.Info().Int("x", req.X).Int("y", req.Y).Str("kind", req.Kind).Msg("base placed")
	c.JSON(http.StatusOK, gin.H{"status": "placed", "strategy_points": s.state.StrategyPoints()})
}

type deltaRequest struct {
	Delta int `json:"delta" binding:"required"`
}

func (s *Server) handleChangeStrategyPoints(c *gin.Context) {
	var req deltaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	s.state.ChangeStrategyPoints(req.Delta)
	c.JSON(http.StatusOK, gin.H{"strategy_points": s.state.StrategyPoints()})
}

type scoreboardRequest struct {
	ShipName string `json:"shipname" binding:"required"`
	Kills    int    `json:"kills"`
	Clears   int    `json:"clears"`
}

// handleChangeScoreboard adjusts a ship's tallies, for manual corrections.
func (s *Server) handleChangeScoreboard(c *gin.Context) {
	var req scoreboardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Kills != 0 {
		s.state.ChangeScoreboardKills(req.ShipName, req.Kills)
	}
	if req.Clears != 0 {
		s.state.ChangeScoreboardClears(req.ShipName, req.Clears)
	}
	kills, clears := s.state.Scoreboard()
	c.JSON(http.StatusOK, gin.H{"kills": kills, "clears": clears})
}

// handleEndTurn forces the current phase to end immediately.
func (s *Server) handleEndTurn(c *gin.Context) {
	s.scheduler.EndTurn()
	s.logger.Info().Msg("turn ended by operator")
	c.JSON(http.StatusOK, s.state.TurnStatus())
}

type adjustTimeRequest struct {
	Seconds float64 `json:"seconds" binding:"required"`
}

func (s *Server) handleAdjustTime(c *gin.Context) {
	var req adjustTimeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	s.scheduler.AdjustTime(req.Seconds)
	s.logger.Info().Float64("seconds", req.Seconds).Msg("turn clock adjusted")
	c.JSON(http.StatusOK, s.state.TurnStatus())
}

type numberRequest struct {
	Number int `json:"number"`
}

func (s *Server) handleChangeTurnNumber(c *gin.Context) {
	var req numberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	s.state.ChangeTurnNumber(req.Number)
	c.JSON(http.StatusOK, s.state.TurnStatus())
}

func (s *Server) handleChangeMaxTurns(c *gin.Context) {
	var req numberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	s.state.ChangeMaxTurns(req.Number)
	c.JSON(http.StatusOK, s.state.TurnStatus())
}

func (s *Server) handleResetFog(c *gin.Context) {
	s.state.ResetFog()
	c.JSON(http.StatusOK, gin.H{"status": "fog reset"})
}

type coordRequest struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (s *Server) handleAddBeachhead(c *gin.Context) {
	var req coordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := s.state.AddBeachhead(req.X, req.Y); err != nil {
		writeGameError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"beachheads": s.state.Beachheads()})
}

func (s *Server) handleRemoveBeachhead(c *gin.Context) {
	var req coordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := s.state.RemoveBeachhead(req.X, req.Y); err != nil {
		writeGameError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"beachheads": s.state.Beachheads()})
}

// handleSetRules replaces the runtime ruleset. The current rules are used
// as the base, so partial bodies only change the named fields.
func (s *Server) handleSetRules(c *gin.Context) {
	rules := s.state.Rules()
	if err := c.ShouldBindJSON(&rules); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	s.state.SetRules(rules)
	s.logger.Info().Interface("rules", rules).Msg("rules updated")
	c.JSON(http.StatusOK, rules)
}

type mapRuleRequest struct {
	Key   string `json:"key" binding:"required"`
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Field string `json:"field" binding:"required"`
	Value any    `json:"value"`
	Add   bool   `json:"add"`
}

// handleAddMapRule adds a per-viewer map presentation rule.
func (s *Server) handleAddMapRule(c *gin.Context) {
	var req mapRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	field, err := game.ParseSectorField(req.Field)
	if err != nil {
		writeGameError(c, err)
		return
	}
	rule := game.MapRule{
		X:     req.X,
		Y:     req.Y,
		Field: field,
		Value: normalizeValue(field, req.Value),
		Add:   req.Add,
	}
	if err := s.state.AddMapRule(req.Key, rule); err != nil {
		writeGameError(c, err)
		return
	}
	s.logger.Info().Str("key", req.Key).Str("field", req.Field).Msg("map rule added")
	c.JSON(http.StatusOK, gin.H{"status": "added"})
}

func (s *Server) handleClearMapRules(c *gin.Context) {
	key := c.Param("key")
	s.state.ClearMapRules(key)
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

type enterRuleRequest struct {
	Key   string `json:"key" binding:"required"`
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Field string `json:"field" binding:"required"`
	Value any    `json:"value"`
	Add   bool   `json:"add"`
}

// handleAddEnterRule adds a per-viewer admission rule. Coordinates of
// -1/-1 apply the rule to every sector.
func (s *Server) handleAddEnterRule(c *gin.Context) {
	var req enterRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	field, err := game.ParseSectorField(req.Field)
	if err != nil {
		writeGameError(c, err)
		return
	}
	rule := game.FieldRule{
		Field: field,
		Value: normalizeValue(field, req.Value),
		Add:   req.Add,
	}
	if err := s.state.AddEnterRule(req.Key, req.X, req.Y, rule); err != nil {
		writeGameError(c, err)
		return
	}
	s.logger.Info().Str("key", req.Key).Str("field", req.Field).Msg("enter rule added")
	c.JSON(http.StatusOK, gin.H{"status": "added"})
}

func (s *Server) handleClearEnterRules(c *gin.Context) {
	key := c.Param("key")
	s.state.ClearEnterRules(key)
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

type saveRequest struct {
	Name string `json:"name" binding:"required"`
}

func (s *Server) handleSaveGame(c *gin.Context) {
	var req saveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	snap := s.state.Snapshot()
	if err := s.store.SaveGame(req.Name, snap, false); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.eventBus.Emit(c.Request.Context(), events.Event{
		Type:   events.EventGameSaved,
		Source: "api",
		Payload: events.SavePayload{
			Filename:   req.Name,
			TurnNumber: snap.Turn.Number,
		},
	})
	c.JSON(http.StatusOK, gin.H{"status": "saved", "name": req.Name})
}

// handleLoadGame restores a saved war and resumes its clock.
func (s *Server) handleLoadGame(c *gin.Context) {
	var req saveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	snap, err := s.store.LoadGame(req.Name)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	s.scheduler.Stop()
	s.state.Restore(snap)
	s.scheduler.Resume(snap.RemainingSeconds)
	s.eventBus.Emit(c.Request.Context(), events.Event{
		Type:   events.EventGameLoaded,
		Source: "api",
		Payload: events.SavePayload{
			Filename:   req.Name,
			TurnNumber: snap.Turn.Number,
		},
	})
	s.logger.Info().Str("save", req.Name).Int("turn", snap.Turn.Number).Msg("game restored")
	c.JSON(http.StatusOK, gin.H{"status": "loaded", "turn": snap.Turn.Number})
}
