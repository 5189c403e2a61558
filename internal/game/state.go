package game

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RemainingSource yields the seconds left on the turn countdown. The turn
// scheduler attaches its countdown here so TurnStatus can report remaining
// time without the state owning a timer.
type RemainingSource interface {
	Remaining() time.Duration
}

// Setup carries the startup-only knobs consumed while generating a fresh
// map. They are not part of the runtime ruleset.
type Setup struct {
	Beachheads          int  // number of initial beachhead columns, 0..8
	EmptySectors        int  // number of hidden sectors scattered over the map
	RandomizeBeachheads bool // shuffle the beachhead column pattern
	OffByOneFix         bool // use the corrected beachhead column pattern
	WarmupPasses        int  // simulation passes run before the first turn
	MaxTurns            int
}

// State is the single source of truth for a running game. Every exported
// method acquires the mutex for its full duration; values returned to
// callers are deep copies, never aliases of internal structures.
type State struct {
	mu sync.Mutex

	sectors    [GridSize][GridSize]Sector
	turn       Turn
	rules      Rules
	beachheads []Coord
	ships      map[ClientID]*Ship
	admiral    Admiral
	kills      map[string]int
	clears     map[string]int

	// Per-viewer display and battle overrides, see overlay.go.
	mapRules   map[string][]MapRule
	enterRules map[string]map[Coord][]FieldRule

	// Last-update timestamps partitioned so incremental update queries can
	// skip unchanged sections cheaply.
	lastMapChange     time.Time
	variousLastUpdate time.Time
	scoreLastUpdate   time.Time
	rulesLastUpdate   time.Time
	turnEndedAt       time.Time

	notifications []chan struct{}
	remaining     RemainingSource
	rng           *rand.Rand
	logger        zerolog.Logger
}

// New creates a fresh game: generated map, warmup simulation passes, fog
// reset. rules is the runtime ruleset; setup the startup-only generation
// parameters.
func New(rules Rules, setup Setup, seed int64) *State {
	rng := rand.New(rand.NewSource(seed))
	s := &State{
		rules:      rules,
		ships:      make(map[ClientID]*Ship),
		kills:      make(map[string]int),
		clears:     make(map[string]int),
		mapRules:   make(map[string][]MapRule),
		enterRules: make(map[string]map[Coord][]FieldRule),
		rng:        rng,
		logger:     log.With().Str("component", "game").Logger(),
	}

	for x := 0; x < GridSize; x++ {
		for y := 0; y < GridSize; y++ {
			s.sectors[x][y] = Sector{
				X:            x,
				Y:            y,
				RearBases:    rng.Intn(4),
				ForwardBases: rng.Intn(2),
				Terrain:      Terrain(rng.Intn(int(TerrainCount))),
				Seed:         uint16(rng.Intn(0x10000)),
				Name:         "Sector",
				Fog:          true,
			}
		}
	}

	s.placeBeachheads(setup)
	s.hideSectors(setup.EmptySectors)

	s.turn = Turn{
		Number:     1,
		MaxTurns:   setup.MaxTurns,
		StartedAt:  time.Now(),
		LastUpdate: time.Now(),
	}

	// Warmup: let the invasion run a few turns before anyone connects so
	// the map opens with an established front.
	for i := 0; i < setup.WarmupPasses; i++ {
		s.defeatBasesLocked()
		s.enemiesProceedLocked()
		s.enemiesSpawnLocked()
	}
	s.resetFogLocked()

	s.logger.Info().
		Int("beachheads", len(s.beachheads)).
		Int("warmup_passes", setup.WarmupPasses).
		Int("max_turns", setup.MaxTurns).
		Msg("game engine started")
	return s
}

// beachheadColumns is the column order in which beachheads are assigned.
// The first pattern reproduces an off-by-one quirk of the reference server;
// the second is the corrected spread.
var (
	beachheadColumnsLegacy = []int{4, 5, 3, 6, 2, 7, 1, 0}
	beachheadColumnsFixed  = []int{3, 4, 2, 5, 1, 6, 0, 7}
)

func (s *State) placeBeachheads(setup Setup) {
	cols := beachheadColumnsLegacy
	if setup.OffByOneFix {
		cols = beachheadColumnsFixed
	}
	cols = append([]int(nil), cols...)
	if setup.RandomizeBeachheads {
		s.rng.Shuffle(len(cols), func(i, j int) { cols[i], cols[j] = cols[j], cols[i] })
	}
	n := setup.Beachheads
	if n > GridSize {
		n = GridSize
	}
	if n < 0 {
		n = 0
	}
	// Generated beachheads always sit on the first row; the game master may
	// move them anywhere afterwards.
	for _, col := range cols[:n] {
		s.beachheads = append(s.beachheads, Coord{col, 0})
		s.sectors[col][0].Beachhead = true
	}
}

func (s *State) hideSectors(count int) {
	perColumn := make(map[int]int)
	for i := 0; i < count; i++ {
		perColumn[s.rng.Intn(GridSize)]++
	}
	for col, num := range perColumn {
		// Row 0 stays visible: beachheads live there.
		rows := s.rng.Perm(GridSize - 1)
		if num > len(rows) {
			num = len(rows)
		}
		for _, r := range rows[:num] {
			s.sectors[col][r+1].Hidden = true
		}
	}
}

// AttachCountdown wires the turn scheduler's countdown into turn status
// reporting.
func (s *State) AttachCountdown(r RemainingSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remaining = r
}

// RegisterNotification registers a wakeable signal that is poked whenever a
// mutation occurs that should propagate to clients. The channel must be
// buffered; notification sends never block.
func (s *State) RegisterNotification(ch chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, ch)
}

// notifyLocked wakes all registered listeners. Callers hold the mutex.
func (s *State) notifyLocked() {
	for _, ch := range s.notifications {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// mapChangedLocked stamps the map-change timestamp and wakes listeners.
func (s *State) mapChangedLocked() {
	s.lastMapChange = time.Now()
	s.notifyLocked()
}

// GetMap returns a deep copy of the full grid with the viewer's overlay
// applied. With fog of war active the fog flag is folded into hidden, so
// unexplored sectors look hidden to the viewer.
func (s *State) GetMap(viewer Viewer) [GridSize][GridSize]Sector {
	s.mu.Lock()
	defer s.mu.Unlock()
	grid := s.sectors
	for _, r := range s.mapRulesForLocked(viewer) {
		r.apply(&grid[r.X][r.Y])
	}
	if s.rules.FogOfWar {
		for x := 0; x < GridSize; x++ {
			for y := 0; y < GridSize; y++ {
				grid[x][y].Hidden = grid[x][y].Hidden || grid[x][y].Fog
			}
		}
	}
	return grid
}

// GetSector returns a copy of one cell with the viewer overlay applied.
func (s *State) GetSector(x, y int, viewer Viewer) (Sector, error) {
	if !(Coord{x, y}).Valid() {
		return Sector{}, ErrBadCoordinates
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sector := s.sectors[x][y]
	for _, r := range s.mapRulesForLocked(viewer) {
		if r.X == x && r.Y == y {
			r.apply(&sector)
		}
	}
	if s.rules.FogOfWar {
		sector.Hidden = sector.Hidden || sector.Fog
	}
	return sector, nil
}

// UpdateSector replaces one field of a sector. The value's type must match
// the field's type; numeric counters should use ChangeSector instead so
// concurrent modifications don't overwrite each other.
func (s *State) UpdateSector(x, y int, field SectorField, value any) error {
	if !(Coord{x, y}).Valid() {
		return ErrBadCoordinates
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := setField(&s.sectors[x][y], field, value); err != nil {
		return err
	}
	s.sectors[x][y].LastUpdate = time.Now()
	s.mapChangedLocked()
	return nil
}

// ChangeSector adds a delta to a numeric sector field. Counts are clamped
// at zero rather than going negative.
func (s *State) ChangeSector(x, y int, field SectorField, delta int) error {
	if !(Coord{x, y}).Valid() {
		return ErrBadCoordinates
	}
	if !field.Numeric() {
		return ErrNotNumeric
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := numericField(&s.sectors[x][y], field)
	*p += delta
	if *p < 0 && field != FieldDifficultyMod {
		*p = 0
	}
	s.sectors[x][y].LastUpdate = time.Now()
	s.mapChangedLocked()
	return nil
}

// setField stores value into the given field, enforcing the field's type.
func setField(sec *Sector, field SectorField, value any) error {
	switch field {
	case FieldName:
		v, ok := value.(string)
		if !ok {
			return ErrTypeMismatch
		}
		sec.Name = v
	case FieldTerrain:
		switch v := value.(type) {
		case Terrain:
			if v >= TerrainCount {
				return ErrTypeMismatch
			}
			sec.Terrain = v
		case int:
			if v < 0 || v >= int(TerrainCount) {
				return ErrTypeMismatch
			}
			sec.Terrain = Terrain(v)
		default:
			return ErrTypeMismatch
		}
	case FieldHidden, FieldBlocked, FieldAlwaysEnterable, FieldFog, FieldBeachhead:
		v, ok := value.(bool)
		if !ok {
			return ErrTypeMismatch
		}
		switch field {
		case FieldHidden:
			sec.Hidden = v
		case FieldBlocked:
			sec.Blocked = v
		case FieldAlwaysEnterable:
			sec.AlwaysEnterable = v
		case FieldFog:
			sec.Fog = v
		case FieldBeachhead:
			sec.Beachhead = v
		}
	case FieldEnemies, FieldRearBases, FieldForwardBases, FieldFireBases, FieldDifficultyMod:
		v, ok := value.(int)
		if !ok {
			return ErrTypeMismatch
		}
		if v < 0 && field != FieldDifficultyMod {
			v = 0
		}
		*numericField(sec, field) = v
	default:
		return ErrUnknownField
	}
	return nil
}

func numericField(sec *Sector, field SectorField) *int {
	switch field {
	case FieldEnemies:
		return &sec.Enemies
	case FieldRearBases:
		return &sec.RearBases
	case FieldForwardBases:
		return &sec.ForwardBases
	case FieldFireBases:
		return &sec.FireBases
	case FieldDifficultyMod:
		return &sec.DifficultyMod
	}
	return nil
}

// TurnStatus returns the turn state with remaining countdown seconds folded
// in.
func (s *State) TurnStatus() TurnStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnStatusLocked()
}

func (s *State) turnStatusLocked() TurnStatus {
	ts := TurnStatus{
		Number:    s.turn.Number,
		MaxTurns:  s.turn.MaxTurns,
		Interlude: s.turn.Interlude,
	}
	if s.remaining != nil {
		ts.Remaining = s.remaining.Remaining().Seconds()
	}
	return ts
}

// ChangeTurnNumber adds n to the turn number.
func (s *State) ChangeTurnNumber(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turn.Number += n
	if s.turn.Number < 1 {
		s.turn.Number = 1
	}
	s.turn.LastUpdate = time.Now()
	s.notifyLocked()
}

// ChangeMaxTurns adds n to the turn limit.
func (s *State) ChangeMaxTurns(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turn.MaxTurns += n
	s.turn.LastUpdate = time.Now()
	s.notifyLocked()
}

// GetShips returns a copy of all ship records.
func (s *State) GetShips() map[ClientID]Ship {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[ClientID]Ship, len(s.ships))
	for id, ship := range s.ships {
		out[id] = *ship
	}
	return out
}

// StrategyPoints returns the admiral's current strategy point balance.
func (s *State) StrategyPoints() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.admiral.StrategyPoints
}

// ChangeStrategyPoints adds delta to the admiral's strategy points.
func (s *State) ChangeStrategyPoints(delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admiral.StrategyPoints += delta
	s.variousLastUpdate = time.Now()
}

// PlaceBase spends strategy points to add a base of the given kind to a
// sector. Returns false without mutating anything if the admiral cannot
// afford it.
func (s *State) PlaceBase(x, y int, kind BaseKind) (bool, error) {
	if !(Coord{x, y}).Valid() {
		return false, ErrBadCoordinates
	}
	if kind < BaseRear || kind > BaseFire {
		return false, fmt.Errorf("invalid base kind %d", kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.admiral.StrategyPoints < kind.Cost() {
		return false, nil
	}
	s.admiral.StrategyPoints -= kind.Cost()
	sec := &s.sectors[x][y]
	switch kind {
	case BaseRear:
		sec.RearBases++
	case BaseForward:
		sec.ForwardBases++
	case BaseFire:
		sec.FireBases++
	}
	sec.LastUpdate = time.Now()
	s.variousLastUpdate = time.Now()
	s.mapChangedLocked()
	return true, nil
}

// Scoreboard returns copies of the kill and clear counters keyed by
// shipname.
func (s *State) Scoreboard() (kills, clears map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kills = make(map[string]int, len(s.kills))
	clears = make(map[string]int, len(s.clears))
	for k, v := range s.kills {
		kills[k] = v
	}
	for k, v := range s.clears {
		clears[k] = v
	}
	return kills, clears
}

// ChangeScoreboardKills adjusts a ship's kill counter.
func (s *State) ChangeScoreboardKills(shipname string, delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kills[shipname] += delta
	s.scoreLastUpdate = time.Now()
}

// ChangeScoreboardClears adjusts a ship's sector-clear counter.
func (s *State) ChangeScoreboardClears(shipname string, delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears[shipname] += delta
	s.scoreLastUpdate = time.Now()
}

// Beachheads returns a copy of the beachhead list. A sector listed twice
// receives double invader weight.
func (s *State) Beachheads() []Coord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Coord(nil), s.beachheads...)
}

// AddBeachhead appends a beachhead. Duplicates are permitted and increase
// that sector's share of spawned invaders.
func (s *State) AddBeachhead(x, y int) error {
	if !(Coord{x, y}).Valid() {
		return ErrBadCoordinates
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.beachheads = append(s.beachheads, Coord{x, y})
	s.sectors[x][y].Beachhead = true
	s.sectors[x][y].LastUpdate = now
	s.variousLastUpdate = now
	s.mapChangedLocked()
	return nil
}

// RemoveBeachhead removes the first occurrence of (x,y) from the beachhead
// list. The sector's beachhead flag is cleared only when no occurrence
// remains.
func (s *State) RemoveBeachhead(x, y int) error {
	if !(Coord{x, y}).Valid() {
		return ErrBadCoordinates
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := Coord{x, y}
	for i, b := range s.beachheads {
		if b == c {
			s.beachheads = append(s.beachheads[:i], s.beachheads[i+1:]...)
			break
		}
	}
	remaining := false
	for _, b := range s.beachheads {
		if b == c {
			remaining = true
			break
		}
	}
	now := time.Now()
	s.sectors[x][y].Beachhead = remaining
	s.sectors[x][y].LastUpdate = now
	s.variousLastUpdate = now
	s.mapChangedLocked()
	return nil
}

// Rules returns a copy of the runtime ruleset.
func (s *State) Rules() Rules {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rules
}

// SetRules replaces the runtime ruleset.
func (s *State) SetRules(r Rules) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = r
	s.rulesLastUpdate = time.Now()
	s.notifyLocked()
}
