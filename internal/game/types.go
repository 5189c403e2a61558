// Package game implements the authoritative war state: the 8x8 sector map,
// turn state, per-client battles, scoreboard and ruleset. All components of
// the server read and mutate the game exclusively through the State type,
// which serializes access behind a single mutex and hands out deep copies.
package game

import (
	"errors"
	"fmt"
	"time"
)

// GridSize is the edge length of the sector map.
const GridSize = 8

// Terrain identifies the terrain type of a sector. The numeric values are
// transmitted on the wire and displayed by the game client.
type Terrain uint8

const (
	TerrainSector Terrain = iota
	TerrainNebula
	TerrainMinefield
	TerrainAsteroidBelt
	TerrainBlackHoleNursery
	TerrainWildlands
	TerrainCrossroads

	TerrainCount
)

var terrainNames = [TerrainCount]string{
	"Sector",
	"Nebula",
	"Minefield",
	"Asteroid Belt",
	"Black Hole Nursery",
	"Wildlands",
	"Crossroads",
}

func (t Terrain) String() string {
	if t < TerrainCount {
		return terrainNames[t]
	}
	return fmt.Sprintf("Terrain(%d)", uint8(t))
}

// Coord addresses one cell of the map.
type Coord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Valid reports whether the coordinate lies on the map.
func (c Coord) Valid() bool {
	return c.X >= 0 && c.X < GridSize && c.Y >= 0 && c.Y < GridSize
}

// Label returns the printable grid reference, e.g. "E1" for (4,0).
func (c Coord) Label() string {
	return fmt.Sprintf("%c%d", 'A'+c.X, c.Y+1)
}

// Sector is one cell of the map. PendingInvaders is only meaningful during
// the enemy-movement pass and is never exposed to clients.
type Sector struct {
	X               int       `json:"x"`
	Y               int       `json:"y"`
	Enemies         int       `json:"enemies"`
	RearBases       int       `json:"rear_bases"`
	ForwardBases    int       `json:"forward_bases"`
	FireBases       int       `json:"fire_bases"`
	Terrain         Terrain   `json:"terrain"`
	DifficultyMod   int       `json:"difficulty_mod"`
	Seed            uint16    `json:"seed"`
	Unknown         uint8     `json:"unknown"`
	Name            string    `json:"name"`
	Hidden          bool      `json:"hidden"`
	Fog             bool      `json:"fog"`
	Beachhead       bool      `json:"beachhead"`
	Blocked         bool      `json:"blocked"`
	AlwaysEnterable bool      `json:"always_enterable"`
	PendingInvaders int       `json:"-"`
	LastUpdate      time.Time `json:"last_update"`
}

// Coord returns the sector's map coordinate.
func (s *Sector) Coord() Coord { return Coord{s.X, s.Y} }

// Turn is the global turn state. Remaining time is not stored here; it is
// derived from the countdown and filled into TurnStatus on demand.
type Turn struct {
	Number     int       `json:"turn_number"`
	MaxTurns   int       `json:"max_turns"`
	Interlude  bool      `json:"interlude"`
	StartedAt  time.Time `json:"turn_started"`
	LastUpdate time.Time `json:"last_update"`
}

// TurnStatus is the turn state as reported to clients, with the countdown
// folded in.
type TurnStatus struct {
	Number    int     `json:"turn_number"`
	MaxTurns  int     `json:"max_turns"`
	Interlude bool    `json:"interlude"`
	Remaining float64 `json:"remaining_seconds"`
}

// Direction names a cardinal direction that enemy movement may be forbidden
// to take.
type Direction string

const (
	DirectionNone  Direction = "none"
	DirectionNorth Direction = "north"
	DirectionSouth Direction = "south"
	DirectionWest  Direction = "west"
	DirectionEast  Direction = "east"
)

// Invasion modes.
const (
	InvasionBeachheads = "beachheads"
	InvasionRandom     = "random"
	InvasionNone       = "none"
)

// Rules is the flat runtime ruleset read by the sector engine and the turn
// scheduler. Mutated only through privileged operator commands.
type Rules struct {
	DifficultyLevel       int       `json:"difficulty_level"`
	InvadersPerTurn       int       `json:"invaders_per_turn"`
	TurnSeconds           float64   `json:"seconds_per_turn"`
	InterludeSeconds      float64   `json:"seconds_per_interlude"`
	InvasionMode          string    `json:"invasion_mode"`
	EnemiesAvoidDirection Direction `json:"enemies_avoid_direction"`
	NonReentrantSectors   bool      `json:"non_reentrant_sectors"`
	FogOfWar              bool      `json:"fog_of_war"`
	NoInterludes          bool      `json:"no_interludes"`
	InfiniteGame          bool      `json:"infinite_game"`
}

// Admiral tracks the strategy points the admiral spends on placing bases.
type Admiral struct {
	StrategyPoints int `json:"strategy_points"`
}

// ClientID identifies an application-layer connection: the peer's "ip:port"
// string. The UDP transport itself is connectionless.
type ClientID string

// Ship is the per-client ship/battle record. X and Y are -1 while the client
// is not inside any sector. PrevBattleID/PrevEnemies remember the last battle
// the scheduler closed out, so a sector-clear that was in flight during turn
// rollover can be told apart from a genuine replay.
type Ship struct {
	Name         string `json:"name"`
	X            int    `json:"x"`
	Y            int    `json:"y"`
	BattleID     uint16 `json:"battle_id"`
	Enemies      int    `json:"enemies"`
	PrevBattleID uint16 `json:"prev_battle_id"`
	PrevEnemies  int    `json:"prev_enemies"`
}

// InCombat reports whether the ship currently occupies a sector.
func (s Ship) InCombat() bool { return s.X >= 0 && s.Y >= 0 }

// Battle is the snapshot handed to a client when it enters a sector. It is a
// copy; later map changes do not affect a running battle.
type Battle struct {
	ID           uint16  `json:"id"`
	X            int     `json:"x"`
	Y            int     `json:"y"`
	Difficulty   int     `json:"difficulty"`
	Enemies      int     `json:"enemies"`
	RearBases    int     `json:"rear_bases"`
	ForwardBases int     `json:"forward_bases"`
	FireBases    int     `json:"fire_bases"`
	Seed         uint16  `json:"seed"`
	Terrain      Terrain `json:"terrain"`
	Unknown      uint8   `json:"unknown"`
	ShipName     string  `json:"ship_name"`
}

// SectorField enumerates the sector fields that operator commands may touch.
type SectorField uint8

const (
	FieldName SectorField = iota
	FieldTerrain
	FieldHidden
	FieldBlocked
	FieldAlwaysEnterable
	FieldFog
	FieldBeachhead
	FieldEnemies
	FieldRearBases
	FieldForwardBases
	FieldFireBases
	FieldDifficultyMod
)

var sectorFieldNames = map[SectorField]string{
	FieldName:            "name",
	FieldTerrain:         "terrain",
	FieldHidden:          "hidden",
	FieldBlocked:         "blocked",
	FieldAlwaysEnterable: "always_enterable",
	FieldFog:             "fog",
	FieldBeachhead:       "beachhead",
	FieldEnemies:         "enemies",
	FieldRearBases:       "rear_bases",
	FieldForwardBases:    "forward_bases",
	FieldFireBases:       "fire_bases",
	FieldDifficultyMod:   "difficulty_mod",
}

func (f SectorField) String() string {
	if name, ok := sectorFieldNames[f]; ok {
		return name
	}
	return fmt.Sprintf("SectorField(%d)", uint8(f))
}

// ParseSectorField resolves a field name as used by the operator facade.
func ParseSectorField(name string) (SectorField, error) {
	for f, n := range sectorFieldNames {
		if n == name {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownField, name)
}

// Numeric reports whether the field holds an int and therefore supports
// delta changes.
func (f SectorField) Numeric() bool {
	switch f {
	case FieldEnemies, FieldRearBases, FieldForwardBases, FieldFireBases, FieldDifficultyMod:
		return true
	}
	return false
}

// Errors returned by state accessors and mutators. The operator facade maps
// these onto HTTP status codes; they are never raised on the packet path.
var (
	ErrBadCoordinates = errors.New("coordinates outside the map")
	ErrUnknownField   = errors.New("unknown field")
	ErrTypeMismatch   = errors.New("value type does not match field type")
	ErrNotNumeric     = errors.New("field does not hold a number")
)

// BaseKind selects which base type the admiral places. The numeric value is
// also the strategy point cost.
type BaseKind int

const (
	BaseRear    BaseKind = 1
	BaseForward BaseKind = 2
	BaseFire    BaseKind = 3
)

func (b BaseKind) String() string {
	switch b {
	case BaseRear:
		return "rear"
	case BaseForward:
		return "forward"
	case BaseFire:
		return "fire"
	}
	return fmt.Sprintf("BaseKind(%d)", int(b))
}

// Cost returns the strategy point cost of placing this base.
func (b BaseKind) Cost() int { return int(b) }
