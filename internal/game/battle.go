package game

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotEnterable is returned by EnterSector for every admission failure.
// The transport maps it onto a protocol error package; the reason is only
// for the log line.
var ErrNotEnterable = errors.New("sector not enterable")

// EnterSector admits a client into a sector and opens a battle. The battle
// is a snapshot: the client fights the copy, and later map changes do not
// reach into it. Entering while a battle is open releases the old battle
// without awards.
func (s *State) EnterSector(client ClientID, x, y int, shipname string) (Battle, error) {
	if !(Coord{x, y}).Valid() {
		return Battle{}, ErrBadCoordinates
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sec := s.sectors[x][y]
	viewer := Viewer{Address: string(client), ShipName: shipname}
	for _, r := range s.enterRulesForLocked(viewer, x, y) {
		applyFieldRule(&sec, r)
	}

	switch {
	case sec.Blocked:
		return Battle{}, fmt.Errorf("%w: blocked", ErrNotEnterable)
	case sec.Hidden:
		return Battle{}, fmt.Errorf("%w: hidden", ErrNotEnterable)
	case sec.Enemies <= 0 && !sec.AlwaysEnterable:
		return Battle{}, fmt.Errorf("%w: no enemies", ErrNotEnterable)
	}
	if s.rules.NonReentrantSectors {
		for id, other := range s.ships {
			if id != client && other.InCombat() && other.X == x && other.Y == y {
				return Battle{}, fmt.Errorf("%w: occupied by %s", ErrNotEnterable, other.Name)
			}
		}
	}
	if !sec.AlwaysEnterable && !s.hasFriendlyNeighbourLocked(x, y) {
		return Battle{}, fmt.Errorf("%w: not on the front line", ErrNotEnterable)
	}

	ship := s.ships[client]
	if ship == nil {
		ship = &Ship{X: -1, Y: -1}
		s.ships[client] = ship
	}
	if ship.InCombat() {
		s.releaseShipLocked(ship)
	}
	if shipname != "" {
		ship.Name = shipname
	} else if ship.Name == "" {
		ship.Name = string(client)
	}

	ship.X = x
	ship.Y = y
	ship.BattleID = uint16(s.rng.Intn(0xffff) + 1)
	ship.Enemies = sec.Enemies

	difficulty := s.rules.DifficultyLevel + sec.DifficultyMod
	if difficulty < 1 {
		difficulty = 1
	}
	if difficulty > 11 {
		difficulty = 11
	}

	s.variousLastUpdate = time.Now()
	s.notifyLocked()
	s.logger.Info().
		Str("client", string(client)).
		Str("ship", ship.Name).
		Str("sector", Coord{x, y}.Label()).
		Uint16("battle_id", ship.BattleID).
		Int("enemies", sec.Enemies).
		Msg("battle opened")

	return Battle{
		ID:           ship.BattleID,
		X:            x,
		Y:            y,
		Difficulty:   difficulty,
		Enemies:      sec.Enemies,
		RearBases:    sec.RearBases,
		ForwardBases: sec.ForwardBases,
		FireBases:    sec.FireBases,
		Seed:         sec.Seed,
		Terrain:      sec.Terrain,
		Unknown:      sec.Unknown,
		ShipName:     ship.Name,
	}, nil
}

// hasFriendlyNeighbourLocked reports whether (x,y) borders a friendly
// sector: visible with zero enemies. The direction enemy movement avoids is
// skipped here as well, keeping the front line one-directional.
func (s *State) hasFriendlyNeighbourLocked(x, y int) bool {
	for _, n := range neighbours(Coord{x, y}, s.rules.EnemiesAvoidDirection) {
		nb := s.sectors[n.X][n.Y]
		if !nb.Hidden && nb.Enemies == 0 {
			return true
		}
	}
	return false
}

// neighbours returns the on-map orthogonal neighbours of c, skipping the
// excluded direction. North is towards row 0.
func neighbours(c Coord, excluded Direction) []Coord {
	out := make([]Coord, 0, 4)
	add := func(dir Direction, n Coord) {
		if dir != excluded && n.Valid() {
			out = append(out, n)
		}
	}
	add(DirectionNorth, Coord{c.X, c.Y - 1})
	add(DirectionSouth, Coord{c.X, c.Y + 1})
	add(DirectionWest, Coord{c.X - 1, c.Y})
	add(DirectionEast, Coord{c.X + 1, c.Y})
	return out
}

// KillsInSector books kills a client reports from its running battle. A
// report carrying an unknown or already-released battle id is silently
// dropped; the client may legitimately still be sending after a rollover.
func (s *State) KillsInSector(client ClientID, battleID uint16, kills int) {
	if kills <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ship, ok := s.ships[client]
	if !ok || !ship.InCombat() || ship.BattleID != battleID {
		return
	}
	dead := kills
	if dead > ship.Enemies {
		dead = ship.Enemies
	}
	ship.Enemies -= dead
	sec := &s.sectors[ship.X][ship.Y]
	// The map never shows more enemies than the battle has left. It may
	// already show fewer after a simulation pass; that stands.
	if sec.Enemies > ship.Enemies {
		sec.Enemies = ship.Enemies
		sec.LastUpdate = time.Now()
		s.mapChangedLocked()
	}
	s.kills[ship.Name] += dead
	s.scoreLastUpdate = time.Now()
}

// ClearSector books a cleared battle: the sector is freed of enemies, the
// ship is credited one clear plus any remaining kills plus one strategy
// point, and fog lifts around the sector.
//
// A clear naming the previous battle id is honoured with credits only, and
// only when that battle had no enemies left when it was released; otherwise
// the report is stale and dropped.
func (s *State) ClearSector(client ClientID, battleID uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ship, ok := s.ships[client]
	if !ok {
		return fmt.Errorf("clear from unknown client %s", client)
	}

	if !ship.InCombat() || ship.BattleID != battleID {
		if ship.PrevBattleID == battleID && ship.PrevEnemies == 0 {
			s.clears[ship.Name]++
			s.admiral.StrategyPoints++
			s.scoreLastUpdate = time.Now()
			s.variousLastUpdate = time.Now()
			s.logger.Info().Str("ship", ship.Name).Uint16("battle_id", battleID).
				Msg("late sector clear credited")
			return nil
		}
		return fmt.Errorf("stale clear for battle %d from %s", battleID, client)
	}

	x, y := ship.X, ship.Y
	sec := &s.sectors[x][y]
	if ship.Enemies > 0 {
		s.kills[ship.Name] += ship.Enemies
		ship.Enemies = 0
	}
	sec.Enemies = 0
	sec.LastUpdate = time.Now()
	s.clears[ship.Name]++
	s.admiral.StrategyPoints++
	s.clearFogAroundLocked(x, y)

	ship.PrevBattleID = ship.BattleID
	ship.PrevEnemies = 0
	ship.X, ship.Y = -1, -1
	ship.BattleID = 0

	now := time.Now()
	s.scoreLastUpdate = now
	s.variousLastUpdate = now
	s.mapChangedLocked()
	s.logger.Info().Str("ship", ship.Name).Str("sector", Coord{x, y}.Label()).
		Msg("sector cleared")
	return nil
}

// releaseShipLocked closes a ship's battle without awards, remembering it
// for the late-clear window.
func (s *State) releaseShipLocked(ship *Ship) {
	if !ship.InCombat() {
		return
	}
	ship.PrevBattleID = ship.BattleID
	ship.PrevEnemies = ship.Enemies
	ship.X, ship.Y = -1, -1
	ship.BattleID = 0
	ship.Enemies = 0
}

// ReleaseAllBattles closes every open battle, called at turn rollover. Late
// clears for a battle stay acceptable only if it had been fought down to
// zero.
func (s *State) ReleaseAllBattles() {
	s.mu.Lock()
	defer s.mu.Unlock()
	released := 0
	for _, ship := range s.ships {
		if ship.InCombat() {
			s.releaseShipLocked(ship)
			released++
		}
	}
	if released > 0 {
		s.variousLastUpdate = time.Now()
		s.notifyLocked()
		s.logger.Debug().Int("battles", released).Msg("battles released at turn end")
	}
}

// DisconnectClient drops a client's ship record. An open battle is released
// without awards; scoreboard entries persist under the shipname.
func (s *State) DisconnectClient(client ClientID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ship, ok := s.ships[client]
	if !ok {
		return
	}
	s.releaseShipLocked(ship)
	delete(s.ships, client)
	s.variousLastUpdate = time.Now()
	s.notifyLocked()
}

// SetShipName stores the name a client announced for its ship.
func (s *State) SetShipName(client ClientID, name string) {
	if name == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ship := s.ships[client]
	if ship == nil {
		ship = &Ship{X: -1, Y: -1}
		s.ships[client] = ship
	}
	if ship.Name == name {
		return
	}
	ship.Name = name
	s.variousLastUpdate = time.Now()
	s.notifyLocked()
}
