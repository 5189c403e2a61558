package game

import "time"

// defeatBasesLocked is the base-destruction pass: any sector holding enemies
// loses all of its bases.
func (s *State) defeatBasesLocked() {
	now := time.Now()
	for x := 0; x < GridSize; x++ {
		for y := 0; y < GridSize; y++ {
			sec := &s.sectors[x][y]
			if sec.Enemies <= 0 {
				continue
			}
			if sec.RearBases > 0 || sec.ForwardBases > 0 || sec.FireBases > 0 {
				sec.RearBases = 0
				sec.ForwardBases = 0
				sec.FireBases = 0
				sec.LastUpdate = now
			}
		}
	}
}

// enemiesProceedLocked is the movement pass: each sector's enemies split
// evenly across its qualifying neighbours, the remainder stays put.
// Qualifying neighbours are on-map, not hidden, and not in the direction the
// ruleset forbids. The pass conserves the total enemy count.
func (s *State) enemiesProceedLocked() {
	now := time.Now()
	for x := 0; x < GridSize; x++ {
		for y := 0; y < GridSize; y++ {
			sec := &s.sectors[x][y]
			if sec.Enemies <= 0 {
				continue
			}
			var targets []Coord
			for _, n := range neighbours(Coord{x, y}, s.rules.EnemiesAvoidDirection) {
				if !s.sectors[n.X][n.Y].Hidden {
					targets = append(targets, n)
				}
			}
			if len(targets) == 0 {
				continue
			}
			share := sec.Enemies / len(targets)
			if share == 0 {
				continue
			}
			for _, n := range targets {
				s.sectors[n.X][n.Y].PendingInvaders += share
			}
			sec.Enemies -= share * len(targets)
			sec.LastUpdate = now
		}
	}
	// Arrivals land only after every sector has emitted, so a pass never
	// moves the same enemy twice.
	for x := 0; x < GridSize; x++ {
		for y := 0; y < GridSize; y++ {
			sec := &s.sectors[x][y]
			if sec.PendingInvaders > 0 {
				sec.Enemies += sec.PendingInvaders
				sec.PendingInvaders = 0
				sec.LastUpdate = now
			}
		}
	}
}

// enemiesSpawnLocked is the invasion pass. In beachheads mode exactly
// InvadersPerTurn enemies land across the beachhead list, weighted by how
// often a sector appears in it; the division remainder goes to the head of
// the list one each. Random mode spreads reinforcements over sectors that
// already hold enemies. None disables spawning.
func (s *State) enemiesSpawnLocked() {
	total := s.rules.InvadersPerTurn
	if total <= 0 {
		return
	}
	now := time.Now()
	switch s.rules.InvasionMode {
	case InvasionNone:
		return
	case InvasionRandom:
		var occupied []Coord
		for x := 0; x < GridSize; x++ {
			for y := 0; y < GridSize; y++ {
				if s.sectors[x][y].Enemies > 0 && !s.sectors[x][y].Hidden {
					occupied = append(occupied, Coord{x, y})
				}
			}
		}
		if len(occupied) == 0 {
			return
		}
		for i := 0; i < total; i++ {
			c := occupied[s.rng.Intn(len(occupied))]
			s.sectors[c.X][c.Y].Enemies++
			s.sectors[c.X][c.Y].LastUpdate = now
		}
	default: // beachheads
		if len(s.beachheads) == 0 {
			return
		}
		share := total / len(s.beachheads)
		remainder := total % len(s.beachheads)
		for i, b := range s.beachheads {
			n := share
			if i < remainder {
				n++
			}
			if n == 0 {
				continue
			}
			s.sectors[b.X][b.Y].Enemies += n
			s.sectors[b.X][b.Y].LastUpdate = now
		}
	}
}

// resetFogLocked re-fogs the whole map, then lifts fog on and around every
// friendly sector.
func (s *State) resetFogLocked() {
	for x := 0; x < GridSize; x++ {
		for y := 0; y < GridSize; y++ {
			s.sectors[x][y].Fog = true
		}
	}
	for x := 0; x < GridSize; x++ {
		for y := 0; y < GridSize; y++ {
			sec := s.sectors[x][y]
			if !sec.Hidden && sec.Enemies == 0 {
				s.clearFogAroundLocked(x, y)
			}
		}
	}
}

// clearFogAroundLocked lifts fog on (x,y) and its orthogonal neighbours.
func (s *State) clearFogAroundLocked(x, y int) {
	s.sectors[x][y].Fog = false
	for _, n := range neighbours(Coord{x, y}, DirectionNone) {
		s.sectors[n.X][n.Y].Fog = false
	}
}

// ResetFog re-derives fog of war from the current front line.
func (s *State) ResetFog() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetFogLocked()
	s.mapChangedLocked()
}

// AdvanceTurn runs the full turn-to-interlude transition: base destruction,
// enemy movement, invasion, battle release, turn increment. Returns the new
// turn number. The caller (the scheduler) persists the autosave and restarts
// the countdown afterwards.
func (s *State) AdvanceTurn() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.defeatBasesLocked()
	s.enemiesProceedLocked()
	s.enemiesSpawnLocked()
	for _, ship := range s.ships {
		s.releaseShipLocked(ship)
	}
	s.resetFogLocked()

	s.turn.Number++
	s.turn.Interlude = true
	now := time.Now()
	s.turn.LastUpdate = now
	s.turnEndedAt = now
	s.variousLastUpdate = now
	s.mapChangedLocked()

	s.logger.Info().Int("turn", s.turn.Number).Msg("turn advanced, interlude begins")
	return s.turn.Number
}

// BeginTurn flips interlude back to a running turn. It reports false, and
// leaves the interlude standing, when the turn limit is exhausted and the
// infinite-game rule is off.
func (s *State) BeginTurn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.rules.InfiniteGame && s.turn.Number > s.turn.MaxTurns {
		s.logger.Info().Int("turn", s.turn.Number).Int("max_turns", s.turn.MaxTurns).
			Msg("turn limit reached, war is over")
		return false
	}
	s.turn.Interlude = false
	now := time.Now()
	s.turn.StartedAt = now
	s.turn.LastUpdate = now
	s.notifyLocked()
	s.logger.Info().Int("turn", s.turn.Number).Msg("turn begins")
	return true
}

// TotalEnemies sums the enemy count over the whole map.
func (s *State) TotalEnemies() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for x := 0; x < GridSize; x++ {
		for y := 0; y < GridSize; y++ {
			total += s.sectors[x][y].Enemies
		}
	}
	return total
}
