package game

import "time"

// Snapshot is the complete serializable game state. It carries everything
// needed to resume a war: the lock, the notification channels and the live
// countdown are reconstructed on restore, with the countdown resumed from
// RemainingSeconds.
type Snapshot struct {
	Sectors          [GridSize][GridSize]Sector `json:"sectors"`
	Turn             Turn                       `json:"turn"`
	RemainingSeconds float64                    `json:"remaining_seconds"`
	Rules            Rules                      `json:"rules"`
	Beachheads       []Coord                    `json:"beachheads"`
	Ships            map[ClientID]Ship          `json:"ships"`
	Admiral          Admiral                    `json:"admiral"`
	Kills            map[string]int             `json:"kills"`
	Clears           map[string]int             `json:"clears"`
	SavedAt          time.Time                  `json:"saved_at"`
}

// Snapshot captures the full state under one lock acquisition.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Sectors:    s.sectors,
		Turn:       s.turn,
		Rules:      s.rules,
		Beachheads: append([]Coord(nil), s.beachheads...),
		Ships:      make(map[ClientID]Ship, len(s.ships)),
		Admiral:    s.admiral,
		Kills:      make(map[string]int, len(s.kills)),
		Clears:     make(map[string]int, len(s.clears)),
		SavedAt:    time.Now(),
	}
	for id, ship := range s.ships {
		snap.Ships[id] = *ship
	}
	for k, v := range s.kills {
		snap.Kills[k] = v
	}
	for k, v := range s.clears {
		snap.Clears[k] = v
	}
	if s.remaining != nil {
		snap.RemainingSeconds = s.remaining.Remaining().Seconds()
	}
	return snap
}

// Restore replaces the live state with a saved snapshot. The caller restarts
// the turn countdown from snap.RemainingSeconds afterwards.
func (s *State) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sectors = snap.Sectors
	s.turn = snap.Turn
	s.rules = snap.Rules
	s.beachheads = append([]Coord(nil), snap.Beachheads...)
	s.ships = make(map[ClientID]*Ship, len(snap.Ships))
	for id, ship := range snap.Ships {
		copied := ship
		s.ships[id] = &copied
	}
	s.admiral = snap.Admiral
	s.kills = make(map[string]int, len(snap.Kills))
	for k, v := range snap.Kills {
		s.kills[k] = v
	}
	s.clears = make(map[string]int, len(snap.Clears))
	for k, v := range snap.Clears {
		s.clears[k] = v
	}

	now := time.Now()
	s.turn.LastUpdate = now
	s.variousLastUpdate = now
	s.scoreLastUpdate = now
	s.rulesLastUpdate = now
	s.turnEndedAt = now
	s.mapChangedLocked()
	s.logger.Info().Int("turn", s.turn.Number).Time("saved_at", snap.SavedAt).
		Msg("game state restored from snapshot")
}

// Update is the incremental state diff served to pollers. Full marks a
// complete refresh: either no baseline was given or a turn boundary
// invalidated incremental diffing (ship positions reset globally).
type Update struct {
	Full       bool              `json:"full"`
	Turn       *TurnStatus       `json:"turn,omitempty"`
	Sectors    []Sector          `json:"sectors,omitempty"`
	Ships      map[ClientID]Ship `json:"ships,omitempty"`
	Beachheads []Coord           `json:"beachheads,omitempty"`
	Admiral    *Admiral          `json:"admiral,omitempty"`
	Kills      map[string]int    `json:"kills,omitempty"`
	Clears     map[string]int    `json:"clears,omitempty"`
	Rules      *Rules            `json:"rules,omitempty"`
	AsOf       time.Time         `json:"as_of"`
}

// GetUpdates returns the state sections modified after since. A zero since,
// or a turn boundary after it, yields the full snapshot. Sections are
// guarded by separate timestamps so a frequent poller usually receives a
// small payload.
func (s *State) GetUpdates(since time.Time, viewer Viewer) Update {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	full := since.IsZero() || s.turnEndedAt.After(since)

	u := Update{Full: full, AsOf: now}

	if full || s.turn.LastUpdate.After(since) {
		ts := s.turnStatusLocked()
		u.Turn = &ts
	}
	if full || s.variousLastUpdate.After(since) {
		u.Ships = make(map[ClientID]Ship, len(s.ships))
		for id, ship := range s.ships {
			u.Ships[id] = *ship
		}
		u.Beachheads = append([]Coord(nil), s.beachheads...)
		adm := s.admiral
		u.Admiral = &adm
	}
	if full || s.scoreLastUpdate.After(since) {
		u.Kills = make(map[string]int, len(s.kills))
		u.Clears = make(map[string]int, len(s.clears))
		for k, v := range s.kills {
			u.Kills[k] = v
		}
		for k, v := range s.clears {
			u.Clears[k] = v
		}
	}
	if full || s.rulesLastUpdate.After(since) {
		r := s.rules
		u.Rules = &r
	}

	overlay := s.mapRulesForLocked(viewer)
	for x := 0; x < GridSize; x++ {
		for y := 0; y < GridSize; y++ {
			sec := s.sectors[x][y]
			if !full && !sec.LastUpdate.After(since) {
				continue
			}
			for _, r := range overlay {
				if r.X == x && r.Y == y {
					r.apply(&sec)
				}
			}
			if s.rules.FogOfWar {
				sec.Hidden = sec.Hidden || sec.Fog
			}
			u.Sectors = append(u.Sectors, sec)
		}
	}
	return u
}

// LastMapChange reports when the map last changed; the broadcast loop uses
// it to decide whether a wakeup actually carries news.
func (s *State) LastMapChange() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMapChange
}
