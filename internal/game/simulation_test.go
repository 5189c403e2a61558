package game

import "testing"

func TestDefeatBases(t *testing.T) {
	s := newTestState(Rules{})
	s.sectors[2][2].Enemies = 5
	s.sectors[2][2].RearBases = 2
	s.sectors[2][2].ForwardBases = 1
	s.sectors[2][2].FireBases = 1
	s.sectors[3][3].RearBases = 3

	s.defeatBasesLocked()

	got := s.sectors[2][2]
	if got.RearBases != 0 || got.ForwardBases != 0 || got.FireBases != 0 {
		t.Errorf("occupied sector kept bases: %d/%d/%d",
			got.RearBases, got.ForwardBases, got.FireBases)
	}
	if s.sectors[3][3].RearBases != 3 {
		t.Errorf("enemy-free sector lost bases: %d", s.sectors[3][3].RearBases)
	}
}

func TestEnemiesProceedEvenSplit(t *testing.T) {
	s := newTestState(Rules{EnemiesAvoidDirection: DirectionNorth})
	setEnemies(s, 3, 3, 10)

	s.enemiesProceedLocked()

	// Three targets with north excluded: south, west, east get 3 each, the
	// remainder of 1 stays.
	if got := enemiesAt(s, 3, 3); got != 1 {
		t.Errorf("origin = %d, want 1", got)
	}
	for _, c := range []Coord{{3, 4}, {2, 3}, {4, 3}} {
		if got := enemiesAt(s, c.X, c.Y); got != 3 {
			t.Errorf("%s = %d, want 3", c.Label(), got)
		}
	}
	if got := enemiesAt(s, 3, 2); got != 0 {
		t.Errorf("excluded direction received %d enemies", got)
	}
}

func TestEnemiesProceedSmallGroupHolds(t *testing.T) {
	s := newTestState(Rules{})
	setEnemies(s, 3, 3, 2)

	s.enemiesProceedLocked()

	// Four targets, two enemies: the even share is zero, so nobody moves.
	if got := enemiesAt(s, 3, 3); got != 2 {
		t.Errorf("origin = %d, want 2", got)
	}
	if got := s.TotalEnemies(); got != 2 {
		t.Errorf("total = %d, want 2", got)
	}
}

func TestEnemiesProceedSkipsHidden(t *testing.T) {
	s := newTestState(Rules{})
	setEnemies(s, 0, 0, 4)
	s.sectors[1][0].Hidden = true

	s.enemiesProceedLocked()

	// The only remaining target is (0,1); all four enemies move there.
	if got := enemiesAt(s, 0, 1); got != 4 {
		t.Errorf("(0,1) = %d, want 4", got)
	}
	if got := enemiesAt(s, 1, 0); got != 0 {
		t.Errorf("hidden sector received %d enemies", got)
	}
	if got := enemiesAt(s, 0, 0); got != 0 {
		t.Errorf("origin = %d, want 0", got)
	}
}

func TestEnemiesProceedConservesTotal(t *testing.T) {
	s := newTestState(Rules{})
	setEnemies(s, 0, 0, 17)
	setEnemies(s, 3, 3, 41)
	setEnemies(s, 7, 7, 9)
	setEnemies(s, 4, 0, 100)

	before := s.TotalEnemies()
	s.enemiesProceedLocked()
	if got := s.TotalEnemies(); got != before {
		t.Fatalf("movement changed the total: %d -> %d", before, got)
	}
}

func TestSpawnSingleBeachhead(t *testing.T) {
	s := newTestState(Rules{InvasionMode: InvasionBeachheads, InvadersPerTurn: 20})
	s.beachheads = []Coord{{4, 0}}

	s.enemiesSpawnLocked()

	if got := enemiesAt(s, 4, 0); got != 20 {
		t.Errorf("beachhead = %d, want 20", got)
	}
	if got := s.TotalEnemies(); got != 20 {
		t.Errorf("total = %d, want 20", got)
	}
}

func TestSpawnBeachheadsExactTotal(t *testing.T) {
	s := newTestState(Rules{InvasionMode: InvasionBeachheads, InvadersPerTurn: 40})
	s.beachheads = []Coord{{4, 0}, {5, 0}, {3, 0}}

	s.enemiesSpawnLocked()

	// 40 over 3 beachheads: share 13, remainder 1 to the head of the list.
	if got := enemiesAt(s, 4, 0); got != 14 {
		t.Errorf("first beachhead = %d, want 14", got)
	}
	if got := enemiesAt(s, 5, 0); got != 13 {
		t.Errorf("second beachhead = %d, want 13", got)
	}
	if got := enemiesAt(s, 3, 0); got != 13 {
		t.Errorf("third beachhead = %d, want 13", got)
	}
	if got := s.TotalEnemies(); got != 40 {
		t.Errorf("total = %d, want exactly 40", got)
	}
}

func TestSpawnDuplicateBeachheadDoublesWeight(t *testing.T) {
	s := newTestState(Rules{InvasionMode: InvasionBeachheads, InvadersPerTurn: 9})
	s.beachheads = []Coord{{4, 0}, {4, 0}, {5, 0}}

	s.enemiesSpawnLocked()

	if got := enemiesAt(s, 4, 0); got != 6 {
		t.Errorf("doubled beachhead = %d, want 6", got)
	}
	if got := enemiesAt(s, 5, 0); got != 3 {
		t.Errorf("single beachhead = %d, want 3", got)
	}
}

func TestSpawnRandomReinforcesOccupied(t *testing.T) {
	s := newTestState(Rules{InvasionMode: InvasionRandom, InvadersPerTurn: 10})
	setEnemies(s, 2, 2, 1)

	s.enemiesSpawnLocked()

	// Only one occupied sector, so all reinforcements land there.
	if got := enemiesAt(s, 2, 2); got != 11 {
		t.Errorf("occupied sector = %d, want 11", got)
	}
}

func TestSpawnRandomNeedsOccupiedSector(t *testing.T) {
	s := newTestState(Rules{InvasionMode: InvasionRandom, InvadersPerTurn: 10})

	s.enemiesSpawnLocked()

	if got := s.TotalEnemies(); got != 0 {
		t.Errorf("enemies spawned onto an empty map: %d", got)
	}
}

func TestSpawnNoneDisabled(t *testing.T) {
	s := newTestState(Rules{InvasionMode: InvasionNone, InvadersPerTurn: 10})
	s.beachheads = []Coord{{4, 0}}

	s.enemiesSpawnLocked()

	if got := s.TotalEnemies(); got != 0 {
		t.Errorf("invasion mode none spawned %d enemies", got)
	}
}

func TestAdvanceTurnStartsInterlude(t *testing.T) {
	s := newTestState(Rules{})
	setEnemies(s, 4, 4, 5)
	if _, err := s.EnterSector("10.0.0.1:4000", 4, 4, "Artemis"); err != nil {
		t.Fatalf("EnterSector failed: %v", err)
	}

	if got := s.AdvanceTurn(); got != 2 {
		t.Errorf("turn number = %d, want 2", got)
	}
	ts := s.TurnStatus()
	if !ts.Interlude {
		t.Error("interlude not active after turn advance")
	}
	ship := s.GetShips()["10.0.0.1:4000"]
	if ship.InCombat() {
		t.Error("battle survived the turn rollover")
	}
}

func TestBeginTurnRespectsLimit(t *testing.T) {
	s := newTestState(Rules{})
	s.turn.Number = 41
	s.turn.Interlude = true

	if s.BeginTurn() {
		t.Fatal("turn began past the limit")
	}
	if !s.TurnStatus().Interlude {
		t.Error("interlude cleared although the war is over")
	}

	r := s.Rules()
	r.InfiniteGame = true
	s.SetRules(r)
	if !s.BeginTurn() {
		t.Fatal("infinite game refused to begin a turn")
	}
	if s.TurnStatus().Interlude {
		t.Error("interlude still active after turn begin")
	}
}

func TestResetFogFollowsFrontLine(t *testing.T) {
	s := newTestState(Rules{FogOfWar: true})
	for x := 0; x < GridSize; x++ {
		for y := 0; y < GridSize; y++ {
			s.sectors[x][y].Enemies = 5
		}
	}
	// The lone friendly sector.
	setEnemies(s, 4, 4, 0)

	s.ResetFog()

	if s.sectors[4][4].Fog {
		t.Error("friendly sector stayed fogged")
	}
	for _, c := range []Coord{{4, 3}, {4, 5}, {3, 4}, {5, 4}} {
		if s.sectors[c.X][c.Y].Fog {
			t.Errorf("%s adjacent to the front stayed fogged", c.Label())
		}
	}
	if !s.sectors[0][0].Fog {
		t.Error("sector far behind enemy lines is not fogged")
	}
}

func TestTotalEnemies(t *testing.T) {
	s := newTestState(Rules{})
	setEnemies(s, 0, 0, 3)
	setEnemies(s, 7, 7, 4)
	if got := s.TotalEnemies(); got != 7 {
		t.Errorf("total = %d, want 7", got)
	}
}
