package game

import (
	"errors"
	"testing"
)

const testClient ClientID = "192.0.2.10:51000"

func TestEnterSectorOpensBattle(t *testing.T) {
	s := newTestState(Rules{DifficultyLevel: 5})
	setEnemies(s, 4, 4, 10)
	s.sectors[4][4].Seed = 0xbeef
	s.sectors[4][4].Terrain = TerrainNebula

	battle, err := s.EnterSector(testClient, 4, 4, "Artemis")
	if err != nil {
		t.Fatalf("EnterSector failed: %v", err)
	}
	if battle.ID == 0 {
		t.Error("battle id must be non-zero")
	}
	if battle.Enemies != 10 || battle.Seed != 0xbeef || battle.Terrain != TerrainNebula {
		t.Errorf("battle snapshot = %+v", battle)
	}
	if battle.Difficulty != 5 {
		t.Errorf("difficulty = %d, want 5", battle.Difficulty)
	}

	ship := s.GetShips()[testClient]
	if !ship.InCombat() || ship.X != 4 || ship.Y != 4 {
		t.Errorf("ship = %+v, want in combat at (4,4)", ship)
	}
	if ship.Name != "Artemis" {
		t.Errorf("ship name = %q", ship.Name)
	}
}

func TestEnterSectorAdmission(t *testing.T) {
	cases := []struct {
		name    string
		prepare func(s *State)
	}{
		{"blocked", func(s *State) { s.sectors[4][4].Blocked = true }},
		{"hidden", func(s *State) { s.sectors[4][4].Hidden = true }},
		{"no enemies", func(s *State) { s.sectors[4][4].Enemies = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestState(Rules{})
			setEnemies(s, 4, 4, 10)
			tc.prepare(s)
			if _, err := s.EnterSector(testClient, 4, 4, "X"); !errors.Is(err, ErrNotEnterable) {
				t.Fatalf("expected ErrNotEnterable, got %v", err)
			}
		})
	}
}

func TestEnterSectorBadCoordinates(t *testing.T) {
	s := newTestState(Rules{})
	if _, err := s.EnterSector(testClient, 8, 0, "X"); !errors.Is(err, ErrBadCoordinates) {
		t.Fatalf("expected ErrBadCoordinates, got %v", err)
	}
}

func TestEnterSectorFrontLine(t *testing.T) {
	s := newTestState(Rules{})
	for x := 0; x < GridSize; x++ {
		for y := 0; y < GridSize; y++ {
			s.sectors[x][y].Enemies = 5
		}
	}
	// Deep behind the front: no friendly neighbour anywhere.
	if _, err := s.EnterSector(testClient, 4, 4, "X"); !errors.Is(err, ErrNotEnterable) {
		t.Fatalf("expected ErrNotEnterable, got %v", err)
	}

	// Freeing one neighbour puts (4,4) on the front line.
	setEnemies(s, 4, 5, 0)
	if _, err := s.EnterSector(testClient, 4, 4, "X"); err != nil {
		t.Fatalf("front-line sector refused: %v", err)
	}
}

func TestEnterSectorFrontLineSkipsAvoidedDirection(t *testing.T) {
	s := newTestState(Rules{EnemiesAvoidDirection: DirectionNorth})
	for x := 0; x < GridSize; x++ {
		for y := 0; y < GridSize; y++ {
			s.sectors[x][y].Enemies = 5
		}
	}
	// The only friendly neighbour lies to the north, which the front-line
	// check skips alongside enemy movement.
	setEnemies(s, 4, 3, 0)
	if _, err := s.EnterSector(testClient, 4, 4, "X"); !errors.Is(err, ErrNotEnterable) {
		t.Fatalf("expected ErrNotEnterable, got %v", err)
	}
}

func TestEnterSectorAlwaysEnterable(t *testing.T) {
	s := newTestState(Rules{})
	for x := 0; x < GridSize; x++ {
		for y := 0; y < GridSize; y++ {
			s.sectors[x][y].Enemies = 5
		}
	}
	s.sectors[4][4].Enemies = 0
	s.sectors[4][4].AlwaysEnterable = true

	// Bypasses both the no-enemies and the front-line check.
	if _, err := s.EnterSector(testClient, 4, 4, "X"); err != nil {
		t.Fatalf("always-enterable sector refused: %v", err)
	}
}

func TestEnterSectorOccupied(t *testing.T) {
	s := newTestState(Rules{NonReentrantSectors: true})
	setEnemies(s, 4, 4, 10)

	if _, err := s.EnterSector("192.0.2.1:4000", 4, 4, "First"); err != nil {
		t.Fatalf("EnterSector failed: %v", err)
	}
	if _, err := s.EnterSector("192.0.2.2:4000", 4, 4, "Second"); !errors.Is(err, ErrNotEnterable) {
		t.Fatalf("expected ErrNotEnterable for occupied sector, got %v", err)
	}

	// Without the rule both ships may fight the same sector.
	r := s.Rules()
	r.NonReentrantSectors = false
	s.SetRules(r)
	if _, err := s.EnterSector("192.0.2.2:4000", 4, 4, "Second"); err != nil {
		t.Fatalf("shared sector refused: %v", err)
	}
}

func TestEnterSectorDifficultyClamp(t *testing.T) {
	s := newTestState(Rules{DifficultyLevel: 7})
	setEnemies(s, 4, 4, 10)
	s.sectors[4][4].DifficultyMod = 20
	setEnemies(s, 2, 2, 10)
	s.sectors[2][2].DifficultyMod = -20

	battle, err := s.EnterSector(testClient, 4, 4, "X")
	if err != nil {
		t.Fatalf("EnterSector failed: %v", err)
	}
	if battle.Difficulty != 11 {
		t.Errorf("difficulty = %d, want clamped to 11", battle.Difficulty)
	}

	battle, err = s.EnterSector(testClient, 2, 2, "X")
	if err != nil {
		t.Fatalf("EnterSector failed: %v", err)
	}
	if battle.Difficulty != 1 {
		t.Errorf("difficulty = %d, want clamped to 1", battle.Difficulty)
	}
}

func TestKillsClampToBattle(t *testing.T) {
	s := newTestState(Rules{})
	setEnemies(s, 4, 4, 10)
	battle, err := s.EnterSector(testClient, 4, 4, "Artemis")
	if err != nil {
		t.Fatalf("EnterSector failed: %v", err)
	}

	s.KillsInSector(testClient, battle.ID, 3)
	ship := s.GetShips()[testClient]
	if ship.Enemies != 7 {
		t.Errorf("battle enemies = %d, want 7", ship.Enemies)
	}
	if got := enemiesAt(s, 4, 4); got != 7 {
		t.Errorf("sector enemies = %d, want 7", got)
	}

	// Reporting more kills than the battle holds credits only the rest.
	s.KillsInSector(testClient, battle.ID, 100)
	ship = s.GetShips()[testClient]
	if ship.Enemies != 0 {
		t.Errorf("battle enemies = %d, want 0", ship.Enemies)
	}
	kills, _ := s.Scoreboard()
	if kills["Artemis"] != 10 {
		t.Errorf("kill credit = %d, want 10", kills["Artemis"])
	}
}

func TestKillsWrongBattleIgnored(t *testing.T) {
	s := newTestState(Rules{})
	setEnemies(s, 4, 4, 10)
	battle, err := s.EnterSector(testClient, 4, 4, "Artemis")
	if err != nil {
		t.Fatalf("EnterSector failed: %v", err)
	}

	s.KillsInSector(testClient, battle.ID+1, 3)
	s.KillsInSector("192.0.2.99:1", battle.ID, 3)

	if got := enemiesAt(s, 4, 4); got != 10 {
		t.Errorf("sector enemies = %d, want untouched 10", got)
	}
	kills, _ := s.Scoreboard()
	if len(kills) != 0 {
		t.Errorf("scoreboard = %v, want empty", kills)
	}
}

func TestKillsNeverRaiseSectorCount(t *testing.T) {
	s := newTestState(Rules{})
	setEnemies(s, 4, 4, 10)
	battle, err := s.EnterSector(testClient, 4, 4, "Artemis")
	if err != nil {
		t.Fatalf("EnterSector failed: %v", err)
	}
	// A simulation pass drained the sector below the battle's count.
	setEnemies(s, 4, 4, 2)

	s.KillsInSector(testClient, battle.ID, 3)
	if got := enemiesAt(s, 4, 4); got != 2 {
		t.Errorf("sector enemies = %d, want 2 (lower count stands)", got)
	}
}

func TestClearSector(t *testing.T) {
	s := newTestState(Rules{})
	setEnemies(s, 4, 4, 10)
	s.sectors[4][4].Fog = true
	s.sectors[4][3].Fog = true
	battle, err := s.EnterSector(testClient, 4, 4, "Artemis")
	if err != nil {
		t.Fatalf("EnterSector failed: %v", err)
	}
	s.KillsInSector(testClient, battle.ID, 4)

	if err := s.ClearSector(testClient, battle.ID); err != nil {
		t.Fatalf("ClearSector failed: %v", err)
	}

	if got := enemiesAt(s, 4, 4); got != 0 {
		t.Errorf("sector enemies = %d, want 0", got)
	}
	kills, clears := s.Scoreboard()
	if kills["Artemis"] != 10 {
		t.Errorf("kills = %d, want 10 (remaining enemies credited)", kills["Artemis"])
	}
	if clears["Artemis"] != 1 {
		t.Errorf("clears = %d, want 1", clears["Artemis"])
	}
	if got := s.StrategyPoints(); got != 1 {
		t.Errorf("strategy points = %d, want 1", got)
	}
	if s.GetShips()[testClient].InCombat() {
		t.Error("ship still in combat after clearing")
	}
	if s.sectors[4][4].Fog || s.sectors[4][3].Fog {
		t.Error("fog not lifted around the cleared sector")
	}
}

func TestLateClearAfterRollover(t *testing.T) {
	s := newTestState(Rules{})
	setEnemies(s, 4, 4, 10)
	battle, err := s.EnterSector(testClient, 4, 4, "Artemis")
	if err != nil {
		t.Fatalf("EnterSector failed: %v", err)
	}
	s.KillsInSector(testClient, battle.ID, 10)
	s.ReleaseAllBattles()

	// The battle was fought down to zero, so the clear in flight during the
	// rollover still earns its credits.
	if err := s.ClearSector(testClient, battle.ID); err != nil {
		t.Fatalf("late clear rejected: %v", err)
	}
	_, clears := s.Scoreboard()
	if clears["Artemis"] != 1 {
		t.Errorf("clears = %d, want 1", clears["Artemis"])
	}
	if got := s.StrategyPoints(); got != 1 {
		t.Errorf("strategy points = %d, want 1", got)
	}
}

func TestLateClearWithSurvivorsRejected(t *testing.T) {
	s := newTestState(Rules{})
	setEnemies(s, 4, 4, 10)
	battle, err := s.EnterSector(testClient, 4, 4, "Artemis")
	if err != nil {
		t.Fatalf("EnterSector failed: %v", err)
	}
	s.KillsInSector(testClient, battle.ID, 4)
	s.ReleaseAllBattles()

	if err := s.ClearSector(testClient, battle.ID); err == nil {
		t.Fatal("clear with surviving enemies accepted after rollover")
	}
	_, clears := s.Scoreboard()
	if clears["Artemis"] != 0 {
		t.Errorf("clears = %d, want 0", clears["Artemis"])
	}
}

func TestClearWrongBattleRejected(t *testing.T) {
	s := newTestState(Rules{})
	setEnemies(s, 4, 4, 10)
	battle, err := s.EnterSector(testClient, 4, 4, "Artemis")
	if err != nil {
		t.Fatalf("EnterSector failed: %v", err)
	}

	if err := s.ClearSector(testClient, battle.ID+1); err == nil {
		t.Fatal("clear with a wrong battle id accepted")
	}
	if !s.GetShips()[testClient].InCombat() {
		t.Fatal("wrong battle id released the battle")
	}
	if got := enemiesAt(s, 4, 4); got != 10 {
		t.Errorf("sector enemies = %d, want untouched 10", got)
	}
}

func TestReenterReleasesOldBattle(t *testing.T) {
	s := newTestState(Rules{})
	setEnemies(s, 4, 4, 10)
	setEnemies(s, 2, 2, 6)
	first, err := s.EnterSector(testClient, 4, 4, "Artemis")
	if err != nil {
		t.Fatalf("EnterSector failed: %v", err)
	}

	second, err := s.EnterSector(testClient, 2, 2, "Artemis")
	if err != nil {
		t.Fatalf("second EnterSector failed: %v", err)
	}
	if second.ID == first.ID {
		t.Error("battle id not refreshed on re-entry")
	}
	ship := s.GetShips()[testClient]
	if ship.X != 2 || ship.Y != 2 {
		t.Errorf("ship at (%d,%d), want (2,2)", ship.X, ship.Y)
	}
	// The abandoned battle earns nothing, not even a late clear.
	if err := s.ClearSector(testClient, first.ID); err == nil {
		t.Error("abandoned battle accepted a clear")
	}
}

func TestDisconnectClient(t *testing.T) {
	s := newTestState(Rules{})
	setEnemies(s, 4, 4, 10)
	battle, err := s.EnterSector(testClient, 4, 4, "Artemis")
	if err != nil {
		t.Fatalf("EnterSector failed: %v", err)
	}
	s.KillsInSector(testClient, battle.ID, 3)

	s.DisconnectClient(testClient)
	if _, ok := s.GetShips()[testClient]; ok {
		t.Fatal("ship record survived the disconnect")
	}
	kills, _ := s.Scoreboard()
	if kills["Artemis"] != 3 {
		t.Errorf("scoreboard lost the kills: %v", kills)
	}
}

func TestSetShipName(t *testing.T) {
	s := newTestState(Rules{})
	s.SetShipName(testClient, "Intrepid")
	if got := s.GetShips()[testClient].Name; got != "Intrepid" {
		t.Errorf("name = %q, want Intrepid", got)
	}
	s.SetShipName(testClient, "")
	if got := s.GetShips()[testClient].Name; got != "Intrepid" {
		t.Errorf("empty announcement overwrote the name: %q", got)
	}
}

func TestEnterRuleOverridesAdmission(t *testing.T) {
	s := newTestState(Rules{})
	setEnemies(s, 4, 4, 10)

	if err := s.AddEnterRule("Artemis", 4, 4, FieldRule{Field: FieldBlocked, Value: true}); err != nil {
		t.Fatalf("AddEnterRule failed: %v", err)
	}

	if _, err := s.EnterSector(testClient, 4, 4, "Artemis"); !errors.Is(err, ErrNotEnterable) {
		t.Fatalf("expected ErrNotEnterable for the named ship, got %v", err)
	}
	if _, err := s.EnterSector("192.0.2.2:4000", 4, 4, "Intrepid"); err != nil {
		t.Fatalf("rule for another ship leaked: %v", err)
	}
}

func TestEnterRuleAnySector(t *testing.T) {
	s := newTestState(Rules{DifficultyLevel: 5})
	setEnemies(s, 4, 4, 10)
	setEnemies(s, 2, 2, 10)

	if err := s.AddEnterRule(ViewerAllClients, AnySector.X, AnySector.Y,
		FieldRule{Field: FieldDifficultyMod, Value: 3, Add: true}); err != nil {
		t.Fatalf("AddEnterRule failed: %v", err)
	}

	for _, c := range []Coord{{4, 4}, {2, 2}} {
		battle, err := s.EnterSector(testClient, c.X, c.Y, "Artemis")
		if err != nil {
			t.Fatalf("EnterSector %s failed: %v", c.Label(), err)
		}
		if battle.Difficulty != 8 {
			t.Errorf("%s difficulty = %d, want 8", c.Label(), battle.Difficulty)
		}
	}

	s.ClearEnterRules(ViewerAllClients)
	battle, err := s.EnterSector(testClient, 4, 4, "Artemis")
	if err != nil {
		t.Fatalf("EnterSector failed: %v", err)
	}
	if battle.Difficulty != 5 {
		t.Errorf("difficulty = %d after clearing rules, want 5", battle.Difficulty)
	}
}
