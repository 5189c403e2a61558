package game

// Test fixtures. States are built through New with a fixed seed and then
// flattened, so every test starts from a fully known map instead of the
// generated one.

func flatten(s *State) {
	for x := 0; x < GridSize; x++ {
		for y := 0; y < GridSize; y++ {
			s.sectors[x][y] = Sector{X: x, Y: y, Name: "Sector"}
		}
	}
	s.beachheads = nil
}

func newTestState(rules Rules) *State {
	if rules.InvasionMode == "" {
		rules.InvasionMode = InvasionNone
	}
	if rules.EnemiesAvoidDirection == "" {
		rules.EnemiesAvoidDirection = DirectionNone
	}
	if rules.DifficultyLevel == 0 {
		rules.DifficultyLevel = 5
	}
	s := New(rules, Setup{MaxTurns: 40}, 1)
	flatten(s)
	return s
}

func setEnemies(s *State, x, y, n int) {
	s.sectors[x][y].Enemies = n
}

func enemiesAt(s *State, x, y int) int {
	return s.sectors[x][y].Enemies
}
