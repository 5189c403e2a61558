package game

import (
	"net"
	"time"
)

// Viewer identifies who is looking at the map. The zero Viewer is the
// unfiltered game-master view: no overlay rules apply to it.
type Viewer struct {
	Address  string // peer "ip:port", empty for internal views
	ShipName string // optional; resolved from the ship registry when empty
}

// Overlay rule group keys. Rules may also be keyed by a concrete address,
// an address host, or a shipname.
const (
	ViewerAll        = "ALL"
	ViewerAllClients = "all-clients"
)

// AnySector is the coordinate wildcard for enter rules that apply to every
// sector.
var AnySector = Coord{-1, -1}

// MapRule is a game-master display override: one field of one sector shown
// differently to a matching viewer. With Add set the value is added to the
// field instead of replacing it (numeric fields only).
type MapRule struct {
	X     int         `json:"x"`
	Y     int         `json:"y"`
	Field SectorField `json:"field"`
	Value any         `json:"value"`
	Add   bool        `json:"add"`
}

func (r MapRule) apply(sec *Sector) {
	applyFieldRule(sec, FieldRule{Field: r.Field, Value: r.Value, Add: r.Add})
}

// FieldRule is a game-master battle override applied to the sector copy a
// matching client is about to enter.
type FieldRule struct {
	Field SectorField `json:"field"`
	Value any         `json:"value"`
	Add   bool        `json:"add"`
}

func applyFieldRule(sec *Sector, r FieldRule) {
	if r.Add {
		if !r.Field.Numeric() {
			return
		}
		delta, ok := asInt(r.Value)
		if !ok {
			return
		}
		p := numericField(sec, r.Field)
		*p += delta
		if *p < 0 && r.Field != FieldDifficultyMod {
			*p = 0
		}
		return
	}
	// Replace. Invalid values are silently skipped; a bad GM rule must not
	// break map delivery.
	_ = setField(sec, r.Field, normalizeRuleValue(r.Field, r.Value))
}

// asInt widens the numeric types JSON decoding and callers may hand us.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// normalizeRuleValue converts JSON-decoded values to the types setField
// expects.
func normalizeRuleValue(field SectorField, v any) any {
	if field.Numeric() || field == FieldTerrain {
		if n, ok := asInt(v); ok {
			return n
		}
	}
	return v
}

// AddMapRule registers a display override for the given viewer key: "ALL",
// "all-clients", an "ip:port" address, an address host, or a shipname.
func (s *State) AddMapRule(viewerKey string, rule MapRule) error {
	if !(Coord{rule.X, rule.Y}).Valid() {
		return ErrBadCoordinates
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mapRules[viewerKey] = append(s.mapRules[viewerKey], rule)
	s.variousLastUpdate = time.Now()
	s.mapChangedLocked()
	return nil
}

// ClearMapRules removes all display overrides for the viewer key.
func (s *State) ClearMapRules(viewerKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mapRules, viewerKey)
	s.variousLastUpdate = time.Now()
	s.mapChangedLocked()
}

// AddEnterRule registers a battle override applied when a matching client
// enters (x,y). Pass AnySector's coordinates to match every sector.
func (s *State) AddEnterRule(viewerKey string, x, y int, rule FieldRule) error {
	c := Coord{x, y}
	if c != AnySector && !c.Valid() {
		return ErrBadCoordinates
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byCoord := s.enterRules[viewerKey]
	if byCoord == nil {
		byCoord = make(map[Coord][]FieldRule)
		s.enterRules[viewerKey] = byCoord
	}
	byCoord[c] = append(byCoord[c], rule)
	s.variousLastUpdate = time.Now()
	return nil
}

// ClearEnterRules removes all battle overrides for the viewer key.
func (s *State) ClearEnterRules(viewerKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.enterRules, viewerKey)
	s.variousLastUpdate = time.Now()
}

// viewerKeysLocked lists the rule keys that can match this viewer, most
// specific first. Only the first key that actually has rules is used.
func (s *State) viewerKeysLocked(viewer Viewer) []string {
	if viewer.Address == "" && viewer.ShipName == "" {
		return nil
	}
	keys := make([]string, 0, 4)
	if viewer.Address != "" {
		keys = append(keys, viewer.Address)
		if host, _, err := net.SplitHostPort(viewer.Address); err == nil {
			keys = append(keys, host)
		}
	}
	name := viewer.ShipName
	if name == "" && viewer.Address != "" {
		if ship, ok := s.ships[ClientID(viewer.Address)]; ok {
			name = ship.Name
		}
	}
	if name != "" {
		keys = append(keys, name)
	}
	keys = append(keys, ViewerAllClients, ViewerAll)
	return keys
}

// HasMapOverlay reports whether any display override applies to the viewer.
// The broadcast loop uses it to skip per-client map recomposition.
func (s *State) HasMapOverlay(viewer Viewer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.mapRulesForLocked(viewer)) > 0
}

// mapRulesForLocked resolves the display overrides for a viewer. The most
// specific key with rules wins outright; rule sets do not stack across keys.
func (s *State) mapRulesForLocked(viewer Viewer) []MapRule {
	for _, key := range s.viewerKeysLocked(viewer) {
		if rules, ok := s.mapRules[key]; ok && len(rules) > 0 {
			return rules
		}
	}
	return nil
}

// enterRulesForLocked resolves the battle overrides for a viewer entering
// (x,y). Coordinate-specific rules run before any-sector rules of the same
// key.
func (s *State) enterRulesForLocked(viewer Viewer, x, y int) []FieldRule {
	for _, key := range s.viewerKeysLocked(viewer) {
		byCoord, ok := s.enterRules[key]
		if !ok || len(byCoord) == 0 {
			continue
		}
		rules := append([]FieldRule(nil), byCoord[Coord{x, y}]...)
		rules = append(rules, byCoord[AnySector]...)
		if len(rules) > 0 {
			return rules
		}
	}
	return nil
}
