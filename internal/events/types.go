// Package events defines the event types flowing through the war server's
// event bus: turn transitions, battle outcomes, client sessions, saves.
package events

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Turn lifecycle events
	EventTurnStarted EventType = "turn_started"
	EventTurnEnded   EventType = "turn_ended"
	EventWarOver     EventType = "war_over"

	// Battle events
	EventBattleOpened  EventType = "battle_opened"
	EventSectorCleared EventType = "sector_cleared"

	// Client session events
	EventClientConnected    EventType = "client_connected"
	EventClientDisconnected EventType = "client_disconnected"

	// Persistence events
	EventGameSaved  EventType = "game_saved"
	EventGameLoaded EventType = "game_loaded"

	// System events
	EventConfigChanged EventType = "config_changed"
	EventStatusReport  EventType = "status_report"
	EventShutdown      EventType = "shutdown"
)

// Event is a single message on the bus.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// TurnPayload accompanies turn lifecycle events.
type TurnPayload struct {
	TurnNumber int  `json:"turn_number"`
	MaxTurns   int  `json:"max_turns"`
	Interlude  bool `json:"interlude"`
}

// BattlePayload accompanies battle events.
type BattlePayload struct {
	ShipName string `json:"ship_name"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
	BattleID uint16 `json:"battle_id"`
	Enemies  int    `json:"enemies"`
}

// ClientPayload accompanies client session events.
type ClientPayload struct {
	Address   string `json:"address"`
	ShipName  string `json:"ship_name,omitempty"`
	ConnNum   uint8  `json:"connection_number"`
	Connected int    `json:"connected_total"`
}

// SavePayload accompanies persistence events.
type SavePayload struct {
	Filename   string `json:"filename"`
	TurnNumber int    `json:"turn_number"`
	Autosave   bool   `json:"autosave"`
}
