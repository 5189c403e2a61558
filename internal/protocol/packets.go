// Package protocol implements the binary UDP codec spoken by war clients:
// big-endian package headers with an optional embedded timestamp, and
// little-endian fixed payload layouts matching the legacy client's struct
// alignment. The codec is pure; it touches no sockets and no game state.
package protocol

import "fmt"

// Package type codes, big-endian on the wire.
const (
	TypeClientHello  uint16 = 0x82ff
	TypeServerHello  uint16 = 0x83ff
	TypeClientBye    uint16 = 0x84ff
	TypeHeartbeat    uint16 = 0x85ff
	TypeHeartbeatAlt uint16 = 0x8aff // heartbeat variant of unknown purpose, treated alike
	TypeError        uint16 = 0x44ff
	TypeHeartbeatAck uint16 = 0x01ff
	TypeSector       uint16 = 0x8600
	TypeData         uint16 = 0x0700
	TypeSectorAck    uint16 = 0x0100
)

// Sub-package codes carried inside Sector and Data wrappers.
const (
	SubSectorEnter  uint16 = 0x0400
	SubSectorLeave  uint16 = 0x0800
	SubSectorKill   uint16 = 0x0c00
	SubDataMap      uint16 = 0x0500
	SubDataSector   uint16 = 0x0600
	SubDataShips    uint16 = 0x0700
	SubDataTurn     uint16 = 0x0900
	SubDataTurnOver uint16 = 0x0b00
	SubDataShipName uint16 = 0x0d00
)

// Preamble flag layout: top bit marks an embedded timestamp, the next three
// bits carry the connection number mod 8. The low twelve bits are unknown
// and ignored.
const (
	flagHasTime  uint16 = 0x8000
	flagConnMask uint16 = 0x7000
	connShift           = 12
)

// MaxDatagramSize bounds inbound datagrams; anything larger is dropped
// before parsing.
const MaxDatagramSize = 4096

var typeNames = map[uint16]string{
	TypeClientHello:  "client-hello",
	TypeServerHello:  "server-hello",
	TypeClientBye:    "client-bye",
	TypeHeartbeat:    "heartbeat",
	TypeHeartbeatAlt: "heartbeat-alt",
	TypeError:        "error",
	TypeHeartbeatAck: "heartbeat-ack",
	TypeSector:       "sector",
	TypeData:         "data",
	TypeSectorAck:    "sector-ack",
}

// TypeName returns the printable name of a package type code.
func TypeName(t uint16) string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("0x%04x", t)
}

var subNames = map[uint16]string{
	SubSectorEnter:  "sector-enter",
	SubSectorLeave:  "sector-leave",
	SubSectorKill:   "sector-kill",
	SubDataMap:      "data-map",
	SubDataSector:   "data-sector",
	SubDataShips:    "data-ships",
	SubDataTurn:     "data-turn",
	SubDataTurnOver: "data-turn-over",
	SubDataShipName: "data-ship-name",
}

// SubName returns the printable name of a sub-package code.
func SubName(s uint16) string {
	if name, ok := subNames[s]; ok {
		return name
	}
	return fmt.Sprintf("0x%04x", s)
}

// Package is one decoded protocol package. A datagram may carry several,
// all inheriting the connection number and timestamp of the datagram's
// shared preamble. Wrapped packages (Sector, Data) keep their raw
// sub-package bytes in Payload, subtype tag included, so re-encoding
// reproduces the original datagram byte for byte.
type Package struct {
	Type    uint16
	Number  uint16
	ConnNum uint8
	HasTime bool
	Time    uint16

	// Ack packages (heartbeat-ack, sector-ack) repeat the acked sequence
	// number and carry the sender's clock.
	AckTime uint16

	// Sector and Data wrappers.
	Subtype uint16
	Payload []byte

	// Client-hello only.
	Hello *Hello
}

// Hello is the decoded client-hello payload. EchoOne and EchoThree must be
// repeated verbatim in the server-hello. Trailing carries bytes past the
// fixed layout whose meaning is not understood; they are preserved so the
// package survives a decode/encode round trip.
type Hello struct {
	ConnNum   uint16 // previous connection number, 0xffff for a fresh client
	EchoOne   [6]uint16
	EchoTwo   [4]uint16
	EchoThree [7]uint16
	Trailing  []byte
}

// EnterRequest is the sector-enter sub-package: the sector a ship wants to
// invade plus its name.
type EnterRequest struct {
	X, Y     int
	ShipName string
}

// LeaveRequest is the sector-leave sub-package.
type LeaveRequest struct {
	BattleID uint16
	ShipName string
}

// KillRequest is the sector-kill sub-package: kills scored in a battle.
type KillRequest struct {
	BattleID uint16
	Kills    int
	ShipName string
}

// MapSector is one row record of a map-column package.
type MapSector struct {
	RearBases    uint8
	ForwardBases uint8
	FireBases    uint8
	Enemies      uint16
	Hidden       bool
	Terrain      uint8
	Name         string
}

// SectorDetail is the payload of a data-sector package: the battle a client
// just entered.
type SectorDetail struct {
	Enemies      uint16
	RearBases    uint8
	ForwardBases uint8
	FireBases    uint8
	Unknown      uint8
	Seed         uint16
	BattleID     uint16
	Difficulty   uint8
	Terrain      uint8
}

// ShipEntry is one record of a data-ships package.
type ShipEntry struct {
	X, Y int
	Name string
}

// TurnInfo is the payload of a data-turn package.
type TurnInfo struct {
	Number    int32
	MaxTurns  int32
	Interlude bool
	Remaining int32 // seconds left in the current phase
}
