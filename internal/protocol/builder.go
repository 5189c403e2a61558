package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

// Clock produces the 16-bit relative timestamps embedded in outbound
// package headers: milliseconds since server start, wrapping at 65536.
type Clock struct {
	start time.Time
}

// NewClock starts a protocol clock.
func NewClock() *Clock {
	return &Clock{start: time.Now()}
}

// Now16 returns the current wrapped timestamp.
func (c *Clock) Now16() uint16 {
	return uint16(time.Since(c.start).Milliseconds())
}

// PacketBuilder accumulates a binary package. Header words are big-endian,
// payload records little-endian, mirroring the legacy client's structs.
type PacketBuilder struct {
	buf bytes.Buffer
}

// NewPacketBuilder creates an empty builder.
func NewPacketBuilder() *PacketBuilder {
	return &PacketBuilder{}
}

// Reset clears the builder for reuse.
func (b *PacketBuilder) Reset() {
	b.buf.Reset()
}

// WriteByte appends a single byte.
func (b *PacketBuilder) WriteByte(v byte) *PacketBuilder {
	b.buf.WriteByte(v)
	return b
}

// WriteU16 appends a big-endian uint16 (header fields, subtype tags).
func (b *PacketBuilder) WriteU16(v uint16) *PacketBuilder {
	binary.Write(&b.buf, binary.BigEndian, v)
	return b
}

// WriteU16LE appends a little-endian uint16 (payload fields).
func (b *PacketBuilder) WriteU16LE(v uint16) *PacketBuilder {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// WriteInt32LE appends a little-endian int32.
func (b *PacketBuilder) WriteInt32LE(v int32) *PacketBuilder {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// WriteName appends a little-endian length-prefixed UTF-8 string, the
// prefix order used inside data payloads.
func (b *PacketBuilder) WriteName(s string) *PacketBuilder {
	data := []byte(s)
	if len(data) > 0xffff {
		data = data[:0xffff]
	}
	b.WriteU16LE(uint16(len(data)))
	b.buf.Write(data)
	return b
}

// WriteNameBE appends a big-endian length-prefixed UTF-8 string, the prefix
// order clients use in sector requests.
func (b *PacketBuilder) WriteNameBE(s string) *PacketBuilder {
	data := []byte(s)
	if len(data) > 0xffff {
		data = data[:0xffff]
	}
	b.WriteU16(uint16(len(data)))
	b.buf.Write(data)
	return b
}

// WritePad appends n zero bytes (the legacy struct's alignment padding).
func (b *PacketBuilder) WritePad(n int) *PacketBuilder {
	for i := 0; i < n; i++ {
		b.buf.WriteByte(0)
	}
	return b
}

// WriteBytes appends raw bytes.
func (b *PacketBuilder) WriteBytes(data []byte) *PacketBuilder {
	b.buf.Write(data)
	return b
}

// Build returns the accumulated bytes.
func (b *PacketBuilder) Build() []byte {
	return b.buf.Bytes()
}

// Len returns the current package size.
func (b *PacketBuilder) Len() int {
	return b.buf.Len()
}

// String returns a hex dump for debugging.
func (b *PacketBuilder) String() string {
	data := b.buf.Bytes()
	return fmt.Sprintf("PacketBuilder[%d bytes]: %x", len(data), data)
}

// writePreamble emits the shared datagram preamble: the flags word and,
// when hasTime is set, the sender's clock.
func (b *PacketBuilder) writePreamble(connNum uint8, t uint16, hasTime bool) *PacketBuilder {
	flags := uint16(connNum&7) << connShift
	if hasTime {
		flags |= flagHasTime
		b.WriteU16(flags)
		b.WriteU16(t)
		return b
	}
	b.WriteU16(flags)
	return b
}

// ---- Outbound package composers ----

// BuildHeartbeat composes a heartbeat datagram: timed preamble, type,
// sequence number.
func BuildHeartbeat(connNum uint8, number, t uint16) []byte {
	b := NewPacketBuilder()
	b.writePreamble(connNum, t, true)
	b.WriteU16(TypeHeartbeat)
	b.WriteU16(number)
	return b.Build()
}

// BuildError composes an error datagram, sent to terminate a session.
func BuildError(connNum uint8, number, t uint16) []byte {
	b := NewPacketBuilder()
	b.writePreamble(connNum, t, true)
	b.WriteU16(TypeError)
	b.WriteU16(number)
	return b.Build()
}

// BuildAck composes a sector-ack or heartbeat-ack datagram: untimed
// preamble, the acked number twice, then the time of the acked package.
func BuildAck(typ uint16, connNum uint8, number, t uint16) []byte {
	b := NewPacketBuilder()
	b.writePreamble(connNum, 0, false)
	b.WriteU16(typ)
	b.WriteU16(number)
	b.WriteU16(number)
	b.WriteU16(t)
	return b.Build()
}

// BuildServerHello composes the server-hello answering a client-hello. The
// connection number is doubled into both nibbles of its byte; the client's
// echo arrays are repeated verbatim.
func BuildServerHello(connNum uint8, number, t uint16, hello *Hello) []byte {
	b := NewPacketBuilder()
	b.writePreamble(connNum, t, true)
	b.WriteU16(TypeServerHello)
	b.WriteU16(number)
	b.WriteU16(0)
	b.WriteU16(uint16(connNum&7)<<4 | uint16(connNum&7))
	b.WriteU16(0)
	for _, v := range hello.EchoOne {
		b.WriteU16(v)
	}
	b.WriteU16(0)
	b.WriteU16(0)
	b.WriteU16(0)
	b.WriteU16(0)
	for _, v := range hello.EchoThree {
		b.WriteU16(v)
	}
	return b.Build()
}

// BuildData wraps a composed sub-package payload into a data datagram:
// untimed preamble, type, reserved zero, sequence number, payload length,
// payload. Data is the only package type carrying the reserved word.
func BuildData(connNum uint8, number uint16, payload []byte) []byte {
	b := NewPacketBuilder()
	b.writePreamble(connNum, 0, false)
	b.WriteU16(TypeData)
	b.WriteU16(0)
	b.WriteU16(number)
	b.WriteU16(uint16(len(payload)))
	b.WriteBytes(payload)
	return b.Build()
}

// MapColumnPayload composes a data-map sub-package: one column of the grid,
// one fixed record plus name per row.
func MapColumnPayload(column int, rows []MapSector) []byte {
	b := NewPacketBuilder()
	b.WriteU16(SubDataMap)
	b.WriteByte(byte(column))
	for _, r := range rows {
		b.WriteByte(r.RearBases)
		b.WriteByte(r.ForwardBases)
		b.WriteByte(r.FireBases)
		b.WriteU16LE(r.Enemies)
		hidden := byte(0)
		if r.Hidden {
			hidden = 1
		}
		b.WriteByte(hidden)
		b.WriteByte(r.Terrain)
		b.WriteName(r.Name)
	}
	return b.Build()
}

// SectorDetailPayload composes a data-sector sub-package: the battle handed
// to a client on sector entry. Padding positions match the legacy client's
// struct alignment and are always zero.
func SectorDetailPayload(d SectorDetail) []byte {
	b := NewPacketBuilder()
	b.WriteU16(SubDataSector)
	b.WriteU16LE(d.Enemies)
	b.WriteByte(d.RearBases)
	b.WriteByte(d.ForwardBases)
	b.WriteByte(d.FireBases)
	b.WriteByte(d.Unknown)
	b.WriteU16LE(d.Seed)
	b.WritePad(2)
	b.WriteU16LE(d.BattleID)
	b.WritePad(2)
	b.WriteByte(d.Difficulty)
	b.WritePad(3)
	b.WriteByte(d.Terrain)
	return b.Build()
}

// ShipsPayload composes a data-ships sub-package: every ship currently in
// combat, zero byte terminated.
func ShipsPayload(ships []ShipEntry) []byte {
	b := NewPacketBuilder()
	b.WriteU16(SubDataShips)
	for _, s := range ships {
		b.WriteByte(1)
		b.WriteByte(byte(s.X))
		b.WriteByte(byte(s.Y))
		b.WriteName(s.Name)
	}
	b.WriteByte(0)
	return b.Build()
}

// TurnPayload composes a data-turn sub-package. Field order on the wire is
// remaining seconds first, interlude flag last.
func TurnPayload(info TurnInfo) []byte {
	b := NewPacketBuilder()
	b.WriteU16(SubDataTurn)
	interlude := int32(0)
	if info.Interlude {
		interlude = 1
	}
	b.WriteInt32LE(info.Remaining)
	b.WriteInt32LE(info.Number)
	b.WriteInt32LE(info.MaxTurns)
	b.WriteInt32LE(interlude)
	return b.Build()
}

// ShipNamePayload composes a data-ship-name sub-package, sent when the
// server substitutes a different name than the one the client announced.
func ShipNamePayload(name string) []byte {
	b := NewPacketBuilder()
	b.WriteU16(SubDataShipName)
	b.WriteName(name)
	return b.Build()
}

// TurnOverPayload composes the data-turn-over sub-package announcing a
// phase flip.
func TurnOverPayload() []byte {
	b := NewPacketBuilder()
	b.WriteU16(SubDataTurnOver)
	return b.Build()
}

// HelloPayload re-encodes a decoded client-hello payload, trailing unknown
// bytes included.
func HelloPayload(h *Hello) []byte {
	b := NewPacketBuilder()
	b.WriteU16(0)
	b.WriteU16(h.ConnNum)
	b.WriteU16(0)
	for _, v := range h.EchoOne {
		b.WriteU16(v)
	}
	for _, v := range h.EchoTwo {
		b.WriteU16(v)
	}
	for _, v := range h.EchoThree {
		b.WriteU16(v)
	}
	b.WriteBytes(h.Trailing)
	return b.Build()
}

// EncodeDatagram re-encodes decoded packages into one datagram under the
// first package's preamble. For any datagram Dissect accepted, encoding its
// packages reproduces the original bytes.
func EncodeDatagram(packages []Package) ([]byte, error) {
	if len(packages) == 0 {
		return nil, fmt.Errorf("%w: empty datagram", ErrViolation)
	}
	b := NewPacketBuilder()
	first := &packages[0]
	b.writePreamble(first.ConnNum, first.Time, first.HasTime)
	for i := range packages {
		pkg := &packages[i]
		b.WriteU16(pkg.Type)
		switch pkg.Type {
		case TypeHeartbeatAck, TypeSectorAck:
			b.WriteU16(pkg.Number)
			b.WriteU16(pkg.Number)
			b.WriteU16(pkg.AckTime)
		case TypeData:
			b.WriteU16(0)
			b.WriteU16(pkg.Number)
			b.WriteU16(uint16(len(pkg.Payload)))
			b.WriteBytes(pkg.Payload)
		case TypeSector:
			b.WriteU16(pkg.Number)
			b.WriteU16(uint16(len(pkg.Payload)))
			b.WriteBytes(pkg.Payload)
		case TypeClientHello:
			if pkg.Hello == nil {
				return nil, fmt.Errorf("%w: client-hello without payload", ErrViolation)
			}
			b.WriteU16(pkg.Number)
			b.WriteBytes(HelloPayload(pkg.Hello))
		case TypeServerHello:
			if len(pkg.Payload) != 40 {
				return nil, fmt.Errorf("%w: server-hello payload of %d bytes", ErrViolation, len(pkg.Payload))
			}
			b.WriteU16(pkg.Number)
			b.WriteBytes(pkg.Payload)
		case TypeClientBye, TypeHeartbeat, TypeError:
			b.WriteU16(pkg.Number)
		case TypeHeartbeatAlt:
			b.WriteU16(pkg.Number)
			b.WriteBytes(pkg.Payload)
		default:
			return nil, fmt.Errorf("%w: type 0x%04x", ErrUnknown, pkg.Type)
		}
	}
	return b.Build(), nil
}

// SectorRequestPayload composes a sector-enter/leave/kill sub-package; the
// server itself never sends these, but the codec stays symmetric for the
// test client. Request shipnames carry a big-endian length prefix, opposite
// to the names inside data payloads.
func SectorRequestPayload(subtype uint16, battleID uint16, x, y, kills int, shipname string) []byte {
	b := NewPacketBuilder()
	b.WriteU16(subtype)
	switch subtype {
	case SubSectorEnter:
		b.WriteByte(byte(x))
		b.WriteByte(byte(y))
	case SubSectorLeave:
		b.WriteU16LE(battleID)
		b.WritePad(2)
	case SubSectorKill:
		b.WriteU16LE(battleID)
		b.WritePad(2)
		b.WriteInt32LE(int32(kills))
	}
	b.WriteNameBE(shipname)
	return b.Build()
}
