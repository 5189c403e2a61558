package protocol

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestBuildHeartbeatLayout(t *testing.T) {
	data := BuildHeartbeat(5, 9, 0x0102)

	want := []byte{
		0xd0, 0x00, // preamble: time bit + conn 5
		0x01, 0x02, // clock
		0x85, 0xff, // heartbeat
		0x00, 0x09, // number
	}
	if !bytes.Equal(data, want) {
		t.Fatalf("heartbeat = %x, want %x", data, want)
	}
}

func TestBuildAckLayout(t *testing.T) {
	data := BuildAck(TypeHeartbeatAck, 1, 0x002a, 0x0d0e)

	want := []byte{
		0x10, 0x00, // preamble: conn 1, no time bit
		0x01, 0xff, // heartbeat-ack
		0x00, 0x2a, // number
		0x00, 0x2a, // number repeated
		0x0d, 0x0e, // acked clock
	}
	if !bytes.Equal(data, want) {
		t.Fatalf("ack = %x, want %x", data, want)
	}
}

func TestBuildDataLayout(t *testing.T) {
	data := BuildData(1, 0x0021, TurnOverPayload())

	want := []byte{
		0x10, 0x00, // preamble: conn 1, no time bit
		0x07, 0x00, // data
		0x00, 0x00, // reserved
		0x00, 0x21, // number
		0x00, 0x02, // payload length
		0x0b, 0x00, // data-turn-over
	}
	if !bytes.Equal(data, want) {
		t.Fatalf("data = %x, want %x", data, want)
	}
}

func TestBuildServerHello(t *testing.T) {
	hello := &Hello{ConnNum: 0xffff}
	for i := range hello.EchoOne {
		hello.EchoOne[i] = uint16(i + 1)
	}
	for i := range hello.EchoThree {
		hello.EchoThree[i] = uint16(i + 100)
	}

	data := BuildServerHello(6, 0, 0, hello)

	// Timed preamble plus header is 8 bytes, payload 40.
	if len(data) != 48 {
		t.Fatalf("server-hello length = %d, want 48", len(data))
	}
	payload := data[8:]
	// Connection number doubled into both nibbles of the low byte.
	if got := binary.BigEndian.Uint16(payload[2:4]); got != 0x0066 {
		t.Errorf("conn word = 0x%04x, want 0x0066", got)
	}
	if got := binary.BigEndian.Uint16(payload[6:8]); got != 1 {
		t.Errorf("echo one start = %d, want 1", got)
	}
	// The four words after echo one are zeroed, not the client's echo two.
	for i := 0; i < 4; i++ {
		off := 18 + 2*i
		if got := binary.BigEndian.Uint16(payload[off : off+2]); got != 0 {
			t.Errorf("zero block word %d = 0x%04x", i, got)
		}
	}
	if got := binary.BigEndian.Uint16(payload[26:28]); got != 100 {
		t.Errorf("echo three start = %d, want 100", got)
	}
}

func TestServerHelloParsable(t *testing.T) {
	hello := &Hello{}
	data := BuildServerHello(2, 1, 3, hello)

	p := NewParser()
	packages, err := p.Dissect(data)
	if err != nil {
		t.Fatalf("Dissect failed: %v", err)
	}
	if packages[0].Type != TypeServerHello {
		t.Errorf("type = 0x%04x", packages[0].Type)
	}
	if len(packages[0].Payload) != 40 {
		t.Errorf("payload length = %d, want 40", len(packages[0].Payload))
	}
}

func TestSectorDetailPayloadLayout(t *testing.T) {
	payload := SectorDetailPayload(SectorDetail{
		Enemies:    300,
		RearBases:  2,
		FireBases:  1,
		Seed:       0xbeef,
		BattleID:   0x1234,
		Difficulty: 11,
		Terrain:    4,
	})

	if len(payload) != 21 {
		t.Fatalf("payload length = %d, want 21", len(payload))
	}
	if got := binary.BigEndian.Uint16(payload[0:2]); got != SubDataSector {
		t.Errorf("subtype = 0x%04x", got)
	}
	if got := binary.LittleEndian.Uint16(payload[2:4]); got != 300 {
		t.Errorf("enemies = %d, want 300", got)
	}
	if payload[4] != 2 || payload[5] != 0 || payload[6] != 1 {
		t.Errorf("bases = %d/%d/%d", payload[4], payload[5], payload[6])
	}
	if got := binary.LittleEndian.Uint16(payload[8:10]); got != 0xbeef {
		t.Errorf("seed = 0x%04x", got)
	}
	if got := binary.LittleEndian.Uint16(payload[12:14]); got != 0x1234 {
		t.Errorf("battle id = 0x%04x", got)
	}
	if payload[16] != 11 {
		t.Errorf("difficulty = %d, want 11", payload[16])
	}
	if payload[20] != 4 {
		t.Errorf("terrain = %d, want 4", payload[20])
	}
}

func TestMapColumnPayload(t *testing.T) {
	rows := []MapSector{
		{RearBases: 1, ForwardBases: 2, FireBases: 3, Enemies: 500, Terrain: 6, Name: "Alpha"},
		{Hidden: true, Name: ""},
	}
	payload := MapColumnPayload(7, rows)

	if got := binary.BigEndian.Uint16(payload[0:2]); got != SubDataMap {
		t.Fatalf("subtype = 0x%04x", got)
	}
	if payload[2] != 7 {
		t.Errorf("column = %d, want 7", payload[2])
	}
	// First row record: bases, enemies LE, hidden, terrain, name.
	if payload[3] != 1 || payload[4] != 2 || payload[5] != 3 {
		t.Errorf("bases = %d/%d/%d", payload[3], payload[4], payload[5])
	}
	if got := binary.LittleEndian.Uint16(payload[6:8]); got != 500 {
		t.Errorf("enemies = %d, want 500", got)
	}
	if payload[8] != 0 {
		t.Errorf("hidden flag = %d, want 0", payload[8])
	}
	if payload[9] != 6 {
		t.Errorf("terrain = %d, want 6", payload[9])
	}
	if got := binary.LittleEndian.Uint16(payload[10:12]); got != 5 {
		t.Errorf("name length = %d, want 5", got)
	}
	if string(payload[12:17]) != "Alpha" {
		t.Errorf("name = %q", payload[12:17])
	}
	// Second row is hidden.
	if payload[22] != 1 {
		t.Errorf("second row hidden flag = %d, want 1", payload[22])
	}
}

func TestShipsPayloadTerminator(t *testing.T) {
	payload := ShipsPayload([]ShipEntry{{X: 3, Y: 4, Name: "Z"}})

	if payload[2] != 1 || payload[3] != 3 || payload[4] != 4 {
		t.Errorf("ship record = %x", payload[2:5])
	}
	if payload[len(payload)-1] != 0 {
		t.Errorf("missing zero terminator: %x", payload)
	}

	empty := ShipsPayload(nil)
	if len(empty) != 3 || empty[2] != 0 {
		t.Errorf("empty ships payload = %x", empty)
	}
}

func TestTurnPayloadLayout(t *testing.T) {
	payload := TurnPayload(TurnInfo{Number: 7, MaxTurns: 40, Interlude: true, Remaining: 119})

	if len(payload) != 18 {
		t.Fatalf("payload length = %d, want 18", len(payload))
	}
	if got := int32(binary.LittleEndian.Uint32(payload[2:6])); got != 119 {
		t.Errorf("remaining = %d, want 119", got)
	}
	if got := int32(binary.LittleEndian.Uint32(payload[6:10])); got != 7 {
		t.Errorf("number = %d, want 7", got)
	}
	if got := int32(binary.LittleEndian.Uint32(payload[10:14])); got != 40 {
		t.Errorf("max turns = %d, want 40", got)
	}
	if got := int32(binary.LittleEndian.Uint32(payload[14:18])); got != 1 {
		t.Errorf("interlude = %d, want 1", got)
	}
}

func TestShipNamePayloadRoundTrip(t *testing.T) {
	p := NewParser()
	data := BuildData(2, 7, ShipNamePayload("Horatio"))

	packages, err := p.Dissect(data)
	if err != nil {
		t.Fatalf("Dissect failed: %v", err)
	}
	name, err := packages[0].DecodeShipName()
	if err != nil {
		t.Fatalf("DecodeShipName failed: %v", err)
	}
	if name != "Horatio" {
		t.Errorf("name = %q, want Horatio", name)
	}
}

func TestEncodeDatagramRoundTrip(t *testing.T) {
	p := NewParser()

	// A sector request, a heartbeat-ack and a heartbeat sharing one timed
	// preamble.
	data := sectorFrame(11, SectorRequestPayload(SubSectorKill, 0x0042, 0, 0, 3, "Nemesis"))
	data = append(data, 0x01, 0xff, 0x00, 0xfa, 0x00, 0xfa, 0x00, 0x78)
	data = append(data, 0x85, 0xff, 0x00, 0x0c)

	packages, err := p.Dissect(data)
	if err != nil {
		t.Fatalf("Dissect failed: %v", err)
	}
	if len(packages) != 3 {
		t.Fatalf("expected 3 packages, got %d", len(packages))
	}
	out, err := EncodeDatagram(packages)
	if err != nil {
		t.Fatalf("EncodeDatagram failed: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Fatalf("round trip mismatch:\n got %x\nwant %x", out, data)
	}
}

func TestAckDatagramRoundTrip(t *testing.T) {
	p := NewParser()
	data := BuildAck(TypeSectorAck, 4, 250, 0x0078)

	packages, err := p.Dissect(data)
	if err != nil {
		t.Fatalf("Dissect failed: %v", err)
	}
	out, err := EncodeDatagram(packages)
	if err != nil {
		t.Fatalf("EncodeDatagram failed: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Fatalf("round trip mismatch:\n got %x\nwant %x", out, data)
	}
}

func TestBuildDataParsable(t *testing.T) {
	p := NewParser()
	data := BuildData(1, 33, TurnPayload(TurnInfo{Number: 1, MaxTurns: 40}))

	packages, err := p.Dissect(data)
	if err != nil {
		t.Fatalf("Dissect failed: %v", err)
	}
	pkg := packages[0]
	if pkg.Type != TypeData || pkg.Subtype != SubDataTurn {
		t.Errorf("type/subtype = 0x%04x/0x%04x", pkg.Type, pkg.Subtype)
	}
	if pkg.Number != 33 {
		t.Errorf("number = %d, want 33", pkg.Number)
	}
	if pkg.HasTime {
		t.Error("data datagrams are sent without the timestamp bit")
	}
}
