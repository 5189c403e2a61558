package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

// sectorFrame wraps a sector request into a full datagram: timed preamble
// (conn 1, clock 0x0009), sector type, sequence number, big-endian payload
// length, payload.
func sectorFrame(number uint16, payload []byte) []byte {
	data := []byte{0x90, 0x00, 0x00, 0x09, 0x86, 0x00}
	data = append(data, byte(number>>8), byte(number))
	data = append(data, byte(len(payload)>>8), byte(len(payload)))
	return append(data, payload...)
}

func helloBody(connNum uint16, trailing []byte) []byte {
	b := NewPacketBuilder()
	b.WriteU16(0)
	b.WriteU16(connNum)
	b.WriteU16(0)
	for i := 0; i < 6; i++ {
		b.WriteU16(uint16(0x1100 + i))
	}
	for i := 0; i < 4; i++ {
		b.WriteU16(uint16(0x2200 + i))
	}
	for i := 0; i < 7; i++ {
		b.WriteU16(uint16(0x3300 + i))
	}
	b.WriteBytes(trailing)
	return b.Build()
}

// helloFrame prefixes a hello body with a timed preamble (conn 0, clock
// 0x0001) and the client-hello header.
func helloFrame(body []byte) []byte {
	return append([]byte{0x80, 0x00, 0x00, 0x01, 0x82, 0xff, 0x00, 0x00}, body...)
}

func TestDissectHeartbeat(t *testing.T) {
	p := NewParser()
	// Preamble with timestamp and stray low flag bits, then an 8-byte
	// heartbeat datagram total.
	data := []byte{0x80, 0x10, 0x12, 0x34, 0x85, 0xff, 0x00, 0x2a}

	packages, err := p.Dissect(data)
	if err != nil {
		t.Fatalf("Dissect failed: %v", err)
	}
	if len(packages) != 1 {
		t.Fatalf("expected 1 package, got %d", len(packages))
	}
	pkg := packages[0]
	if pkg.Type != TypeHeartbeat {
		t.Errorf("type = 0x%04x, want heartbeat", pkg.Type)
	}
	if pkg.ConnNum != 0 {
		t.Errorf("connection number = %d, want 0", pkg.ConnNum)
	}
	if !pkg.HasTime || pkg.Time != 0x1234 {
		t.Errorf("time = (%v, 0x%04x), want (true, 0x1234)", pkg.HasTime, pkg.Time)
	}
	if pkg.Number != 42 {
		t.Errorf("number = %d, want 42", pkg.Number)
	}
}

func TestDissectConnectionNumber(t *testing.T) {
	p := NewParser()
	// Conn 5 in the preamble flags, no timestamp: 6 bytes total.
	data := []byte{0x50, 0x00, 0x85, 0xff, 0x00, 0x07}

	packages, err := p.Dissect(data)
	if err != nil {
		t.Fatalf("Dissect failed: %v", err)
	}
	pkg := packages[0]
	if pkg.ConnNum != 5 {
		t.Errorf("connection number = %d, want 5", pkg.ConnNum)
	}
	if pkg.HasTime {
		t.Error("untimed preamble decoded with a timestamp")
	}
}

func TestDissectMultiplePackagesSharedPreamble(t *testing.T) {
	p := NewParser()
	// One timed preamble, then a heartbeat and a client-bye back to back.
	data := []byte{
		0x90, 0x00, 0x00, 0x64, // preamble: conn 1, clock 0x64
		0x85, 0xff, 0x00, 0x01, // heartbeat, number 1
		0x84, 0xff, 0x00, 0x02, // client-bye, number 2
	}

	packages, err := p.Dissect(data)
	if err != nil {
		t.Fatalf("Dissect failed: %v", err)
	}
	if len(packages) != 2 {
		t.Fatalf("expected 2 packages, got %d", len(packages))
	}
	if packages[0].Type != TypeHeartbeat || packages[1].Type != TypeClientBye {
		t.Errorf("types = 0x%04x, 0x%04x", packages[0].Type, packages[1].Type)
	}
	for i, pkg := range packages {
		if pkg.ConnNum != 1 || !pkg.HasTime || pkg.Time != 0x64 {
			t.Errorf("package %d preamble = conn %d time (%v, 0x%04x)",
				i, pkg.ConnNum, pkg.HasTime, pkg.Time)
		}
	}
}

func TestDissectDataFromClient(t *testing.T) {
	p := NewParser()
	// Untimed data datagram carrying a ship-name announcement: type, the
	// reserved zero word, number 5, length 8, subtype + LE-prefixed name.
	data := []byte{
		0x30, 0x00, // preamble: conn 3, no timestamp
		0x07, 0x00, 0x00, 0x00, 0x00, 0x05, // data, reserved, number 5
		0x00, 0x08, // payload length
		0x0d, 0x00, 0x04, 0x00, 'S', 'h', 'i', 'p',
	}

	packages, err := p.Dissect(data)
	if err != nil {
		t.Fatalf("Dissect failed: %v", err)
	}
	pkg := packages[0]
	if pkg.HasTime {
		t.Error("untimed data decoded with a timestamp")
	}
	if pkg.Number != 5 || pkg.Subtype != SubDataShipName {
		t.Errorf("number/subtype = %d/0x%04x", pkg.Number, pkg.Subtype)
	}
	name, err := pkg.DecodeShipName()
	if err != nil {
		t.Fatalf("DecodeShipName failed: %v", err)
	}
	if name != "Ship" {
		t.Errorf("name = %q, want Ship", name)
	}
}

func TestDissectRejectsDataReservedField(t *testing.T) {
	p := NewParser()
	data := []byte{
		0x30, 0x00,
		0x07, 0x00, 0xde, 0xad, 0x00, 0x05, // corrupted reserved word
		0x00, 0x02, 0x0b, 0x00,
	}

	if err := errFrom(p.Dissect(data)); !errors.Is(err, ErrViolation) {
		t.Fatalf("expected ErrViolation, got %v", err)
	}
}

func TestDissectRejectsTrailingGarbage(t *testing.T) {
	p := NewParser()
	data := []byte{0x80, 0x00, 0x00, 0x00, 0x85, 0xff, 0x00, 0x05}
	data = append(data, 0x00) // one stray byte

	if err := errFrom(p.Dissect(data)); !errors.Is(err, ErrViolation) {
		t.Fatalf("expected ErrViolation for stray byte, got %v", err)
	}
}

func TestDissectUnknownType(t *testing.T) {
	p := NewParser()
	data := []byte{0x80, 0x00, 0x00, 0x00, 0x99, 0x99, 0x00, 0x01}

	if err := errFrom(p.Dissect(data)); !errors.Is(err, ErrUnknown) {
		t.Fatalf("expected ErrUnknown, got %v", err)
	}
}

func TestDissectAck(t *testing.T) {
	p := NewParser()
	// Untimed preamble, number 77 repeated, acked clock 0x0abc.
	data := []byte{0x20, 0x00, 0x01, 0x00, 0x00, 0x4d, 0x00, 0x4d, 0x0a, 0xbc}

	packages, err := p.Dissect(data)
	if err != nil {
		t.Fatalf("Dissect failed: %v", err)
	}
	pkg := packages[0]
	if pkg.Type != TypeSectorAck {
		t.Errorf("type = 0x%04x, want sector-ack", pkg.Type)
	}
	if pkg.HasTime {
		t.Error("ack must not carry the timestamp bit")
	}
	if pkg.Number != 77 || pkg.AckTime != 0x0abc {
		t.Errorf("number/acktime = %d/0x%04x, want 77/0x0abc", pkg.Number, pkg.AckTime)
	}
}

func TestDissectAckNumberMismatch(t *testing.T) {
	p := NewParser()
	data := BuildAck(TypeHeartbeatAck, 0, 7, 0)
	// The number is repeated at offsets 4 and 6; corrupt the repeat.
	binary.BigEndian.PutUint16(data[6:8], 8)

	if err := errFrom(p.Dissect(data)); !errors.Is(err, ErrViolation) {
		t.Fatalf("expected ErrViolation for mismatched ack numbers, got %v", err)
	}
}

func TestDissectHello(t *testing.T) {
	p := NewParser()
	data := helloFrame(helloBody(0xffff, nil))

	packages, err := p.Dissect(data)
	if err != nil {
		t.Fatalf("Dissect failed: %v", err)
	}
	hello := packages[0].Hello
	if hello == nil {
		t.Fatal("hello payload missing")
	}
	if hello.ConnNum != 0xffff {
		t.Errorf("hello conn = 0x%04x, want 0xffff (fresh client)", hello.ConnNum)
	}
	if hello.EchoOne[0] != 0x1100 || hello.EchoThree[6] != 0x3306 {
		t.Errorf("echo arrays not decoded: %04x %04x", hello.EchoOne[0], hello.EchoThree[6])
	}
	if len(hello.Trailing) != 0 {
		t.Errorf("unexpected trailing bytes: %x", hello.Trailing)
	}
}

func TestDissectHelloTrailingPreserved(t *testing.T) {
	p := NewParser()
	trailing := []byte{0xca, 0xfe, 0xba, 0xbe}
	data := helloFrame(helloBody(2, trailing))

	packages, err := p.Dissect(data)
	if err != nil {
		t.Fatalf("Dissect failed: %v", err)
	}
	hello := packages[0].Hello
	if !bytes.Equal(hello.Trailing, trailing) {
		t.Fatalf("trailing = %x, want %x", hello.Trailing, trailing)
	}

	// And the round trip reproduces the datagram byte for byte.
	out, err := EncodeDatagram(packages)
	if err != nil {
		t.Fatalf("EncodeDatagram failed: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Errorf("round trip mismatch:\n got %x\nwant %x", out, data)
	}
}

func TestDissectHelloTooShort(t *testing.T) {
	p := NewParser()
	data := helloFrame(helloBody(1, nil)[:30])

	if err := errFrom(p.Dissect(data)); !errors.Is(err, ErrViolation) {
		t.Fatalf("expected ErrViolation, got %v", err)
	}
}

func TestDissectSectorEnter(t *testing.T) {
	p := NewParser()
	// Full golden datagram: coordinates (4,2), BE-prefixed shipname.
	data := []byte{
		0x90, 0x00, 0x00, 0x09, // preamble: conn 1, clock 9
		0x86, 0x00, 0x00, 0x03, // sector, number 3
		0x00, 0x0d, // payload length 13
		0x04, 0x00, // sector-enter
		0x04, 0x02, // x, y
		0x00, 0x07, 'A', 'r', 't', 'e', 'm', 'i', 's',
	}

	packages, err := p.Dissect(data)
	if err != nil {
		t.Fatalf("Dissect failed: %v", err)
	}
	pkg := packages[0]
	if pkg.Subtype != SubSectorEnter {
		t.Fatalf("subtype = 0x%04x, want sector-enter", pkg.Subtype)
	}
	req, err := pkg.DecodeEnter()
	if err != nil {
		t.Fatalf("DecodeEnter failed: %v", err)
	}
	if req.X != 4 || req.Y != 2 || req.ShipName != "Artemis" {
		t.Errorf("enter = %+v", req)
	}
}

func TestDissectSectorKill(t *testing.T) {
	p := NewParser()
	payload := SectorRequestPayload(SubSectorKill, 0x1f2e, 0, 0, 12, "Intrepid")
	data := sectorFrame(4, payload)

	packages, err := p.Dissect(data)
	if err != nil {
		t.Fatalf("Dissect failed: %v", err)
	}
	req, err := packages[0].DecodeKill()
	if err != nil {
		t.Fatalf("DecodeKill failed: %v", err)
	}
	if req.BattleID != 0x1f2e || req.Kills != 12 || req.ShipName != "Intrepid" {
		t.Errorf("kill = %+v", req)
	}
}

func TestDissectSectorLeave(t *testing.T) {
	p := NewParser()
	payload := SectorRequestPayload(SubSectorLeave, 0x0101, 0, 0, 0, "Aegis")
	data := sectorFrame(5, payload)

	packages, err := p.Dissect(data)
	if err != nil {
		t.Fatalf("Dissect failed: %v", err)
	}
	req, err := packages[0].DecodeLeave()
	if err != nil {
		t.Fatalf("DecodeLeave failed: %v", err)
	}
	if req.BattleID != 0x0101 || req.ShipName != "Aegis" {
		t.Errorf("leave = %+v", req)
	}
}

func TestDissectLeaveReservedBytes(t *testing.T) {
	p := NewParser()
	payload := SectorRequestPayload(SubSectorLeave, 1, 0, 0, 0, "X")
	payload[4] = 0xff // reserved byte after the battle ID
	data := sectorFrame(5, payload)

	packages, err := p.Dissect(data)
	if err != nil {
		t.Fatalf("Dissect failed: %v", err)
	}
	if _, err := packages[0].DecodeLeave(); !errors.Is(err, ErrViolation) {
		t.Fatalf("expected ErrViolation, got %v", err)
	}
}

func TestDissectSectorAndHeartbeatTogether(t *testing.T) {
	p := NewParser()
	payload := SectorRequestPayload(SubSectorEnter, 0, 1, 1, 0, "Y")
	data := sectorFrame(6, payload)
	data = append(data, 0x85, 0xff, 0x00, 0x08) // heartbeat under the same preamble

	packages, err := p.Dissect(data)
	if err != nil {
		t.Fatalf("Dissect failed: %v", err)
	}
	if len(packages) != 2 {
		t.Fatalf("expected 2 packages, got %d", len(packages))
	}
	if packages[0].Type != TypeSector || packages[1].Type != TypeHeartbeat {
		t.Errorf("types = 0x%04x, 0x%04x", packages[0].Type, packages[1].Type)
	}
	if packages[1].Number != 8 || packages[1].Time != 0x0009 {
		t.Errorf("heartbeat number/time = %d/0x%04x", packages[1].Number, packages[1].Time)
	}
}

func TestDissectUnknownSubtype(t *testing.T) {
	p := NewParser()
	data := sectorFrame(5, []byte{0x99, 0x99})

	if err := errFrom(p.Dissect(data)); !errors.Is(err, ErrUnknown) {
		t.Fatalf("expected ErrUnknown, got %v", err)
	}
}

func TestDissectWrappedLengthOverrun(t *testing.T) {
	p := NewParser()
	payload := SectorRequestPayload(SubSectorEnter, 0, 1, 1, 0, "Y")
	data := sectorFrame(5, payload)
	// Claim more payload than the datagram carries; the length word sits
	// right after the sector header.
	binary.BigEndian.PutUint16(data[8:10], uint16(len(payload)+10))

	if err := errFrom(p.Dissect(data)); !errors.Is(err, ErrViolation) {
		t.Fatalf("expected ErrViolation, got %v", err)
	}
}

func TestDissectFinalPackageRejectsPayload(t *testing.T) {
	p := NewParser()
	data := []byte{0x80, 0x00, 0x00, 0x00, 0x84, 0xff, 0x00, 0x01, 0x00, 0xff}

	if err := errFrom(p.Dissect(data)); !errors.Is(err, ErrViolation) {
		t.Fatalf("expected ErrViolation for client-bye payload, got %v", err)
	}
}

func TestDissectEmptyDatagram(t *testing.T) {
	p := NewParser()
	if err := errFrom(p.Dissect(nil)); !errors.Is(err, ErrViolation) {
		t.Fatalf("expected ErrViolation, got %v", err)
	}
}

func TestDissectPreambleOnly(t *testing.T) {
	p := NewParser()
	if err := errFrom(p.Dissect([]byte{0x80, 0x00, 0x00, 0x10})); !errors.Is(err, ErrViolation) {
		t.Fatalf("expected ErrViolation for preamble without packages, got %v", err)
	}
}

func TestDissectOversizedDatagram(t *testing.T) {
	p := NewParser()
	if err := errFrom(p.Dissect(make([]byte, MaxDatagramSize+1))); !errors.Is(err, ErrViolation) {
		t.Fatalf("expected ErrViolation, got %v", err)
	}
}

func errFrom(_ []Package, err error) error { return err }
