package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Decode errors. ErrViolation covers malformed packages: truncated buffers,
// reserved fields that are not zero, lengths past the end of the datagram.
// ErrUnknown covers well-formed packages with a code this implementation
// does not speak.
var (
	ErrViolation = errors.New("protocol violation")
	ErrUnknown   = errors.New("unknown package")
)

// Parser decodes inbound datagrams. It is stateless and safe for concurrent
// use.
type Parser struct {
	logger zerolog.Logger
}

// NewParser creates a datagram parser.
func NewParser() *Parser {
	return &Parser{
		logger: log.With().Str("component", "parser").Logger(),
	}
}

// Dissect decodes a datagram into its ordered list of packages. The datagram
// opens with one shared preamble: the flags word and, when its top bit is
// set, the sender's 16-bit clock. Every package that follows inherits the
// preamble's connection number and timestamp. The buffer must be consumed
// exactly; leftover bytes fail the whole datagram. The one exception is the
// client-hello package, whose payload runs to the end of the datagram with
// unknown trailing bytes preserved rather than rejected.
func (p *Parser) Dissect(data []byte) ([]Package, error) {
	if len(data) > MaxDatagramSize {
		return nil, fmt.Errorf("%w: datagram of %d bytes exceeds limit", ErrViolation, len(data))
	}
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: truncated preamble", ErrViolation)
	}
	flags := binary.BigEndian.Uint16(data[0:2])
	connNum := uint8((flags & flagConnMask) >> connShift)
	hasTime := flags&flagHasTime != 0
	var preambleTime uint16
	off := 2
	if hasTime {
		if len(data) < 4 {
			return nil, fmt.Errorf("%w: truncated preamble timestamp", ErrViolation)
		}
		preambleTime = binary.BigEndian.Uint16(data[2:4])
		off = 4
	}

	var packages []Package
	for off < len(data) {
		pkg, n, err := p.dissectOne(data[off:])
		if err != nil {
			return nil, fmt.Errorf("package %d at offset %d: %w", len(packages), off, err)
		}
		pkg.ConnNum = connNum
		pkg.HasTime = hasTime
		pkg.Time = preambleTime
		packages = append(packages, pkg)
		off += n
	}
	if len(packages) == 0 {
		return nil, fmt.Errorf("%w: empty datagram", ErrViolation)
	}
	return packages, nil
}

// dissectOne decodes a single package from the front of buf and returns it
// with the number of bytes consumed. Most packages open with the type code
// and the sequence number; the Data wrapper squeezes a reserved
// must-be-zero word between the two.
func (p *Parser) dissectOne(buf []byte) (Package, int, error) {
	var pkg Package
	if len(buf) < 4 {
		return pkg, 0, fmt.Errorf("%w: truncated header", ErrViolation)
	}
	pkg.Type = binary.BigEndian.Uint16(buf[0:2])

	switch pkg.Type {
	case TypeHeartbeatAck, TypeSectorAck:
		return p.dissectAck(pkg, buf)
	case TypeData:
		return p.dissectData(pkg, buf)
	case TypeSector:
		return p.dissectSector(pkg, buf)
	case TypeClientHello:
		return p.dissectHello(pkg, buf)
	case TypeServerHello:
		return p.dissectServerHello(pkg, buf)
	case TypeClientBye, TypeError:
		return p.dissectFinal(pkg, buf)
	case TypeHeartbeat:
		pkg.Number = binary.BigEndian.Uint16(buf[2:4])
		return pkg, 4, nil
	case TypeHeartbeatAlt:
		pkg.Number = binary.BigEndian.Uint16(buf[2:4])
		if len(buf) < 12 {
			return pkg, 0, fmt.Errorf("%w: truncated %s", ErrViolation, TypeName(pkg.Type))
		}
		pkg.Payload = append([]byte(nil), buf[4:12]...)
		return pkg, 12, nil
	default:
		p.logger.Warn().
			Str("type", TypeName(pkg.Type)).
			Int("len", len(buf)).
			Msg("unknown package type")
		return pkg, 0, fmt.Errorf("%w: type 0x%04x", ErrUnknown, pkg.Type)
	}
}

// dissectAck decodes heartbeat-ack and sector-ack packages: the sequence
// number repeated twice, then the time of the acked package.
func (p *Parser) dissectAck(pkg Package, buf []byte) (Package, int, error) {
	if len(buf) < 8 {
		return pkg, 0, fmt.Errorf("%w: truncated %s", ErrViolation, TypeName(pkg.Type))
	}
	pkg.Number = binary.BigEndian.Uint16(buf[2:4])
	repeat := binary.BigEndian.Uint16(buf[4:6])
	if repeat != pkg.Number {
		return pkg, 0, fmt.Errorf("%w: ack numbers differ (%d vs %d)", ErrViolation, pkg.Number, repeat)
	}
	pkg.AckTime = binary.BigEndian.Uint16(buf[6:8])
	return pkg, 8, nil
}

// dissectData decodes the Data wrapper: reserved zero, sequence number,
// payload length, then the subtype-tagged sub-package.
func (p *Parser) dissectData(pkg Package, buf []byte) (Package, int, error) {
	if len(buf) < 8 {
		return pkg, 0, fmt.Errorf("%w: truncated data header", ErrViolation)
	}
	if z := binary.BigEndian.Uint16(buf[2:4]); z != 0 {
		return pkg, 0, fmt.Errorf("%w: reserved field 0x%04x in data", ErrViolation, z)
	}
	pkg.Number = binary.BigEndian.Uint16(buf[4:6])
	return p.readWrapped(pkg, buf, 6)
}

// dissectSector decodes the Sector wrapper: sequence number, payload length,
// then the subtype-tagged sub-package. Unlike Data it carries no reserved
// word.
func (p *Parser) dissectSector(pkg Package, buf []byte) (Package, int, error) {
	pkg.Number = binary.BigEndian.Uint16(buf[2:4])
	return p.readWrapped(pkg, buf, 4)
}

func (p *Parser) readWrapped(pkg Package, buf []byte, off int) (Package, int, error) {
	if len(buf) < off+2 {
		return pkg, 0, fmt.Errorf("%w: truncated %s length", ErrViolation, TypeName(pkg.Type))
	}
	length := int(binary.BigEndian.Uint16(buf[off : off+2]))
	off += 2
	if len(buf) < off+length {
		return pkg, 0, fmt.Errorf("%w: %s payload of %d bytes overruns datagram", ErrViolation, TypeName(pkg.Type), length)
	}
	if length < 2 {
		return pkg, 0, fmt.Errorf("%w: %s payload too short for subtype", ErrViolation, TypeName(pkg.Type))
	}
	pkg.Payload = append([]byte(nil), buf[off:off+length]...)
	pkg.Subtype = binary.BigEndian.Uint16(pkg.Payload[0:2])
	if _, ok := subNames[pkg.Subtype]; !ok {
		return pkg, 0, fmt.Errorf("%w: subtype 0x%04x", ErrUnknown, pkg.Subtype)
	}
	return pkg, off + length, nil
}

// dissectFinal decodes client-bye and error packages. Both close the
// session; anything after the sequence number must be zero padding, and the
// package consumes the rest of the datagram.
func (p *Parser) dissectFinal(pkg Package, buf []byte) (Package, int, error) {
	pkg.Number = binary.BigEndian.Uint16(buf[2:4])
	for _, b := range buf[4:] {
		if b != 0 {
			return pkg, 0, fmt.Errorf("%w: %s carries payload bytes", ErrViolation, TypeName(pkg.Type))
		}
	}
	return pkg, len(buf), nil
}

// dissectHello decodes the client-hello. The fixed layout is 40 bytes; a
// client may append bytes this implementation does not understand, which are
// kept verbatim. The hello therefore always terminates its datagram.
func (p *Parser) dissectHello(pkg Package, buf []byte) (Package, int, error) {
	pkg.Number = binary.BigEndian.Uint16(buf[2:4])
	payload := buf[4:]
	if len(payload) < 40 {
		return pkg, 0, fmt.Errorf("%w: client-hello payload of %d bytes", ErrViolation, len(payload))
	}
	if z := binary.BigEndian.Uint16(payload[0:2]); z != 0 {
		return pkg, 0, fmt.Errorf("%w: client-hello reserved field 0x%04x", ErrViolation, z)
	}
	if z := binary.BigEndian.Uint16(payload[4:6]); z != 0 {
		return pkg, 0, fmt.Errorf("%w: client-hello reserved field 0x%04x", ErrViolation, z)
	}
	hello := &Hello{ConnNum: binary.BigEndian.Uint16(payload[2:4])}
	for i := range hello.EchoOne {
		hello.EchoOne[i] = binary.BigEndian.Uint16(payload[6+2*i : 8+2*i])
	}
	for i := range hello.EchoTwo {
		hello.EchoTwo[i] = binary.BigEndian.Uint16(payload[18+2*i : 20+2*i])
	}
	for i := range hello.EchoThree {
		hello.EchoThree[i] = binary.BigEndian.Uint16(payload[26+2*i : 28+2*i])
	}
	if len(payload) > 40 {
		hello.Trailing = append([]byte(nil), payload[40:]...)
		p.logger.Debug().Int("bytes", len(hello.Trailing)).
			Msg("client-hello carries unrecognized trailing bytes")
	}
	pkg.Hello = hello
	return pkg, len(buf), nil
}

// dissectServerHello decodes a server-hello, kept for codec symmetry. The
// 40-byte payload is stored raw.
func (p *Parser) dissectServerHello(pkg Package, buf []byte) (Package, int, error) {
	pkg.Number = binary.BigEndian.Uint16(buf[2:4])
	if len(buf) < 44 {
		return pkg, 0, fmt.Errorf("%w: truncated server-hello", ErrViolation)
	}
	pkg.Payload = append([]byte(nil), buf[4:44]...)
	return pkg, 44, nil
}

// DecodeEnter parses a sector-enter sub-package.
func (pkg *Package) DecodeEnter() (EnterRequest, error) {
	var req EnterRequest
	if pkg.Subtype != SubSectorEnter {
		return req, fmt.Errorf("%w: not a sector-enter", ErrViolation)
	}
	body := pkg.Payload[2:]
	if len(body) < 2 {
		return req, fmt.Errorf("%w: truncated sector-enter", ErrViolation)
	}
	req.X = int(body[0])
	req.Y = int(body[1])
	name, _, err := readNameBE(body[2:])
	if err != nil {
		return req, fmt.Errorf("sector-enter shipname: %w", err)
	}
	req.ShipName = name
	return req, nil
}

// DecodeLeave parses a sector-leave sub-package.
func (pkg *Package) DecodeLeave() (LeaveRequest, error) {
	var req LeaveRequest
	if pkg.Subtype != SubSectorLeave {
		return req, fmt.Errorf("%w: not a sector-leave", ErrViolation)
	}
	body := pkg.Payload[2:]
	if len(body) < 4 {
		return req, fmt.Errorf("%w: truncated sector-leave", ErrViolation)
	}
	req.BattleID = binary.LittleEndian.Uint16(body[0:2])
	if body[2] != 0 || body[3] != 0 {
		return req, fmt.Errorf("%w: sector-leave reserved bytes", ErrViolation)
	}
	name, _, err := readNameBE(body[4:])
	if err != nil {
		return req, fmt.Errorf("sector-leave shipname: %w", err)
	}
	req.ShipName = name
	return req, nil
}

// DecodeKill parses a sector-kill sub-package.
func (pkg *Package) DecodeKill() (KillRequest, error) {
	var req KillRequest
	if pkg.Subtype != SubSectorKill {
		return req, fmt.Errorf("%w: not a sector-kill", ErrViolation)
	}
	body := pkg.Payload[2:]
	if len(body) < 8 {
		return req, fmt.Errorf("%w: truncated sector-kill", ErrViolation)
	}
	req.BattleID = binary.LittleEndian.Uint16(body[0:2])
	if body[2] != 0 || body[3] != 0 {
		return req, fmt.Errorf("%w: sector-kill reserved bytes", ErrViolation)
	}
	req.Kills = int(int32(binary.LittleEndian.Uint32(body[4:8])))
	name, _, err := readNameBE(body[8:])
	if err != nil {
		return req, fmt.Errorf("sector-kill shipname: %w", err)
	}
	req.ShipName = name
	return req, nil
}

// DecodeShipName parses a data-ship-name sub-package.
func (pkg *Package) DecodeShipName() (string, error) {
	if pkg.Subtype != SubDataShipName {
		return "", fmt.Errorf("%w: not a ship-name package", ErrViolation)
	}
	name, _, err := readName(pkg.Payload[2:])
	if err != nil {
		return "", fmt.Errorf("ship-name: %w", err)
	}
	return name, nil
}

// readName reads a little-endian length-prefixed UTF-8 string and returns it
// with the number of bytes consumed. Data payloads carry names this way.
func readName(buf []byte) (string, int, error) {
	if len(buf) < 2 {
		return "", 0, fmt.Errorf("%w: truncated name length", ErrViolation)
	}
	n := int(binary.LittleEndian.Uint16(buf[0:2]))
	if len(buf) < 2+n {
		return "", 0, fmt.Errorf("%w: name of %d bytes overruns package", ErrViolation, n)
	}
	return string(buf[2 : 2+n]), 2 + n, nil
}

// readNameBE reads a big-endian length-prefixed UTF-8 string. Sector
// requests prefix the shipname this way, opposite to the names inside data
// payloads.
func readNameBE(buf []byte) (string, int, error) {
	if len(buf) < 2 {
		return "", 0, fmt.Errorf("%w: truncated name length", ErrViolation)
	}
	n := int(binary.BigEndian.Uint16(buf[0:2]))
	if len(buf) < 2+n {
		return "", 0, fmt.Errorf("%w: name of %d bytes overruns package", ErrViolation, n)
	}
	return string(buf[2 : 2+n]), 2 + n, nil
}
