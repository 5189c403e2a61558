package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/warserver-project/warserver/internal/events"
	"github.com/warserver-project/warserver/internal/game"
	"github.com/warserver-project/warserver/internal/protocol"
)

// broadcastInterval is the fallback wakeup of the notify loop: clients
// receive a full refresh at least this often even when nothing changed.
const broadcastInterval = 6 * time.Second

// Server owns the UDP socket and the connection registry. One goroutine
// reads and dispatches datagrams synchronously; each client additionally
// gets a heartbeat worker, and one broadcast loop serves map and turn
// updates to everyone.
type Server struct {
	addr     string
	state    *game.State
	eventBus *events.EventBus
	parser   *protocol.Parser
	clock    *protocol.Clock

	conn *net.UDPConn

	mu       sync.Mutex
	conns    map[game.ClientID]*Connection
	nextConn uint8

	notify chan struct{}
	wg     sync.WaitGroup
	logger zerolog.Logger

	lastInterlude bool
}

// NewServer creates the UDP transport bound to addr ("host:port").
func NewServer(addr string, state *game.State, eventBus *events.EventBus) *Server {
	return &Server{
		addr:     addr,
		state:    state,
		eventBus: eventBus,
		parser:   protocol.NewParser(),
		clock:    protocol.NewClock(),
		conns:    make(map[game.ClientID]*Connection),
		notify:   make(chan struct{}, 1),
		logger:   log.With().Str("component", "udp_server").Logger(),
	}
}

// Run binds the socket and serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	lc := ReuseAddrListenConfig()
	pc, err := lc.ListenPacket(ctx, "udp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to bind UDP socket on %s: %w", s.addr, err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return fmt.Errorf("unexpected packet conn type %T", pc)
	}
	s.conn = conn
	s.state.RegisterNotification(s.notify)
	s.logger.Info().Str("addr", s.addr).Msg("listening for war clients")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.notifyLoop(ctx)
	}()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, protocol.MaxDatagramSize+1)
	for {
		n, peer, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Warn().Err(err).Msg("read failed")
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		s.handleDatagram(data, peer)
	}

	s.mu.Lock()
	for _, c := range s.conns {
		c.Terminate()
	}
	s.conns = make(map[game.ClientID]*Connection)
	s.mu.Unlock()
	s.wg.Wait()
	s.logger.Info().Msg("udp server stopped")
	return nil
}

// handleDatagram decodes one datagram and dispatches its packages in order.
// Malformed datagrams are dropped whole; a datagram is all-or-nothing.
func (s *Server) handleDatagram(data []byte, peer *net.UDPAddr) {
	packages, err := s.parser.Dissect(data)
	if err != nil {
		s.logger.Debug().Err(err).Str("peer", peer.String()).Int("len", len(data)).
			Msg("dropping malformed datagram")
		return
	}
	for i := range packages {
		s.handlePackage(&packages[i], peer)
	}
}

func (s *Server) handlePackage(pkg *protocol.Package, peer *net.UDPAddr) {
	switch pkg.Type {
	case protocol.TypeClientHello:
		s.handleHello(pkg, peer)
	case protocol.TypeClientBye, protocol.TypeError:
		s.closeConnection(game.ClientID(peer.String()), protocol.TypeName(pkg.Type))
	case protocol.TypeHeartbeatAck:
		if c := s.connection(peer); c != nil {
			c.Touch()
		}
	case protocol.TypeHeartbeat, protocol.TypeHeartbeatAlt:
		if c := s.connection(peer); c != nil {
			c.Touch()
			s.send(protocol.BuildAck(protocol.TypeHeartbeatAck, c.Number(), pkg.Number, pkg.Time), peer)
		}
	case protocol.TypeSector:
		s.handleSector(pkg, peer)
	case protocol.TypeData:
		s.handleData(pkg, peer)
	default:
		s.logger.Debug().Str("type", protocol.TypeName(pkg.Type)).
			Str("peer", peer.String()).Msg("ignoring unexpected package")
	}
}

// handleHello registers (or re-registers) a client and answers with a
// server-hello echoing the handshake arrays. A reconnecting client presents
// its previous connection number, which is incremented; a fresh client gets
// the next free number.
func (s *Server) handleHello(pkg *protocol.Package, peer *net.UDPAddr) {
	hello := pkg.Hello
	if hello == nil {
		return
	}
	id := game.ClientID(peer.String())

	s.mu.Lock()
	var number uint8
	if hello.ConnNum != 0xffff {
		number = uint8(hello.ConnNum+1) & 7
	} else {
		s.nextConn++
		number = s.nextConn & 7
	}
	if old, ok := s.conns[id]; ok {
		old.Terminate()
		s.logger.Info().Str("client", string(id)).Msg("client re-registered")
	}
	c := NewConnection(peer, number)
	s.conns[id] = c
	total := len(s.conns)
	s.mu.Unlock()

	s.send(protocol.BuildServerHello(number, pkg.Number, s.clock.Now16(), hello), peer)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		c.runHeartbeats(s.conn, s.clock)
	}()

	s.logger.Info().Str("client", string(id)).Uint8("conn_num", number).
		Int("connected", total).Msg("client connected")
	if s.eventBus != nil {
		s.eventBus.Emit(context.Background(), events.Event{
			Type:   events.EventClientConnected,
			Source: "udp_server",
			Payload: events.ClientPayload{
				Address:   string(id),
				ConnNum:   number,
				Connected: total,
			},
		})
	}
}

// handleSector acks the package, applies the replay rule, then dispatches
// the enter/leave/kill request. The ack goes out before dispatch so a
// dropped replay is still acked and the client stops retransmitting; it
// echoes the time of the acked package.
func (s *Server) handleSector(pkg *protocol.Package, peer *net.UDPAddr) {
	c := s.connection(peer)
	if c == nil {
		s.logger.Debug().Str("peer", peer.String()).Msg("sector package before hello")
		return
	}
	c.Touch()
	s.send(protocol.BuildAck(protocol.TypeSectorAck, c.Number(), pkg.Number, pkg.Time), peer)
	if !c.AcceptSectorSeq(pkg.Number) {
		return
	}

	switch pkg.Subtype {
	case protocol.SubSectorEnter:
		req, err := pkg.DecodeEnter()
		if err != nil {
			s.logger.Debug().Err(err).Str("client", string(c.ID())).Msg("bad sector-enter")
			return
		}
		s.enterSector(c, req)
	case protocol.SubSectorLeave:
		req, err := pkg.DecodeLeave()
		if err != nil {
			s.logger.Debug().Err(err).Str("client", string(c.ID())).Msg("bad sector-leave")
			return
		}
		s.clearSector(c, req)
	case protocol.SubSectorKill:
		req, err := pkg.DecodeKill()
		if err != nil {
			s.logger.Debug().Err(err).Str("client", string(c.ID())).Msg("bad sector-kill")
			return
		}
		s.state.KillsInSector(c.ID(), req.BattleID, req.Kills)
	default:
		s.logger.Debug().Str("subtype", protocol.SubName(pkg.Subtype)).
			Msg("unexpected sector sub-package")
	}
}

// enterSector runs the admission rules and, when granted, answers with the
// battle detail package. Denial is answered with silence; the client reads
// the absence of a data-sector package as "cannot enter".
func (s *Server) enterSector(c *Connection, req protocol.EnterRequest) {
	battle, err := s.state.EnterSector(c.ID(), req.X, req.Y, req.ShipName)
	if err != nil {
		s.logger.Debug().Err(err).Str("client", string(c.ID())).
			Int("x", req.X).Int("y", req.Y).Msg("sector entry denied")
		return
	}
	if battle.ShipName != req.ShipName {
		s.send(protocol.BuildData(c.Number(), c.NextDataSeq(),
			protocol.ShipNamePayload(battle.ShipName)), c.Addr())
	}
	detail := protocol.SectorDetailPayload(protocol.SectorDetail{
		Enemies:      uint16(battle.Enemies),
		RearBases:    uint8(battle.RearBases),
		ForwardBases: uint8(battle.ForwardBases),
		FireBases:    uint8(battle.FireBases),
		Unknown:      battle.Unknown,
		Seed:         battle.Seed,
		BattleID:     battle.ID,
		Difficulty:   uint8(battle.Difficulty),
		Terrain:      uint8(battle.Terrain),
	})
	s.send(protocol.BuildData(c.Number(), c.NextDataSeq(), detail), c.Addr())

	if s.eventBus != nil {
		s.eventBus.Emit(context.Background(), events.Event{
			Type:   events.EventBattleOpened,
			Source: "udp_server",
			Payload: events.BattlePayload{
				ShipName: battle.ShipName,
				X:        battle.X,
				Y:        battle.Y,
				BattleID: battle.ID,
				Enemies:  battle.Enemies,
			},
		})
	}
}

// clearSector books a sector-leave package, which on this wire announces
// the battle is won. Stale clears are discarded silently.
func (s *Server) clearSector(c *Connection, req protocol.LeaveRequest) {
	ship := s.state.GetShips()[c.ID()]
	if err := s.state.ClearSector(c.ID(), req.BattleID); err != nil {
		s.logger.Debug().Err(err).Str("client", string(c.ID())).Msg("discarding stale clear")
		return
	}
	if s.eventBus != nil {
		s.eventBus.Emit(context.Background(), events.Event{
			Type:   events.EventSectorCleared,
			Source: "udp_server",
			Payload: events.BattlePayload{
				ShipName: ship.Name,
				X:        ship.X,
				Y:        ship.Y,
				BattleID: req.BattleID,
			},
		})
	}
}

// handleData processes client-originated data packages; the only one a
// client sends is its ship name announcement.
func (s *Server) handleData(pkg *protocol.Package, peer *net.UDPAddr) {
	c := s.connection(peer)
	if c == nil {
		return
	}
	c.Touch()
	if pkg.Subtype != protocol.SubDataShipName {
		s.logger.Debug().Str("subtype", protocol.SubName(pkg.Subtype)).
			Msg("unexpected data sub-package from client")
		return
	}
	name, err := pkg.DecodeShipName()
	if err != nil {
		s.logger.Debug().Err(err).Str("client", string(c.ID())).Msg("bad ship-name package")
		return
	}
	s.state.SetShipName(c.ID(), name)
}

// closeConnection tears down a client session: heartbeat worker stopped,
// battle released without awards, record dropped.
func (s *Server) closeConnection(id game.ClientID, reason string) {
	s.mu.Lock()
	c, ok := s.conns[id]
	if ok {
		delete(s.conns, id)
	}
	total := len(s.conns)
	s.mu.Unlock()
	if !ok {
		return
	}
	c.Terminate()
	s.state.DisconnectClient(id)
	s.logger.Info().Str("client", string(id)).Str("reason", reason).
		Int("connected", total).Msg("client disconnected")
	if s.eventBus != nil {
		s.eventBus.Emit(context.Background(), events.Event{
			Type:   events.EventClientDisconnected,
			Source: "udp_server",
			Payload: events.ClientPayload{
				Address:   string(id),
				ConnNum:   c.Number(),
				Connected: total,
			},
		})
	}
}

func (s *Server) connection(peer *net.UDPAddr) *Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[game.ClientID(peer.String())]
}

// Connections returns a snapshot of the live connection records.
func (s *Server) Connections() []*Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	return out
}

// DropStale closes connections that have sent nothing for longer than
// maxAge and returns how many were dropped. UDP gives no close signal, so
// silence is the only way to notice a vanished client.
func (s *Server) DropStale(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	var stale []game.ClientID
	s.mu.Lock()
	for id, c := range s.conns {
		if c.LastSeen().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	s.mu.Unlock()
	for _, id := range stale {
		s.closeConnection(id, "timed out")
	}
	return len(stale)
}

// ConnectionCount returns the number of registered clients.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) send(pkt []byte, addr *net.UDPAddr) {
	if _, err := s.conn.WriteToUDP(pkt, addr); err != nil {
		s.logger.Warn().Err(err).Str("peer", addr.String()).Msg("send failed")
	}
}

// notifyLoop is the broadcast task: it wakes on the state's change signal
// or every six seconds, and pushes turn status, the ship list and the map
// to every client. One map snapshot serves the whole cycle; only clients
// with a display overlay get their columns recomposed.
func (s *Server) notifyLoop(ctx context.Context) {
	s.lastInterlude = s.state.TurnStatus().Interlude
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.notify:
		case <-time.After(broadcastInterval):
		}
		s.broadcast()
	}
}

func (s *Server) broadcast() {
	clients := s.Connections()
	if len(clients) == 0 {
		return
	}

	ts := s.state.TurnStatus()
	turnPayload := protocol.TurnPayload(protocol.TurnInfo{
		Number:    int32(ts.Number),
		MaxTurns:  int32(ts.MaxTurns),
		Interlude: ts.Interlude,
		Remaining: int32(ts.Remaining),
	})
	phaseFlipped := ts.Interlude != s.lastInterlude
	s.lastInterlude = ts.Interlude

	var ships []protocol.ShipEntry
	for _, ship := range s.state.GetShips() {
		if ship.InCombat() {
			ships = append(ships, protocol.ShipEntry{X: ship.X, Y: ship.Y, Name: ship.Name})
		}
	}
	shipsPayload := protocol.ShipsPayload(ships)

	baseGrid := s.state.GetMap(game.Viewer{})
	baseColumns := composeColumns(&baseGrid)

	for _, c := range clients {
		columns := baseColumns
		viewer := game.Viewer{Address: string(c.ID())}
		if s.state.HasMapOverlay(viewer) {
			grid := s.state.GetMap(viewer)
			columns = composeColumns(&grid)
		}

		s.send(protocol.BuildData(c.Number(), c.NextDataSeq(), turnPayload), c.Addr())
		if phaseFlipped {
			s.send(protocol.BuildData(c.Number(), c.NextDataSeq(), protocol.TurnOverPayload()), c.Addr())
		}
		s.send(protocol.BuildData(c.Number(), c.NextDataSeq(), shipsPayload), c.Addr())
		for _, col := range columns {
			s.send(protocol.BuildData(c.Number(), c.NextDataSeq(), col), c.Addr())
		}
	}
}

// composeColumns encodes a grid into its eight map-column payloads.
func composeColumns(grid *[game.GridSize][game.GridSize]game.Sector) [game.GridSize][]byte {
	var columns [game.GridSize][]byte
	for x := 0; x < game.GridSize; x++ {
		rows := make([]protocol.MapSector, game.GridSize)
		for y := 0; y < game.GridSize; y++ {
			sec := grid[x][y]
			rows[y] = protocol.MapSector{
				RearBases:    uint8(sec.RearBases),
				ForwardBases: uint8(sec.ForwardBases),
				FireBases:    uint8(sec.FireBases),
				Enemies:      uint16(sec.Enemies),
				Hidden:       sec.Hidden,
				Terrain:      uint8(sec.Terrain),
				Name:         sec.Name,
			}
		}
		columns[x] = protocol.MapColumnPayload(x, rows)
	}
	return columns
}
