// Package network implements the UDP transport: the datagram listener, the
// per-client connection registry with heartbeat workers, and the broadcast
// loop that pushes map and turn updates to every connected client.
package network

import (
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/warserver-project/warserver/internal/game"
	"github.com/warserver-project/warserver/internal/protocol"
)

// replaySlots is the size of the per-connection sequence ring used for
// replay detection on sector packages.
const replaySlots = 10

// Connection is the application-layer session of one client. UDP itself is
// connectionless; the record exists from client-hello to client-bye (or an
// error package) and is keyed by the peer's "ip:port".
type Connection struct {
	mu sync.Mutex

	id      game.ClientID
	addr    *net.UDPAddr
	number  uint8 // connection number mod 8, echoed in every header
	created time.Time

	heartbeatSeq uint16
	dataSeq      uint16
	sectorSeqs   [replaySlots]uint16
	seqSeen      [replaySlots]bool

	lastSeen time.Time
	stop     chan struct{}
	stopped  bool

	logger zerolog.Logger
}

// NewConnection creates a connection record for a peer.
func NewConnection(addr *net.UDPAddr, number uint8) *Connection {
	now := time.Now()
	return &Connection{
		id:       game.ClientID(addr.String()),
		addr:     addr,
		number:   number,
		created:  now,
		lastSeen: now,
		stop:     make(chan struct{}),
		logger: log.With().
			Str("component", "connection").
			Str("client", addr.String()).
			Uint8("conn_num", number).
			Logger(),
	}
}

// ID returns the client identity this record tracks.
func (c *Connection) ID() game.ClientID { return c.id }

// Addr returns the peer address.
func (c *Connection) Addr() *net.UDPAddr { return c.addr }

// Number returns the connection number mod 8.
func (c *Connection) Number() uint8 { return c.number }

// Touch records inbound activity from the peer.
func (c *Connection) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSeen = time.Now()
}

// LastSeen returns when the peer was last heard from.
func (c *Connection) LastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

// NextHeartbeatSeq returns the next heartbeat sequence number, wrapping at
// 65536.
func (c *Connection) NextHeartbeatSeq() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	seq := c.heartbeatSeq
	c.heartbeatSeq++
	return seq
}

// NextDataSeq returns the next data package sequence number.
func (c *Connection) NextDataSeq() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	seq := c.dataSeq
	c.dataSeq++
	return seq
}

// AcceptSectorSeq applies the replay rule to a sector package's sequence
// number: accepted when strictly greater than the last number seen in its
// ring slot, or when a small number arrives after the slot wrapped past
// 0xfff0. Accepted numbers update the slot.
func (c *Connection) AcceptSectorSeq(seq uint16) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	slot := seq % replaySlots
	if !c.seqSeen[slot] {
		c.seqSeen[slot] = true
		c.sectorSeqs[slot] = seq
		return true
	}
	last := c.sectorSeqs[slot]
	if seq > last || (seq < replaySlots && last > 0xffff-replaySlots) {
		c.sectorSeqs[slot] = seq
		return true
	}
	c.logger.Debug().Uint16("seq", seq).Uint16("last", last).Msg("replayed sector package dropped")
	return false
}

// Terminate fires the connection's stop signal, ending its heartbeat
// worker. Idempotent.
func (c *Connection) Terminate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stopped {
		c.stopped = true
		close(c.stop)
	}
}

// Done returns the termination signal channel.
func (c *Connection) Done() <-chan struct{} { return c.stop }

// runHeartbeats sends a heartbeat package every half second until the
// connection terminates. One worker runs per connected client, sharing the
// server socket, which is safe for concurrent writes.
func (c *Connection) runHeartbeats(conn *net.UDPConn, clock *protocol.Clock) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			pkt := protocol.BuildHeartbeat(c.number, c.NextHeartbeatSeq(), clock.Now16())
			if _, err := conn.WriteToUDP(pkt, c.addr); err != nil {
				c.logger.Warn().Err(err).Msg("heartbeat send failed")
			}
		}
	}
}
