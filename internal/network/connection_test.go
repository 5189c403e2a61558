package network

import (
	"net"
	"testing"
)

func testConn(t *testing.T) *Connection {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", "192.0.2.1:4000")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	return NewConnection(addr, 1)
}

func TestAcceptSectorSeqFirstUse(t *testing.T) {
	c := testConn(t)
	if !c.AcceptSectorSeq(42) {
		t.Fatal("first use of a slot must be accepted")
	}
}

func TestAcceptSectorSeqReplay(t *testing.T) {
	c := testConn(t)
	if !c.AcceptSectorSeq(42) {
		t.Fatal("seq 42 rejected")
	}
	if c.AcceptSectorSeq(42) {
		t.Fatal("replayed seq 42 accepted")
	}
	// 32 lands in the same ring slot but is older.
	if c.AcceptSectorSeq(32) {
		t.Fatal("stale seq 32 accepted after 42")
	}
	// 52 is newer in the same slot.
	if !c.AcceptSectorSeq(52) {
		t.Fatal("newer seq 52 rejected")
	}
}

func TestAcceptSectorSeqIndependentSlots(t *testing.T) {
	c := testConn(t)
	if !c.AcceptSectorSeq(42) {
		t.Fatal("seq 42 rejected")
	}
	// 43 occupies a different slot; history of slot 2 does not affect it.
	if !c.AcceptSectorSeq(43) {
		t.Fatal("seq 43 rejected")
	}
}

func TestAcceptSectorSeqWraparound(t *testing.T) {
	c := testConn(t)
	// 0xfffc occupies slot 2 (0xfffc % 10 == 2) near the top of the range.
	if !c.AcceptSectorSeq(0xfffc) {
		t.Fatal("seq 0xfffc rejected")
	}
	// 2 shares the slot and is numerically smaller, but the slot has
	// wrapped, so it is accepted.
	if !c.AcceptSectorSeq(2) {
		t.Fatal("wrapped seq 2 rejected after 0xfffc")
	}
	// After the wrap the slot holds 2; replaying 2 still fails.
	if c.AcceptSectorSeq(2) {
		t.Fatal("replayed seq 2 accepted")
	}
}

func TestSequenceCountersWrap(t *testing.T) {
	c := testConn(t)
	if got := c.NextHeartbeatSeq(); got != 0 {
		t.Fatalf("first heartbeat seq = %d, want 0", got)
	}
	if got := c.NextHeartbeatSeq(); got != 1 {
		t.Fatalf("second heartbeat seq = %d, want 1", got)
	}

	c.dataSeq = 0xffff
	if got := c.NextDataSeq(); got != 0xffff {
		t.Fatalf("data seq = %d, want 0xffff", got)
	}
	if got := c.NextDataSeq(); got != 0 {
		t.Fatalf("data seq after wrap = %d, want 0", got)
	}
}

func TestTerminateIdempotent(t *testing.T) {
	c := testConn(t)
	c.Terminate()
	c.Terminate() // must not panic on double close

	select {
	case <-c.Done():
	default:
		t.Fatal("Done channel not closed after Terminate")
	}
}
