package relay

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"net"

	"blitter.com/go/parcel/internal/kex"
	"blitter.com/go/parcel/internal/plog"
	"blitter.com/go/parcel/internal/wire"
)

// Metrics is the optional hook the daemon's -metrics endpoint fills in
// (internal/relaymetrics). A nil Metrics is a silent no-op, so the relay
// loop works identically with or without the flag.
type Metrics interface {
	ConnectionOpened()
	ConnectionClosed()
	RekeySucceeded()
	RekeyFailed()
	FanoutError()
}

type eventKind int

const (
	eventNewConn eventKind = iota
	eventFrame
	eventDisconnect
	eventStop
)

type event struct {
	kind   eventKind
	slotID int      // valid for eventFrame/eventDisconnect; stable slot id, not a table index
	conn   net.Conn // valid for eventNewConn
	frame  []byte   // valid for eventFrame
	err    error    // valid for eventFrame/eventDisconnect
}

// Loop is the single owner goroutine for the daemon's connection table,
// server key, and rekey-in-progress state. Nothing outside Run touches
// that state, so none of it is guarded by a lock.
//
// A rekey ring (internal/kex.RingRekey) is advanced entirely from here: it
// never performs its own socket reads. Each slot already has a dedicated
// readLoop goroutine delivering frames back over events, so a rekey reply
// arrives the same way any other frame does and is routed into the ring
// instead of being fanned out, rather than the owner loop doing a second,
// competing blocking read on a connection its readLoop is already reading.
type Loop struct {
	table     *SlotTable
	serverKey [32]byte
	events    chan event
	metrics   Metrics

	rekey            *kex.RingRekey
	rekeySlotIDs     []int
	rekeyControlKeys [][32]byte
	rekeyDirty       bool
	rekeyFailures    int
}

// NewLoop builds a relay loop with an empty slot table and the
// caller-supplied server key.
func NewLoop(capacity int, serverKey [32]byte, metrics Metrics) *Loop {
	return &Loop{
		table:     NewSlotTable(capacity),
		serverKey: serverKey,
		events:    make(chan event, 64),
		metrics:   metrics,
	}
}

func (l *Loop) recordRekey(err error) {
	if l.metrics == nil {
		return
	}
	if err != nil {
		l.metrics.RekeyFailed()
	} else {
		l.metrics.RekeySucceeded()
	}
}

// Serve accepts connections on ln and feeds them into the loop until ln is
// closed. It runs in its own goroutine.
func (l *Loop) Serve(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			plog.Notice(fmt.Sprintf("accept: %v, stopping listener", err))
			return
		}
		l.events <- event{kind: eventNewConn, conn: conn}
	}
}

// ErrFatal wraps a second consecutive rekey failure, the one condition this
// package treats as unrecoverable. The caller (cmd/parceld) logs it at
// Crit and exits non-zero.
var ErrFatal = errors.New("relay: unrecoverable rekey failure")

// Run drains l.events until it reaches the event queued by Stop or a
// handler reports a fatal error.
func (l *Loop) Run() error {
	for ev := range l.events {
		var err error
		switch ev.kind {
		case eventStop:
			return nil
		case eventNewConn:
			err = l.handleNewConn(ev.conn)
		case eventFrame:
			err = l.handleFrame(ev.slotID, ev.frame)
		case eventDisconnect:
			err = l.handleDisconnect(ev.slotID, ev.err)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Stop queues a stop event, causing Run to return once the events posted
// before it have been handled. The event channel is never closed, so a
// reader goroutine that reports a disconnect after Stop does not panic.
func (l *Loop) Stop() {
	l.events <- event{kind: eventStop}
}

func (l *Loop) handleNewConn(conn net.Conn) error {
	if l.table.Len() >= l.table.Capacity()-1 {
		plog.Warning("daemon at full capacity, rejecting new connection")
		wire.SendAll(conn, []byte("parcel: daemon at capacity\n")) // nolint: errcheck
		conn.Close()
		return nil
	}

	controlKey, err := kex.TwoPartyServer(conn)
	if err != nil {
		plog.Warning(fmt.Sprintf("two-party handshake failed: %v", err))
		conn.Close()
		return nil
	}

	slotID, err := l.table.Add(conn, controlKey)
	if err != nil {
		plog.Warning(fmt.Sprintf("slot table add: %v", err))
		conn.Close()
		return nil
	}
	if l.metrics != nil {
		l.metrics.ConnectionOpened()
	}

	go l.readLoop(slotID, conn)

	return l.triggerRekey()
}

// readLoop is the per-slot reader goroutine: it does nothing but read one
// frame at a time and post it back to the owner loop. It identifies itself
// by the slot's stable id, not its table position, since another peer's
// disconnect can reshuffle positions via compaction at any time. It is the
// only goroutine that ever reads this connection — the owner loop only
// ever writes to it, whether fanning out chat traffic or driving a rekey
// ring — so there is never a second reader racing it for the same bytes.
func (l *Loop) readLoop(slotID int, conn net.Conn) {
	for {
		frame, err := wire.ReadFrame(conn)
		if err != nil {
			l.events <- event{kind: eventDisconnect, slotID: slotID, err: err}
			return
		}
		l.events <- event{kind: eventFrame, slotID: slotID, frame: frame}
	}
}

// handleFrame routes an incoming frame to whichever of its two possible
// destinations applies: if a rekey ring is in progress and this frame came
// from the one peer it's currently waiting on, it's a ring reply and is
// decrypted and fed into the ring's state machine; otherwise it's ordinary
// chat traffic and is fanned out untouched.
func (l *Loop) handleFrame(slotID int, frame []byte) error {
	if l.rekey != nil {
		if idx, waiting := l.rekey.WaitingOn(); waiting && l.rekeySlotIDs[idx] == slotID {
			return l.advanceRekey(idx, frame)
		}
	}

	errs := l.table.Fanout(frame, slotID)
	for _, e := range errs {
		plog.Warning(fmt.Sprintf("fanout error: %v", e))
		if l.metrics != nil {
			l.metrics.FanoutError()
		}
	}
	return nil
}

func (l *Loop) advanceRekey(idx int, frame []byte) error {
	rec, err := wire.ParseFrame(frame)
	if err != nil {
		return l.failRekey(fmt.Errorf("%w: %v", kex.ErrRekeyAborted, err))
	}
	pt, err := wire.Open(l.rekeyControlKeys[idx], rec)
	if err != nil {
		return l.failRekey(fmt.Errorf("%w: %v", kex.ErrRekeyAborted, err))
	}

	done, err := l.rekey.Advance(pt)
	if err != nil {
		return l.failRekey(err)
	}
	if !done {
		return nil
	}

	l.recordRekey(nil)
	l.rekeyFailures = 0
	l.clearRekey()
	if l.rekeyDirty {
		return l.startRekey()
	}
	return nil
}

func (l *Loop) clearRekey() {
	l.rekey = nil
	l.rekeySlotIDs = nil
	l.rekeyControlKeys = nil
}

// triggerRekey starts a fresh ring over the table's current membership, or
// if one is already in flight, just marks that another is needed once it
// settles — a join, or the departure of a peer outside the ring's snapshot,
// does not interrupt a ring in flight. (handleDisconnect drops the ring
// before calling this when one of the ring's own members has left.)
func (l *Loop) triggerRekey() error {
	if l.rekey != nil {
		l.rekeyDirty = true
		return nil
	}
	return l.startRekey()
}

func (l *Loop) startRekey() error {
	conns := l.table.Conns()
	controlKeys := l.table.ControlKeys()
	slotIDs := l.table.SlotIDs()
	l.rekeyDirty = false

	if len(conns) == 0 {
		l.rekeyFailures = 0
		return nil
	}

	var fresh [32]byte
	if _, err := rand.Read(fresh[:]); err != nil {
		return l.failRekey(fmt.Errorf("%w: generating rekey nonce: %v", kex.ErrRekeyAborted, err))
	}
	h := sha256.New()
	h.Write(l.serverKey[:])
	h.Write(fresh[:])
	var nonce [32]byte
	copy(nonce[:], h.Sum(nil))

	ring, err := kex.NewRingRekey(conns, controlKeys, nonce)
	if err != nil {
		return l.failRekey(err)
	}
	l.rekey = ring
	l.rekeySlotIDs = slotIDs
	l.rekeyControlKeys = controlKeys
	return nil
}

func (l *Loop) failRekey(err error) error {
	l.recordRekey(err)
	l.clearRekey()
	l.rekeyFailures++
	if l.rekeyFailures >= 2 {
		return fmt.Errorf("%w: %v", ErrFatal, err)
	}
	plog.Crit(fmt.Sprintf("rekey failed, retrying: %v", err))
	return l.startRekey()
}

func (l *Loop) handleDisconnect(slotID int, err error) error {
	if errors.Is(err, wire.ErrShortRead) {
		plog.Warning(fmt.Sprintf("slot %d disconnected improperly", slotID))
	} else {
		plog.Debug(fmt.Sprintf("slot %d disconnected", slotID))
	}

	l.table.Remove(slotID)
	if l.metrics != nil {
		l.metrics.ConnectionClosed()
	}

	if l.rekey != nil && containsSlotID(l.rekeySlotIDs, slotID) {
		// A ring member vanished mid-round; its conn is dead, so the
		// in-flight ring can't finish. Drop it and start over against
		// the table's now-current membership rather than letting the
		// next write into that conn surface as a failure.
		l.clearRekey()
	}
	return l.triggerRekey()
}

func containsSlotID(ids []int, id int) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
