// Package chatclient implements the parcel client's two-goroutine session:
// one sender loop reading typed commands from the terminal, one receiver
// loop that demultiplexes rekey traffic from chat traffic on the same
// connection.
package chatclient

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"blitter.com/go/parcel/internal/fingerprint"
	"blitter.com/go/parcel/internal/kex"
	"blitter.com/go/parcel/internal/plog"
	"blitter.com/go/parcel/internal/wire"
)

// ErrUserError covers invalid commands and arguments entered at the
// prompt — an expected, recoverable condition, distinct from I/O failures.
var ErrUserError = errors.New("chatclient: user error")

// lockedConn serializes writes to the underlying connection behind a
// shared mutex. Only one goroutine (receiverLoop) ever reads, so reads
// bypass the lock; senderLoop and the receiver's inline rekey replies both
// write, so both go through this wrapper — the same mutex also guards
// sessionKey (see Session).
type lockedConn struct {
	net.Conn
	mu *sync.Mutex
}

func (c *lockedConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.Write(b)
}

// Session is one client's connection to a parceld relay.
type Session struct {
	conn        *lockedConn
	mu          *sync.Mutex
	sessionKey  [32]byte
	controlKey  [32]byte
	participant *kex.Participant
	fingerprint fingerprint.Fingerprint
	username    string
	keepAlive   atomic.Bool
	out         io.Writer
	in          *bufio.Scanner
}

// Dial connects to addr and runs the two-party handshake (kex.TwoPartyClient).
// The session key isn't known yet — it arrives as the first rekey the
// daemon triggers once this client joins the slot table — so callers must
// call Run before sending any chat traffic.
func Dial(addr, username string, in io.Reader, out io.Writer) (*Session, error) {
	raw, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("chatclient: dial %s: %w", addr, err)
	}

	controlKey, ownPoint, err := kex.TwoPartyClient(raw)
	if err != nil {
		raw.Close()
		return nil, err
	}

	mu := &sync.Mutex{}
	s := &Session{
		conn:        &lockedConn{Conn: raw, mu: mu},
		mu:          mu,
		controlKey:  controlKey,
		participant: kex.NewParticipant(),
		fingerprint: fingerprint.Of(ownPoint),
		username:    username,
		out:         out,
		in:          bufio.NewScanner(in),
	}
	s.keepAlive.Store(true)
	return s, nil
}

// Run starts the receiver loop in its own goroutine and blocks in the
// sender loop until the user exits or the connection drops, then waits for
// the receiver to unwind too.
func (s *Session) Run() error {
	recvDone := make(chan error, 1)
	go func() {
		recvDone <- s.receiverLoop()
	}()

	sendErr := s.senderLoop()
	s.Close()
	recvErr := <-recvDone

	if sendErr != nil {
		return sendErr
	}
	return recvErr
}

// Close shuts down the connection from either goroutine; the other's
// blocked read/write unblocks with an error and that loop exits on its own
// — cooperative cancellation, no forced kills.
func (s *Session) Close() error {
	s.keepAlive.Store(false)
	return s.conn.Close()
}

func (s *Session) receiverLoop() error {
	for s.keepAlive.Load() {
		frame, err := wire.ReadFrame(s.conn)
		if err != nil {
			if !s.keepAlive.Load() {
				// Shutdown was requested from the sender side (senderLoop
				// returned, Close was called); the conn closing under us
				// is expected, not a failure to report.
				return nil
			}
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(s.out, "connection closed by relay")
				return nil
			}
			return err
		}
		if err := s.handleFrame(frame); err != nil {
			plog.Warning(fmt.Sprintf("dropping unreadable record: %v", err))
		}
	}
	return nil
}

// handleFrame distinguishes a rekey envelope from an ordinary chat record
// by trial decryption: rekey envelopes are always sealed under the control
// key (fixed for the life of the connection), chat records under whatever
// session key is currently active. GCM's authentication tag makes a
// successful Open under the wrong key negligibly unlikely, so a successful
// Open under the control key is treated as a rekey message; anything else
// is opened under the session key and printed.
func (s *Session) handleFrame(frame []byte) error {
	rec, err := wire.ParseFrame(frame)
	if err != nil {
		return err
	}

	if pt, err := wire.Open(s.controlKey, rec); err == nil {
		reply, key, done, err := s.participant.Advance(pt)
		if err != nil {
			return err
		}
		if reply != nil {
			if _, err := wire.WriteRecord(s.conn, s.controlKey, reply); err != nil {
				return err
			}
		}
		if done {
			s.mu.Lock()
			s.sessionKey = key
			s.mu.Unlock()
			plog.Debug("session key rotated")
		}
		return nil
	}

	s.mu.Lock()
	key := s.sessionKey
	s.mu.Unlock()

	pt, err := wire.Open(key, rec)
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, string(pt))
	return nil
}

func (s *Session) senderLoop() error {
	for s.keepAlive.Load() && s.in.Scan() {
		line := s.in.Text()
		if line == "" {
			continue
		}

		kind, payload, err := s.dispatchLine(line)
		if err != nil {
			if errors.Is(err, ErrUserError) {
				fmt.Fprintln(s.out, err)
				continue
			}
			return err
		}

		switch kind {
		case cmdExit:
			return nil
		case cmdNone:
			continue
		case cmdSendText, cmdSendFile:
			s.mu.Lock()
			key := s.sessionKey
			s.mu.Unlock()
			if _, err := wire.WriteRecord(s.conn, key, payload); err != nil {
				return err
			}
		}
	}
	return s.in.Err()
}
