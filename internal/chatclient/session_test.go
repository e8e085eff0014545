package chatclient

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"blitter.com/go/parcel/internal/kex"
	"blitter.com/go/parcel/internal/wire"
)

func _newMockKey(t *testing.T) [32]byte {
	t.Helper()
	var k [32]byte
	if _, err := rand.Read(k[:]); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	return k
}

// TestHandleFrameRekeyEnvelopeUpdatesSessionKey drives a real rekey ring
// (kex.RingRekey) against a lone client session and confirms the
// receiver-side dispatch in handleFrame recognizes the control-key-sealed
// envelopes and derives the session key, without ever touching chat framing.
func TestHandleFrameRekeyEnvelopeUpdatesSessionKey(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	controlKey := _newMockKey(t)
	nonce := _newMockKey(t)

	mu := &sync.Mutex{}
	s := &Session{
		conn:        &lockedConn{Conn: clientConn, mu: mu},
		mu:          mu,
		controlKey:  controlKey,
		participant: kex.NewParticipant(),
		out:         &bytes.Buffer{},
	}

	serverErr := make(chan error, 1)
	go func() {
		ring, err := kex.NewRingRekey([]net.Conn{serverConn}, [][32]byte{controlKey}, nonce)
		if err != nil {
			serverErr <- err
			return
		}
		for {
			if _, waiting := ring.WaitingOn(); !waiting {
				serverErr <- nil
				return
			}
			pt, err := wire.ReadRecord(serverConn, controlKey)
			if err != nil {
				serverErr <- err
				return
			}
			done, err := ring.Advance(pt)
			if err != nil {
				serverErr <- err
				return
			}
			if done {
				serverErr <- nil
				return
			}
		}
	}()

	deadline := time.After(2 * time.Second)
	for {
		type result struct {
			frame []byte
			err   error
		}
		frameCh := make(chan result, 1)
		go func() {
			frame, err := wire.ReadFrame(s.conn)
			frameCh <- result{frame, err}
		}()

		select {
		case r := <-frameCh:
			if r.err != nil {
				t.Fatalf("ReadFrame: %v", r.err)
			}
			if err := s.handleFrame(r.frame); err != nil {
				t.Fatalf("handleFrame: %v", err)
			}
		case <-deadline:
			t.Fatal("timed out waiting for rekey to complete")
		}

		s.mu.Lock()
		key := s.sessionKey
		s.mu.Unlock()
		if key != ([32]byte{}) {
			break
		}
	}

	if err := <-serverErr; err != nil {
		t.Fatalf("RingRekey: %v", err)
	}
}

// TestHandleFrameChatMessagePrintsToOutput confirms a record that doesn't
// decrypt under the control key falls through to the session key and its
// plaintext is written out, exercising handleFrame's trial-decryption path
// without any network I/O.
func TestHandleFrameChatMessagePrintsToOutput(t *testing.T) {
	controlKey := _newMockKey(t)
	sessionKey := _newMockKey(t)

	var buf bytes.Buffer
	mu := &sync.Mutex{}
	s := &Session{
		conn:        &lockedConn{Conn: nil, mu: mu},
		mu:          mu,
		controlKey:  controlKey,
		participant: kex.NewParticipant(),
		sessionKey:  sessionKey,
		out:         &buf,
	}

	frame, err := wire.Seal(sessionKey, []byte("bob: hello"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if err := s.handleFrame(frame); err != nil {
		t.Fatalf("handleFrame: %v", err)
	}
	if got, want := buf.String(), "bob: hello\n"; got != want {
		t.Fatalf("output = %q, want %q", got, want)
	}
}

// TestHandleFrameUnreadableRecordReturnsError confirms a record sealed
// under neither key is reported as an error rather than silently dropped
// or misinterpreted as a rekey envelope.
func TestHandleFrameUnreadableRecordReturnsError(t *testing.T) {
	controlKey := _newMockKey(t)
	sessionKey := _newMockKey(t)
	otherKey := _newMockKey(t)

	mu := &sync.Mutex{}
	s := &Session{
		conn:        &lockedConn{Conn: nil, mu: mu},
		mu:          mu,
		controlKey:  controlKey,
		participant: kex.NewParticipant(),
		sessionKey:  sessionKey,
		out:         &bytes.Buffer{},
	}

	frame, err := wire.Seal(otherKey, []byte("not readable by either key"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if err := s.handleFrame(frame); err == nil {
		t.Fatal("expected an error for a record unreadable under both keys")
	}
}

// TestRunSendsTextAndExitsOnQuit exercises the sender loop end to end over
// a net.Pipe: a fake relay on the other end reads exactly one record (the
// chat line) and then the client quits via :q.
func TestRunSendsTextAndExitsOnQuit(t *testing.T) {
	clientConn, relayConn := net.Pipe()
	defer clientConn.Close()
	defer relayConn.Close()

	sessionKey := _newMockKey(t)
	mu := &sync.Mutex{}
	var out bytes.Buffer
	s := &Session{
		conn:       &lockedConn{Conn: clientConn, mu: mu},
		mu:         mu,
		sessionKey: sessionKey,
		username:   "alice",
		out:        &out,
		in:         bufio.NewScanner(strings.NewReader("hello world\n:q\n")),
	}
	s.keepAlive.Store(true)

	received := make(chan []byte, 1)
	go func() {
		pt, err := wire.ReadRecord(relayConn, sessionKey)
		if err != nil {
			received <- nil
			return
		}
		received <- pt
	}()

	done := make(chan error, 1)
	go func() { done <- s.Run() }()

	select {
	case pt := <-received:
		if string(pt) != "alice: hello world" {
			t.Fatalf("relay received %q, want %q", pt, "alice: hello world")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for relay to receive the chat record")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Run to return after :q")
	}
}
