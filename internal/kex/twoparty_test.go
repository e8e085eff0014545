package kex

import (
	"net"
	"testing"
)

func TestTwoPartyHandshakeAgreesOnControlKey(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	type clientResult struct {
		key   [32]byte
		point [32]byte
		err   error
	}
	clientDone := make(chan clientResult, 1)
	go func() {
		key, point, err := TwoPartyClient(clientConn)
		clientDone <- clientResult{key, point, err}
	}()

	serverKey, err := TwoPartyServer(serverConn)
	if err != nil {
		t.Fatalf("TwoPartyServer: %v", err)
	}

	res := <-clientDone
	if res.err != nil {
		t.Fatalf("TwoPartyClient: %v", res.err)
	}
	if res.key != serverKey {
		t.Fatal("client and server derived different control keys")
	}
	var zero [32]byte
	if res.point == zero {
		t.Fatal("client's own point should not be all-zero")
	}
}

func TestTwoPartyHandshakeFailsOnLowOrderPeerPoint(t *testing.T) {
	var zero [32]byte
	_, err := sharedControlKey(zero, zero)
	if err == nil {
		t.Fatal("expected handshake to fail on all-zero peer point")
	}
}

func TestTwoPartyHandshakeFailsOnEOF(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	clientConn.Close()
	defer serverConn.Close()

	if _, err := TwoPartyServer(serverConn); err == nil {
		t.Fatal("expected handshake to fail on closed client connection")
	}
}
