// Package kex implements Parcel's two-party client<->daemon key exchange
// (the control key) and the N-party group rekey ring (the session key).
//
// The two-party exchange is a straightforward X25519 Diffie-Hellman: each
// side samples a scalar, exchanges public points, and hashes the shared
// point with SHA-256 to get a 32-byte control key. Ordering is fixed: the
// client writes its point first, the daemon reads then replies.
package kex

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"net"

	"golang.org/x/crypto/curve25519"

	"blitter.com/go/parcel/internal/wire"
)

// ErrHandshakeFailed covers any I/O failure, short read, or non-canonical
// point encountered during the two-party exchange.
var ErrHandshakeFailed = errors.New("kex: handshake failed")

// generatePoint samples a fresh X25519 scalar and returns it along with its
// public point.
func generatePoint() (scalar, point [32]byte, err error) {
	if _, err = rand.Read(scalar[:]); err != nil {
		return
	}
	pub, err := curve25519.X25519(scalar[:], curve25519.Basepoint)
	if err != nil {
		return
	}
	copy(point[:], pub)
	return
}

// isLowOrder rejects an all-zero peer point read off the wire before any
// key is derived from it. Other low-order points are caught by
// curve25519.X25519 itself, which returns an error whenever the shared
// output is all-zero.
func isLowOrder(point [32]byte) bool {
	var zero [32]byte
	return point == zero
}

func sharedControlKey(scalar, peerPoint [32]byte) ([32]byte, error) {
	var key [32]byte
	if isLowOrder(peerPoint) {
		return key, ErrHandshakeFailed
	}
	shared, err := curve25519.X25519(scalar[:], peerPoint[:])
	if err != nil {
		return key, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	key = sha256.Sum256(shared)
	return key, nil
}

func writePoint(conn net.Conn, point [32]byte) error {
	if err := wire.SendAll(conn, point[:]); err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	return nil
}

func readPoint(conn net.Conn) ([32]byte, error) {
	var point [32]byte
	if err := wire.RecvAll(conn, point[:]); err != nil {
		return point, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	return point, nil
}

// TwoPartyClient runs the client side of the two-party handshake: write our
// point first, then read the daemon's. The client's own public point is
// returned alongside the control key so the caller can derive its display
// fingerprint from the same identity material without a second handshake.
func TwoPartyClient(conn net.Conn) (controlKey [32]byte, ownPoint [32]byte, err error) {
	scalar, point, err := generatePoint()
	if err != nil {
		return controlKey, ownPoint, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	ownPoint = point
	if err = writePoint(conn, point); err != nil {
		return controlKey, ownPoint, err
	}
	peerPoint, err := readPoint(conn)
	if err != nil {
		return controlKey, ownPoint, err
	}
	controlKey, err = sharedControlKey(scalar, peerPoint)
	return
}

// TwoPartyServer runs the daemon side of the two-party handshake: read the
// client's point first, then write ours.
func TwoPartyServer(conn net.Conn) (controlKey [32]byte, err error) {
	scalar, point, err := generatePoint()
	if err != nil {
		return controlKey, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	peerPoint, err := readPoint(conn)
	if err != nil {
		return controlKey, err
	}
	if err = writePoint(conn, point); err != nil {
		return controlKey, err
	}
	return sharedControlKey(scalar, peerPoint)
}
