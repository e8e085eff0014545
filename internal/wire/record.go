// Package wire implements the parcel record format: a fixed-offset,
// length-prefixed, authenticated frame that survives partial reads and
// writes over a stream transport.
//
// Frame layout: IV[16] | TAG[16] | LEN[8, big-endian] | CIPHERTEXT[LEN].
// The daemon relay path never decrypts a frame — it reads the header,
// learns LEN, and relays the remaining bytes untouched.
package wire

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
)

const (
	// IVLen is the size in bytes of the record's initialization vector.
	IVLen = 16
	// TagLen is the size in bytes of the record's AEAD authentication tag.
	TagLen = 16
	// LenFieldSize is the size in bytes of the big-endian payload length field.
	LenFieldSize = 8
	// HeaderLen is the total size of IV+TAG+LEN.
	HeaderLen = IVLen + TagLen + LenFieldSize
	// DataLenMax bounds the ciphertext length of a single record (16 KiB).
	DataLenMax = 16 * 1024
)

var (
	// ErrShortRead is returned when the peer closes mid-record, after some
	// but not all of the expected bytes have arrived.
	ErrShortRead = errors.New("wire: short read")
	// ErrOversizeFrame is returned when a frame's LEN field exceeds DataLenMax.
	ErrOversizeFrame = errors.New("wire: oversize frame")
	// ErrAuthFailure is returned by Open on an AEAD tag mismatch.
	ErrAuthFailure = errors.New("wire: authentication failure")
)

// Record is a parsed, still-encrypted frame.
type Record struct {
	IV         [IVLen]byte
	Tag        [TagLen]byte
	Ciphertext []byte
}

// SendAll writes exactly len(buf) bytes to conn, looping over short writes.
func SendAll(conn net.Conn, buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := conn.Write(buf[total:])
		if err != nil {
			return fmt.Errorf("wire: send_all: %w", err)
		}
		total += n
	}
	return nil
}

// RecvAll reads exactly len(buf) bytes from conn, looping over short reads.
//
// A clean disconnect with zero bytes transferred returns io.EOF. A partial
// transfer followed by EOF returns ErrShortRead. Any other read error is
// returned wrapped, whether or not bytes had already arrived.
func RecvAll(conn net.Conn, buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			if total == 0 && err == io.EOF {
				return io.EOF
			}
			if err == io.EOF {
				return ErrShortRead
			}
			return fmt.Errorf("wire: recv_all: %w", err)
		}
	}
	return nil
}

// newGCM builds an AES-256-GCM AEAD with the 16-byte nonce/tag sizes the
// wire format requires.
func newGCM(key [32]byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, IVLen)
}

// Seal encrypts plaintext under key and returns a complete wire frame.
func Seal(key [32]byte, plaintext []byte) ([]byte, error) {
	if len(plaintext) > DataLenMax {
		return nil, ErrOversizeFrame
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	var iv [IVLen]byte
	if _, err := rand.Read(iv[:]); err != nil {
		return nil, err
	}
	sealed := aead.Seal(nil, iv[:], plaintext, nil)
	ct := sealed[:len(sealed)-TagLen]
	var tag [TagLen]byte
	copy(tag[:], sealed[len(sealed)-TagLen:])

	frame := make([]byte, 0, HeaderLen+len(ct))
	frame = append(frame, iv[:]...)
	frame = append(frame, tag[:]...)
	var lbuf [LenFieldSize]byte
	binary.BigEndian.PutUint64(lbuf[:], uint64(len(ct)))
	frame = append(frame, lbuf[:]...)
	frame = append(frame, ct...)
	return frame, nil
}

// Open authenticates and decrypts a parsed Record under key.
func Open(key [32]byte, rec Record) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	sealed := make([]byte, 0, len(rec.Ciphertext)+TagLen)
	sealed = append(sealed, rec.Ciphertext...)
	sealed = append(sealed, rec.Tag[:]...)
	pt, err := aead.Open(nil, rec.IV[:], sealed, nil)
	if err != nil {
		return nil, ErrAuthFailure
	}
	return pt, nil
}

// ReadFrame reads one complete frame (header + ciphertext) from conn and
// returns the raw bytes, without decrypting. This is what the daemon relay
// path uses: it never needs the plaintext, only the byte count.
func ReadFrame(conn net.Conn) ([]byte, error) {
	header := make([]byte, HeaderLen)
	if err := RecvAll(conn, header); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint64(header[IVLen+TagLen:])
	if length > DataLenMax {
		return nil, ErrOversizeFrame
	}
	frame := make([]byte, HeaderLen+int(length))
	copy(frame, header)
	if length > 0 {
		if err := RecvAll(conn, frame[HeaderLen:]); err != nil {
			return nil, err
		}
	}
	return frame, nil
}

// ParseFrame splits a raw frame (as returned by ReadFrame) into a Record.
func ParseFrame(frame []byte) (Record, error) {
	if len(frame) < HeaderLen {
		return Record{}, ErrShortRead
	}
	var rec Record
	copy(rec.IV[:], frame[:IVLen])
	copy(rec.Tag[:], frame[IVLen:IVLen+TagLen])
	length := binary.BigEndian.Uint64(frame[IVLen+TagLen : HeaderLen])
	if length > DataLenMax || HeaderLen+int(length) != len(frame) {
		return Record{}, ErrOversizeFrame
	}
	rec.Ciphertext = frame[HeaderLen:]
	return rec, nil
}

// WriteRecord encrypts plaintext under key and writes one frame to conn.
func WriteRecord(conn net.Conn, key [32]byte, plaintext []byte) (int, error) {
	frame, err := Seal(key, plaintext)
	if err != nil {
		return 0, err
	}
	if err := SendAll(conn, frame); err != nil {
		return 0, err
	}
	return len(plaintext), nil
}

// ReadRecord reads one frame from conn and decrypts it under key.
func ReadRecord(conn net.Conn, key [32]byte) ([]byte, error) {
	frame, err := ReadFrame(conn)
	if err != nil {
		return nil, err
	}
	rec, err := ParseFrame(frame)
	if err != nil {
		return nil, err
	}
	return Open(key, rec)
}
