package kex

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"net"

	"blitter.com/go/parcel/internal/fingerprint"
	"blitter.com/go/parcel/internal/wire"
)

// ErrRekeyAborted is returned when any peer errors out mid-rekey, or sends
// a malformed or out-of-sequence envelope. The caller (internal/relay)
// restarts the rekey with the surviving peer set; a second consecutive
// failure is fatal to the daemon.
var ErrRekeyAborted = errors.New("kex: rekey aborted")

// The group rekey runs a Burmester-Desmedt conference key agreement over a
// 2048-bit MODP group (RFC 3526 group 14): every peer samples a private
// exponent it never transmits, exchanges only public group elements with
// its ring neighbors, and derives the same conference key locally. The
// relay forwards every element (it has to, to run the ring) but never sees
// an exponent, so unlike a router that simply re-encrypts a shared
// accumulator, it cannot combine what it observes into the session key
// without solving a discrete-log/Diffie-Hellman problem over the group.
var (
	dhP = mustHex(group14Hex)
	dhQ = new(big.Int).Rsh(new(big.Int).Sub(dhP, big.NewInt(1)), 1)
	dhG = big.NewInt(2)
)

// group14Hex is the RFC 3526 2048-bit MODP group 14 prime.
const group14Hex = "" +
	"FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E088A67CC74" +
	"020BBEA63B139B22514A08798E3404DDEF9519B3CD3A431B302B0A6DF25F1437" +
	"4FE1356D6D51C245E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED" +
	"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3DC2007CB8A163BF05" +
	"98DA48361C55D39A69163FA8FD24CF5F83655D23DCA3AD961C62F356208552BB" +
	"9ED529077096966D670C354E4ABC9804F1746C08CA18217C32905E462E36CE3B" +
	"E39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9DE2BCBF695581718" +
	"3995497CEA956AE515D2261898FA051015728E5A8AACAA68FFFFFFFFFFFFFFFF"

func mustHex(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("kex: malformed embedded group constant")
	}
	return v
}

// groupElemLen is the fixed-width big-endian encoding size of a value mod
// dhP: 2048 bits.
const groupElemLen = 256

// envelopeHeaderLen is encodeEnvelope's fixed overhead before its
// variable-length group-element values.
const envelopeHeaderLen = 1 + 32 + 4 + 4 + 2

// MaxRingSize bounds how many peers a single rekey round can carry: the
// final broadcast envelope holds one group element per peer, and the
// whole envelope must still fit under wire.DataLenMax.
const MaxRingSize = (wire.DataLenMax - envelopeHeaderLen) / groupElemLen

const (
	opRequestZ byte = 0 // relay -> peer: request a round-1 contribution; peer's reply carries it
	opRound2   byte = 1 // relay -> peer: carries the two ring neighbors' round-1 values; reply carries X_i
	opFinal    byte = 2 // relay -> peer: carries every peer's X value; no reply expected
)

func randExponent() (*big.Int, error) {
	return rand.Int(rand.Reader, dhQ)
}

func modExp(base, exp *big.Int) *big.Int {
	return new(big.Int).Exp(base, exp, dhP)
}

func mulMod(a, b *big.Int) *big.Int {
	return new(big.Int).Mod(new(big.Int).Mul(a, b), dhP)
}

func invMod(a *big.Int) *big.Int {
	return new(big.Int).ModInverse(a, dhP)
}

func encodeEnvelope(opcode byte, nonce [32]byte, meta1, meta2 uint32, values []*big.Int) []byte {
	buf := make([]byte, envelopeHeaderLen, envelopeHeaderLen+len(values)*groupElemLen)
	buf[0] = opcode
	copy(buf[1:33], nonce[:])
	binary.BigEndian.PutUint32(buf[33:37], meta1)
	binary.BigEndian.PutUint32(buf[37:41], meta2)
	binary.BigEndian.PutUint16(buf[41:43], uint16(len(values)))
	for _, v := range values {
		var elem [groupElemLen]byte
		v.FillBytes(elem[:])
		buf = append(buf, elem[:]...)
	}
	return buf
}

func decodeEnvelope(pt []byte) (opcode byte, nonce [32]byte, meta1, meta2 uint32, values []*big.Int, err error) {
	if len(pt) < envelopeHeaderLen {
		err = fmt.Errorf("%w: malformed rekey envelope (%d bytes)", ErrRekeyAborted, len(pt))
		return
	}
	opcode = pt[0]
	copy(nonce[:], pt[1:33])
	meta1 = binary.BigEndian.Uint32(pt[33:37])
	meta2 = binary.BigEndian.Uint32(pt[37:41])
	count := binary.BigEndian.Uint16(pt[41:43])
	rest := pt[envelopeHeaderLen:]
	if len(rest) != int(count)*groupElemLen {
		err = fmt.Errorf("%w: malformed rekey envelope value count", ErrRekeyAborted)
		return
	}
	values = make([]*big.Int, count)
	for i := 0; i < int(count); i++ {
		values[i] = new(big.Int).SetBytes(rest[i*groupElemLen : (i+1)*groupElemLen])
	}
	return
}

// RingRekey drives the daemon side of the rekey ring one reply at a time.
// Each call to Advance consumes exactly the envelope the caller's own
// reader goroutine delivered from the peer WaitingOn currently names —
// RingRekey itself never reads a socket, so the owner loop that drives it
// never competes with that per-peer reader for the same connection.
type RingRekey struct {
	conns       []net.Conn
	controlKeys [][32]byte
	nonce       [32]byte
	phase       int
	waitIdx     int
	zs          []*big.Int
	xs          []*big.Int
}

const (
	ringPhaseZ = iota
	ringPhaseX
	ringPhaseDone
)

// NewRingRekey snapshots the current peer set (conns/controlKeys must be
// the same length and share index order) and sends the first round-1
// request. nonce seeds the session key's derivation label so it is unique
// to this rekey event.
func NewRingRekey(conns []net.Conn, controlKeys [][32]byte, nonce [32]byte) (*RingRekey, error) {
	n := len(conns)
	if len(controlKeys) != n {
		return nil, fmt.Errorf("%w: control key count mismatch", ErrRekeyAborted)
	}
	if n > MaxRingSize {
		return nil, fmt.Errorf("%w: %d peers exceeds the %d-peer ring limit", ErrRekeyAborted, n, MaxRingSize)
	}
	r := &RingRekey{
		conns:       conns,
		controlKeys: controlKeys,
		nonce:       nonce,
		zs:          make([]*big.Int, n),
		xs:          make([]*big.Int, n),
	}
	if n == 0 {
		r.phase = ringPhaseDone
		return r, nil
	}
	if err := r.requestZ(0); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *RingRekey) requestZ(i int) error {
	env := encodeEnvelope(opRequestZ, r.nonce, 0, 0, nil)
	if _, err := wire.WriteRecord(r.conns[i], r.controlKeys[i], env); err != nil {
		return fmt.Errorf("%w: requesting round-1 value from peer %d: %v", ErrRekeyAborted, i, err)
	}
	r.waitIdx = i
	return nil
}

func (r *RingRekey) requestX(i int) error {
	n := len(r.conns)
	left := r.zs[(i-1+n)%n]
	right := r.zs[(i+1)%n]
	env := encodeEnvelope(opRound2, r.nonce, uint32(i), uint32(n), []*big.Int{left, right})
	if _, err := wire.WriteRecord(r.conns[i], r.controlKeys[i], env); err != nil {
		return fmt.Errorf("%w: sending round-2 input to peer %d: %v", ErrRekeyAborted, i, err)
	}
	r.waitIdx = i
	return nil
}

func (r *RingRekey) broadcastFinal() error {
	env := encodeEnvelope(opFinal, r.nonce, 0, uint32(len(r.xs)), r.xs)
	for i, conn := range r.conns {
		if _, err := wire.WriteRecord(conn, r.controlKeys[i], env); err != nil {
			return fmt.Errorf("%w: distributing final values to peer %d: %v", ErrRekeyAborted, i, err)
		}
	}
	return nil
}

// WaitingOn reports the peer index Advance next expects a reply from. It
// returns false once the ring (including the trivial zero-peer case) has
// finished.
func (r *RingRekey) WaitingOn() (int, bool) {
	if r.phase == ringPhaseDone {
		return 0, false
	}
	return r.waitIdx, true
}

// Advance feeds a decrypted envelope received from whichever peer
// WaitingOn currently names. It returns done once the final broadcast has
// gone out to every peer.
func (r *RingRekey) Advance(plaintext []byte) (done bool, err error) {
	n := len(r.conns)
	opcode, _, _, _, values, err := decodeEnvelope(plaintext)
	if err != nil {
		return false, err
	}
	i := r.waitIdx

	switch r.phase {
	case ringPhaseZ:
		if opcode != opRequestZ || len(values) != 1 {
			return false, fmt.Errorf("%w: expected round-1 reply from peer %d, got opcode %d", ErrRekeyAborted, i, opcode)
		}
		r.zs[i] = values[0]
		if i+1 < n {
			return false, r.requestZ(i + 1)
		}
		r.phase = ringPhaseX
		return false, r.requestX(0)

	case ringPhaseX:
		if opcode != opRound2 || len(values) != 1 {
			return false, fmt.Errorf("%w: expected round-2 reply from peer %d, got opcode %d", ErrRekeyAborted, i, opcode)
		}
		r.xs[i] = values[0]
		if i+1 < n {
			return false, r.requestX(i + 1)
		}
		if err := r.broadcastFinal(); err != nil {
			return false, err
		}
		r.phase = ringPhaseDone
		return true, nil

	default:
		return true, nil
	}
}

// Participant drives one client's side of the rekey ring. It is stateful
// across a single rekey (round-1 request through the final broadcast) and
// is reset once that rekey completes. It never transmits its own secret
// exponent r — only the public values the protocol needs — so the relay
// forwarding its messages learns nothing that lets it derive the session
// key Advance eventually returns.
type Participant struct {
	r    *big.Int
	left *big.Int
	idx  int
	n    int
}

// NewParticipant returns a participant with no rekey in progress.
func NewParticipant() *Participant {
	return &Participant{}
}

// Advance consumes one decrypted rekey envelope arriving on the
// connection. It returns the reply to encrypt and send back under the
// same control key (nil if this envelope calls for none), and the
// derived session key once the final broadcast arrives.
func (p *Participant) Advance(plaintext []byte) (reply []byte, sessionKey [32]byte, done bool, err error) {
	opcode, nonce, meta1, meta2, values, err := decodeEnvelope(plaintext)
	if err != nil {
		return nil, sessionKey, false, err
	}

	switch opcode {
	case opRequestZ:
		r, err := randExponent()
		if err != nil {
			return nil, sessionKey, false, fmt.Errorf("%w: %v", ErrRekeyAborted, err)
		}
		p.r = r
		z := modExp(dhG, r)
		return encodeEnvelope(opRequestZ, nonce, 0, 0, []*big.Int{z}), sessionKey, false, nil

	case opRound2:
		if len(values) != 2 {
			return nil, sessionKey, false, fmt.Errorf("%w: malformed round-2 envelope", ErrRekeyAborted)
		}
		if p.r == nil {
			return nil, sessionKey, false, fmt.Errorf("%w: round-2 envelope before round-1", ErrRekeyAborted)
		}
		left, right := values[0], values[1]
		p.left = left
		p.idx = int(meta1)
		p.n = int(meta2)
		x := modExp(mulMod(right, invMod(left)), p.r)
		return encodeEnvelope(opRound2, nonce, 0, 0, []*big.Int{x}), sessionKey, false, nil

	case opFinal:
		if p.r == nil || p.left == nil || p.n == 0 {
			return nil, sessionKey, false, fmt.Errorf("%w: final envelope before round-2", ErrRekeyAborted)
		}
		if len(values) != p.n {
			return nil, sessionKey, false, fmt.Errorf("%w: final envelope carries %d values, expected %d", ErrRekeyAborted, len(values), p.n)
		}
		k := p.groupKey(values)
		digest := sha256.Sum256(k.Bytes())
		sessionKey, err = fingerprint.Expand(digest, fmt.Sprintf("parcel-rekey-%x", nonce))
		if err != nil {
			return nil, sessionKey, false, fmt.Errorf("%w: %v", ErrRekeyAborted, err)
		}
		*p = Participant{}
		return nil, sessionKey, true, nil

	default:
		return nil, sessionKey, false, fmt.Errorf("%w: unknown opcode %d", ErrRekeyAborted, opcode)
	}
}

// groupKey applies the Burmester-Desmedt combination formula:
// K = (z_{i-1})^(n*r_i) * prod_{j=0}^{n-2} X_{(i+j) mod n}^(n-1-j), which
// every peer computes to the same value from different inputs.
func (p *Participant) groupKey(xs []*big.Int) *big.Int {
	n := p.n
	k := modExp(p.left, new(big.Int).Mul(big.NewInt(int64(n)), p.r))
	for j := 0; j < n-1; j++ {
		idx := (p.idx + j) % n
		power := big.NewInt(int64(n - 1 - j))
		k = mulMod(k, modExp(xs[idx], power))
	}
	return k
}
