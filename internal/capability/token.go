package capability

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// macSize is the truncated MAC length appended to every handle.
const macSize = 16

// Token is an unforgeable credential over one resource. The fields are
// unexported: the only way to obtain a valid Token is through Issue or
// Delegate, and handles crossing the control-plane boundary carry a keyed
// MAC that ParseToken verifies before the table is ever consulted.
type Token struct {
	id  uint64 // packed slot index (high 32 bits) and generation (low 32)
	mac [macSize]byte
}

// IsZero reports whether the token is the zero value.
func (t Token) IsZero() bool {
	return t.id == 0
}

// String renders the token as a portable handle: "cap_<id>_<mac>" in hex.
func (t Token) String() string {
	return fmt.Sprintf("cap_%016x_%s", t.id, hex.EncodeToString(t.mac[:]))
}

func packID(slot, generation uint32) uint64 {
	return uint64(slot)<<32 | uint64(generation)
}

func unpackID(id uint64) (slot, generation uint32) {
	return uint32(id >> 32), uint32(id)
}

// macFor computes the keyed MAC binding a packed ID to this boot's secret.
func macFor(secret []byte, id uint64) [macSize]byte {
	h, err := blake2b.New256(secret)
	if err != nil {
		// Key length is validated at manager construction.
		panic(fmt.Sprintf("capability: mac init: %v", err))
	}
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(id >> (56 - 8*i))
	}
	h.Write(buf[:])
	var mac [macSize]byte
	copy(mac[:], h.Sum(nil))
	return mac
}

// ParseToken reconstructs a Token from its handle form, verifying the MAC.
// A handle minted under a different boot secret fails closed with ErrInvalid.
func (m *Manager) ParseToken(handle string) (Token, error) {
	parts := strings.Split(handle, "_")
	if len(parts) != 3 || parts[0] != "cap" {
		return Token{}, ErrInvalid
	}
	idBytes, err := hex.DecodeString(parts[1])
	if err != nil || len(idBytes) != 8 {
		return Token{}, ErrInvalid
	}
	var id uint64
	for _, b := range idBytes {
		id = id<<8 | uint64(b)
	}
	macBytes, err := hex.DecodeString(parts[2])
	if err != nil || len(macBytes) != macSize {
		return Token{}, ErrInvalid
	}

	want := macFor(m.secret, id)
	var got [macSize]byte
	copy(got[:], macBytes)
	if got != want {
		return Token{}, ErrInvalid
	}
	return Token{id: id, mac: want}, nil
}
