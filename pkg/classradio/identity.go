package classradio

import (
	"crypto/rand"
	"encoding/hex"
)

// Identity is the addressing token of a device: the hex form of its hardware unique id.
type Identity string

// NewIdentity derives an identity from hardware unique bytes.
func NewIdentity(uid []byte) Identity {
	return Identity(hex.EncodeToString(uid))
}

// RandomIdentity makes an 8-byte identity for devices without a hardware id.
func RandomIdentity() Identity {
	uid := make([]byte, 8)
	_, _ = rand.Read(uid)
	return NewIdentity(uid)
}

// Short returns the last 4 hex digits, used in display and warnings.
func (id Identity) Short() string {
	if len(id) <= 4 {
		return string(id)
	}
	return string(id[len(id)-4:])
}

func (id Identity) String() string {
	return string(id)
}
