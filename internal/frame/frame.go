// Package frame is the binary wire format understood by bin firmware.
//
// Downlink frame layout:
//
//	[op(1)] [rfid tag(4)] [role(1), INSERT only]
//
// INSERT is 6 bytes, DELETE is 5 bytes. Frames travel base64-encoded
// inside the LoRaWAN gateway JSON envelope, see Wrap.
package frame

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/juju/errors"
)

type Op byte

const (
	OpInsert Op = 0x01
	OpDelete Op = 0x02
)

func (op Op) String() string {
	switch op {
	case OpInsert:
		return "INSERT"
	case OpDelete:
		return "DELETE"
	}
	return fmt.Sprintf("Op(0x%02x)", byte(op))
}

type Role byte

const (
	RoleWorker Role = 0x01
	RoleAdmin  Role = 0x02
)

const roleAdminName = "ADMIN"

// ParseRole is total: only "ADMIN" in any case maps to RoleAdmin.
func ParseRole(s string) Role {
	if strings.EqualFold(strings.TrimSpace(s), roleAdminName) {
		return RoleAdmin
	}
	return RoleWorker
}

func (r Role) String() string {
	switch r {
	case RoleWorker:
		return "WORKER"
	case RoleAdmin:
		return "ADMIN"
	}
	return fmt.Sprintf("Role(0x%02x)", byte(r))
}

const IdentityLen = 4

// Identity is the 4 byte UID of an RFID tag.
type Identity [IdentityLen]byte

// ParseIdentity reads space separated hex octets, e.g. "AA BB CC DD".
// Missing octets are zero, extra octets are dropped,
// an octet that is not valid hex becomes 0x00. Never fails.
func ParseIdentity(s string) Identity {
	var id Identity
	octets := strings.Fields(s)
	for i := 0; i < IdentityLen && i < len(octets); i++ {
		id[i] = parseOctet(octets[i])
	}
	return id
}

func parseOctet(s string) byte {
	if len(s) == 1 {
		s = "0" + s
	}
	if len(s) != 2 {
		return 0
	}
	var b [1]byte
	if _, err := hex.Decode(b[:], []byte(s)); err != nil {
		return 0
	}
	return b[0]
}

func (id Identity) String() string {
	var sb strings.Builder
	sb.Grow(IdentityLen * 3)
	for i, b := range id {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}

type Frame []byte

const (
	insertLen = 1 + IdentityLen + 1
	deleteLen = 1 + IdentityLen
)

func EncodeInsert(identity string, role string) Frame {
	id := ParseIdentity(identity)
	f := make(Frame, 0, insertLen)
	f = append(f, byte(OpInsert))
	f = append(f, id[:]...)
	f = append(f, byte(ParseRole(role)))
	return f
}

func EncodeDelete(identity string) Frame {
	id := ParseIdentity(identity)
	f := make(Frame, 0, deleteLen)
	f = append(f, byte(OpDelete))
	f = append(f, id[:]...)
	return f
}

// Command is decoded form of a downlink frame.
type Command struct {
	Op       Op
	Identity Identity
	Role     Role // zero for DELETE
}

func (c Command) String() string {
	if c.Op == OpInsert {
		return fmt.Sprintf("%s tag=%s role=%s", c.Op, c.Identity, c.Role)
	}
	return fmt.Sprintf("%s tag=%s", c.Op, c.Identity)
}

// Decode validates frame length and codes the same way firmware does.
func Decode(f Frame) (Command, error) {
	var c Command
	if len(f) == 0 {
		return c, errors.NotValidf("empty frame")
	}
	c.Op = Op(f[0])
	switch c.Op {
	case OpInsert:
		if len(f) != insertLen {
			return c, errors.NotValidf("INSERT frame length=%d expected=%d", len(f), insertLen)
		}
		c.Role = Role(f[insertLen-1])
		if c.Role != RoleWorker && c.Role != RoleAdmin {
			return c, errors.NotValidf("role=%s", c.Role)
		}
	case OpDelete:
		if len(f) != deleteLen {
			return c, errors.NotValidf("DELETE frame length=%d expected=%d", len(f), deleteLen)
		}
	default:
		return c, errors.NotValidf("op=%s", c.Op)
	}
	copy(c.Identity[:], f[1:1+IdentityLen])
	return c, nil
}

func (f Frame) String() string { return fmt.Sprintf("%X", []byte(f)) }
