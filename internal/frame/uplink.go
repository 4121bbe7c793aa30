package frame

import (
	"strings"

	"github.com/juju/errors"
)

// Uplink operation ids as sent by firmware in raw frm_payload.
const (
	UplinkCleanup byte = 0x01
	UplinkStatus  byte = 0x02
)

const (
	trashcanNameLen  = 6
	uplinkCleanupLen = 1 + trashcanNameLen + IdentityLen
	uplinkStatusLen  = 1 + trashcanNameLen + 1 + 1
	operationCleanup = "CLEANUP"
	operationStatus  = "STATUS"
)

// RawUplink is firmware frame decoded without the network server payload formatter.
//
//	cleanup: [0x01] [trashcan name(6)] [rfid uid(4)]
//	status:  [0x02] [trashcan name(6)] [fill %(1)] [usage count(1)]
type RawUplink struct {
	Operation    string
	TrashcanName string
	Identity     Identity
	FillPercent  int
	UsageCount   int
}

func DecodeUplink(b []byte) (RawUplink, error) {
	var u RawUplink
	if len(b) == 0 {
		return u, errors.NotValidf("empty uplink")
	}
	switch b[0] {
	case UplinkCleanup:
		if len(b) < uplinkCleanupLen {
			return u, errors.NotValidf("cleanup uplink length=%d", len(b))
		}
		u.Operation = operationCleanup
		copy(u.Identity[:], b[1+trashcanNameLen:uplinkCleanupLen])
	case UplinkStatus:
		if len(b) < uplinkStatusLen {
			return u, errors.NotValidf("status uplink length=%d", len(b))
		}
		u.Operation = operationStatus
		u.FillPercent = int(b[1+trashcanNameLen])
		u.UsageCount = int(b[2+trashcanNameLen])
	default:
		return u, errors.NotValidf("uplink op=0x%02x", b[0])
	}
	u.TrashcanName = strings.TrimRight(string(b[1:1+trashcanNameLen]), "\x00 ")
	return u, nil
}
