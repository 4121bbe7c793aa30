package frame

import (
	"encoding/base64"
	"encoding/json"

	"github.com/juju/errors"
)

const (
	// DownlinkPort is LoRaWAN FPort the firmware listens on for user management.
	DownlinkPort     = 5
	DownlinkPriority = "HIGH"
)

type Downlink struct {
	FPort      int    `json:"f_port"`
	FrmPayload string `json:"frm_payload"`
	Priority   string `json:"priority"`
}

// DownlinkEnvelope is the network server "downlink queue push" message.
type DownlinkEnvelope struct {
	Downlinks []Downlink `json:"downlinks"`
}

// Wrap builds gateway JSON around one frame. Pure, same frame gives same bytes.
func Wrap(f Frame) ([]byte, error) {
	env := DownlinkEnvelope{Downlinks: []Downlink{{
		FPort:      DownlinkPort,
		FrmPayload: base64.StdEncoding.EncodeToString(f),
		Priority:   DownlinkPriority,
	}}}
	b, err := json.Marshal(env)
	return b, errors.Annotate(err, "downlink envelope")
}

// Unwrap extracts frames from envelope, used by console echo and tests.
func Unwrap(b []byte) ([]Frame, error) {
	var env DownlinkEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, errors.Annotate(err, "downlink envelope")
	}
	fs := make([]Frame, 0, len(env.Downlinks))
	for _, d := range env.Downlinks {
		raw, err := base64.StdEncoding.DecodeString(d.FrmPayload)
		if err != nil {
			return nil, errors.Annotatef(err, "frm_payload=%q", d.FrmPayload)
		}
		fs = append(fs, Frame(raw))
	}
	return fs, nil
}
