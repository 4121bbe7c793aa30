package uplink

import (
	"encoding/json"

	"github.com/brunobpinto/smart-trashcans/internal/frame"
	"github.com/juju/errors"
)

const (
	OperationCleanup = "CLEANUP"
	OperationStatus  = "STATUS"
)

// Envelope is The Things Stack v3 uplink message, only fields we use.
type Envelope struct {
	EndDeviceIDs struct {
		DeviceID string `json:"device_id"`
	} `json:"end_device_ids"`
	UplinkMessage *struct {
		FPort int `json:"f_port"`
		// base64 in JSON
		FrmPayload     []byte   `json:"frm_payload"`
		DecodedPayload *Payload `json:"decoded_payload"`
	} `json:"uplink_message"`
}

// Payload fields are pointers: absent and zero are different things.
type Payload struct {
	Operation    string   `json:"operation"`
	RFIDTag      *string  `json:"rfidTag"`
	TrashcanName *string  `json:"trashcanName"`
	FillPercent  *float64 `json:"fillPercent"`
	UsageCount   *int     `json:"usageCount"`
}

// ParseEnvelope returns device id and decoded payload.
// With decodeRaw, absent decoded_payload falls back to firmware frame in frm_payload.
func ParseEnvelope(b []byte, decodeRaw bool) (string, *Payload, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return "", nil, reject(ReasonBadJSON, errors.Annotate(err, "uplink json"))
	}
	deviceID := env.EndDeviceIDs.DeviceID
	um := env.UplinkMessage
	if um == nil {
		return deviceID, nil, reject(ReasonMissingPayload, errors.New("missing uplink_message"))
	}
	if um.DecodedPayload != nil {
		return deviceID, um.DecodedPayload, nil
	}
	if !decodeRaw || len(um.FrmPayload) == 0 {
		return deviceID, nil, reject(ReasonMissingPayload, errors.New("missing uplink_message.decoded_payload"))
	}
	raw, err := frame.DecodeUplink(um.FrmPayload)
	if err != nil {
		return deviceID, nil, reject(ReasonBadPayload, errors.Annotate(err, "uplink frm_payload"))
	}
	return deviceID, payloadFromRaw(raw), nil
}

func payloadFromRaw(raw frame.RawUplink) *Payload {
	p := &Payload{Operation: raw.Operation}
	name := raw.TrashcanName
	p.TrashcanName = &name
	switch raw.Operation {
	case OperationCleanup:
		tag := raw.Identity.String()
		p.RFIDTag = &tag
	case OperationStatus:
		fill, usage := float64(raw.FillPercent), raw.UsageCount
		p.FillPercent = &fill
		p.UsageCount = &usage
	}
	return p
}
