package downlink

import (
	"context"
	"fmt"
	"strings"

	"github.com/brunobpinto/smart-trashcans/cmd/smart-trashcans/subcmd"
	"github.com/brunobpinto/smart-trashcans/internal/bridge"
	"github.com/brunobpinto/smart-trashcans/internal/config"
	downlink_api "github.com/brunobpinto/smart-trashcans/internal/downlink"
	"github.com/brunobpinto/smart-trashcans/internal/frame"
	"github.com/brunobpinto/smart-trashcans/internal/transport"
	"github.com/juju/errors"
)

const usage = `insert TAG [ROLE] | delete TAG   publish one frame to every mqtt.device_ids`

var Mod = subcmd.Mod{Name: "downlink", Usage: usage, Main: Main}

// Main publishes once without queue, storage or listener.
func Main(ctx context.Context, config *config.Config, args []string) error {
	g := bridge.GetGlobal(ctx)
	f, err := ParseArgs(args)
	if err != nil {
		return err
	}
	if !config.Mqtt.DownlinkEnabled() {
		return errors.NotValidf("downlink not configured: need mqtt.broker_url and mqtt.downlink_topic")
	}
	if len(config.Mqtt.DeviceIDs) == 0 {
		return errors.NotValidf("mqtt.device_ids empty")
	}
	dialer := transport.NewManager(g.Log.Named("mqtt"), config.Mqtt.LogDebug)
	pub := downlink_api.NewPublisher(g.Log.Named("downlink"), dialer, config.Mqtt, g.State)
	cmd, _ := frame.Decode(f)
	g.Log.Infof("publish %s frame=%s", cmd, f)
	res := pub.Publish(ctx, f, config.Mqtt.DeviceIDs)
	fmt.Printf("published=%s failed=%s\n", strings.Join(res.Published, ","), strings.Join(res.Failed, ","))
	if len(res.Failed) != 0 {
		return errors.Errorf("downlink failed for %d of %d devices", len(res.Failed), len(config.Mqtt.DeviceIDs))
	}
	return nil
}

// ParseArgs: insert TAG [ROLE] or delete TAG. TAG may be one word "1A2B3C4D"
// or space separated octets passed as separate args.
func ParseArgs(args []string) (frame.Frame, error) {
	if len(args) < 2 {
		return nil, errors.NotValidf("arguments, usage: %s", usage)
	}
	op := strings.ToLower(args[0])
	rest := args[1:]
	switch op {
	case "insert":
		role := "WORKER"
		if n := len(rest); n > 1 && isRole(rest[n-1]) {
			role = strings.ToUpper(rest[n-1])
			rest = rest[:n-1]
		}
		return frame.EncodeInsert(joinTag(rest), role), nil
	case "delete":
		return frame.EncodeDelete(joinTag(rest)), nil
	}
	return nil, errors.NotValidf("operation=%s", args[0])
}

func isRole(s string) bool {
	s = strings.ToUpper(s)
	return s == "ADMIN" || s == "WORKER"
}

func joinTag(parts []string) string {
	if len(parts) == 1 && len(parts[0]) == 2*frame.IdentityLen && !strings.ContainsRune(parts[0], ' ') {
		s := parts[0]
		octets := make([]string, 0, frame.IdentityLen)
		for i := 0; i < len(s); i += 2 {
			octets = append(octets, s[i:i+2])
		}
		return strings.Join(octets, " ")
	}
	return strings.Join(parts, " ")
}
