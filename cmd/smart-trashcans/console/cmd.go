// Package console is interactive frame codec playground.
package console

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/brunobpinto/smart-trashcans/cmd/smart-trashcans/downlink"
	"github.com/brunobpinto/smart-trashcans/cmd/smart-trashcans/subcmd"
	"github.com/brunobpinto/smart-trashcans/helpers/cli"
	"github.com/brunobpinto/smart-trashcans/internal/bridge"
	"github.com/brunobpinto/smart-trashcans/internal/config"
	downlink_api "github.com/brunobpinto/smart-trashcans/internal/downlink"
	"github.com/brunobpinto/smart-trashcans/internal/frame"
	"github.com/brunobpinto/smart-trashcans/internal/transport"
	"github.com/c-bata/go-prompt"
	"github.com/juju/errors"
)

const modName = "console"

const usage = `syntax: one command per line
- insert TAG [ROLE]   encode INSERT frame, print hex and envelope
- delete TAG          encode DELETE frame
- decode HEX          decode downlink frame
- unwrap JSON         decode frames inside downlink envelope
- uplink HEX          decode raw firmware uplink
- publish insert|delete ...   send to every mqtt.device_ids
- state               print runtime state
`

var Mod = subcmd.Mod{Name: modName, Usage: "interactive frame encode/decode/publish", Main: Main}

func Main(ctx context.Context, config *config.Config, _ []string) error {
	g := bridge.GetGlobal(ctx)
	var pub *downlink_api.Publisher
	if config.Mqtt.DownlinkEnabled() {
		dialer := transport.NewManager(g.Log.Named("mqtt"), config.Mqtt.LogDebug)
		pub = downlink_api.NewPublisher(g.Log.Named("downlink"), dialer, config.Mqtt, g.State)
	}
	c := &Console{w: os.Stdout, pub: pub, targets: config.Mqtt.DeviceIDs, global: g}
	return cli.MainLoop(modName, func(line string) { c.Exec(ctx, line) }, complete)
}

var suggests = []prompt.Suggest{
	{Text: "insert", Description: "insert TAG [ROLE]"},
	{Text: "delete", Description: "delete TAG"},
	{Text: "decode", Description: "decode HEX"},
	{Text: "unwrap", Description: "unwrap JSON"},
	{Text: "uplink", Description: "uplink HEX"},
	{Text: "publish", Description: "publish insert|delete ..."},
	{Text: "state"},
	{Text: "help"},
}

func complete(d prompt.Document) []prompt.Suggest {
	if strings.ContainsRune(d.TextBeforeCursor(), ' ') {
		return nil
	}
	return cli.FilterWords(d, suggests)
}

type Console struct {
	w       io.Writer
	pub     *downlink_api.Publisher
	targets []string
	global  *bridge.Global
}

func (self *Console) Exec(ctx context.Context, line string) {
	if err := self.exec(ctx, line); err != nil {
		fmt.Fprintf(self.w, "error: %v\n", err)
	}
}

func (self *Console) exec(ctx context.Context, line string) error {
	words := strings.Fields(line)
	if len(words) == 0 {
		return nil
	}
	args := words[1:]
	switch strings.ToLower(words[0]) {
	case "help", "?":
		fmt.Fprint(self.w, usage)
		return nil

	case "insert", "delete":
		f, err := downlink.ParseArgs(words)
		if err != nil {
			return err
		}
		return self.printFrame(f)

	case "decode":
		b, err := decodeHex(args)
		if err != nil {
			return err
		}
		cmd, err := frame.Decode(b)
		if err != nil {
			return err
		}
		fmt.Fprintln(self.w, cmd)
		return nil

	case "unwrap":
		fs, err := frame.Unwrap([]byte(strings.Join(args, " ")))
		if err != nil {
			return err
		}
		for _, f := range fs {
			cmd, err := frame.Decode(f)
			if err != nil {
				fmt.Fprintf(self.w, "%s invalid: %v\n", f, err)
				continue
			}
			fmt.Fprintf(self.w, "%s %s\n", f, cmd)
		}
		return nil

	case "uplink":
		b, err := decodeHex(args)
		if err != nil {
			return err
		}
		u, err := frame.DecodeUplink(b)
		if err != nil {
			return err
		}
		switch u.Operation {
		case "CLEANUP":
			fmt.Fprintf(self.w, "%s trashcan=%s tag=%s\n", u.Operation, u.TrashcanName, u.Identity)
		default:
			fmt.Fprintf(self.w, "%s trashcan=%s fill=%d%% uses=%d\n", u.Operation, u.TrashcanName, u.FillPercent, u.UsageCount)
		}
		return nil

	case "publish":
		if self.pub == nil || !self.pub.Enabled() {
			return errors.NotValidf("downlink not configured")
		}
		f, err := downlink.ParseArgs(args)
		if err != nil {
			return err
		}
		res := self.pub.Publish(ctx, f, self.targets)
		fmt.Fprintf(self.w, "published=%v failed=%v\n", res.Published, res.Failed)
		return nil

	case "state":
		b, err := json.MarshalIndent(self.global.State.Snapshot(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintf(self.w, "%s\n", b)
		return nil
	}
	return errors.NotValidf("command=%s, try help", words[0])
}

func (self *Console) printFrame(f frame.Frame) error {
	cmd, err := frame.Decode(f)
	if err != nil {
		return err
	}
	env, err := frame.Wrap(f)
	if err != nil {
		return err
	}
	fmt.Fprintf(self.w, "%s %s\n%s\n", f, cmd, env)
	return nil
}

// decodeHex accepts "021A2B3C4D" or "02 1A 2B 3C 4D".
func decodeHex(args []string) ([]byte, error) {
	s := strings.Join(args, "")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.NotValidf("hex %q", s)
	}
	return b, nil
}
