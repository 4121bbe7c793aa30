package broker

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/brunobpinto/smart-trashcans/cmd/smart-trashcans/subcmd"
	"github.com/brunobpinto/smart-trashcans/internal/bridge"
	"github.com/brunobpinto/smart-trashcans/internal/config"
	"github.com/brunobpinto/smart-trashcans/internal/transport"
	"github.com/coreos/go-systemd/daemon"
)

const defaultURL = "tcp://127.0.0.1:1883"

var Mod = subcmd.Mod{Name: "broker", Usage: "[URL]   embedded MQTT broker for local development", Main: Main}

func Main(ctx context.Context, _ *config.Config, args []string) error {
	g := bridge.GetGlobal(ctx)
	url := defaultURL
	if len(args) > 0 {
		url = args[0]
	}
	b, err := transport.StartBroker(g.Log.Named("broker"), url)
	if err != nil {
		return err
	}
	defer b.Close()
	subcmd.SdNotify(daemon.SdNotifyReady)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	return nil
}
