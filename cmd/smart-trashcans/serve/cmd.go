package serve

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brunobpinto/smart-trashcans/cmd/smart-trashcans/subcmd"
	"github.com/brunobpinto/smart-trashcans/internal/bridge"
	"github.com/brunobpinto/smart-trashcans/internal/config"
	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
)

var Mod = subcmd.Mod{Name: "serve", Usage: "run uplink listener, downlink worker and reports", Main: Main}

func Main(ctx context.Context, config *config.Config, _ []string) error {
	g := bridge.GetGlobal(ctx)
	if err := g.Init(ctx, config); err != nil {
		return errors.Annotate(err, "init")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := g.Start(ctx); err != nil {
		g.StopWait(5 * time.Second)
		return errors.Annotate(err, "start")
	}
	subcmd.SdNotify(daemon.SdNotifyReady)
	g.Log.Infof("bridge running")

	select {
	case <-ctx.Done():
		g.Log.Infof("signal received, stopping")
	case <-g.Alive.StopChan():
	}
	subcmd.SdNotify(daemon.SdNotifyStopping)
	if !g.StopWait(10 * time.Second) {
		return errors.Errorf("shutdown timeout")
	}
	return nil
}
