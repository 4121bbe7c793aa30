// Package bridge wires configuration into running components and owns
// their lifetime. Components are started exactly once per Global.
package bridge

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/brunobpinto/smart-trashcans/internal/config"
	"github.com/brunobpinto/smart-trashcans/internal/downlink"
	"github.com/brunobpinto/smart-trashcans/internal/frame"
	"github.com/brunobpinto/smart-trashcans/internal/metrics"
	"github.com/brunobpinto/smart-trashcans/internal/notify"
	"github.com/brunobpinto/smart-trashcans/internal/report"
	"github.com/brunobpinto/smart-trashcans/internal/state"
	"github.com/brunobpinto/smart-trashcans/internal/storage"
	"github.com/brunobpinto/smart-trashcans/internal/transport"
	"github.com/brunobpinto/smart-trashcans/internal/uplink"
	"github.com/brunobpinto/smart-trashcans/log2"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/temoto/alive/v2"
)

const ContextKey = "run/bridge-global"

type Global struct {
	Alive        *alive.Alive
	BuildVersion string
	Config       *config.Config
	Log          *log2.Log
	State        *state.State
	Registry     *prometheus.Registry

	// Set before Init to substitute, tests do that.
	Store      storage.Store
	Transport  transport.Dialer
	Notifier   notify.Notifier
	HTTPClient *http.Client

	Publisher *downlink.Publisher
	Queue     *downlink.Queue
	Listener  *uplink.Listener
	Scheduler *report.Scheduler

	startOnce sync.Once
	closers   []func()
}

func NewContext(log *log2.Log) (context.Context, *Global) {
	if log == nil {
		panic("code error NewContext() log=nil")
	}
	g := &Global{
		Alive: alive.NewAlive(),
		Log:   log,
		State: state.New(),
	}
	ctx := context.Background()
	ctx = context.WithValue(ctx, log2.ContextKey, log)
	ctx = context.WithValue(ctx, ContextKey, g)
	return ctx, g
}

func GetGlobal(ctx context.Context) *Global {
	v := ctx.Value(ContextKey)
	if v == nil {
		panic(fmt.Sprintf("context['%s'] is nil", ContextKey))
	}
	if g, ok := v.(*Global); ok {
		return g
	}
	panic(fmt.Sprintf("context['%s'] expected type *Global actual=%#v", ContextKey, v))
}

// If `Init` fails, consider `Global` is in broken state.
func (g *Global) Init(ctx context.Context, cfg *config.Config) error {
	g.Config = cfg
	g.Log.SetLevel(log2.ParseLevel(cfg.Log.Level))
	g.Log.Infof("build version=%s", g.BuildVersion)

	g.Registry = prometheus.NewRegistry()
	if err := metrics.Register(g.Registry); err != nil {
		return errors.Annotate(err, "metrics register")
	}
	g.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	// before Named clones below, so every component log counts errors
	g.Log.SetErrorFunc(func(error) { metrics.ErrorsLogged.Inc() })

	if err := g.initStore(ctx); err != nil {
		return errors.Annotate(err, "storage")
	}

	mq := cfg.Mqtt
	if g.Transport == nil {
		g.Transport = transport.NewManager(g.Log.Named("mqtt"), mq.LogDebug)
	}
	if !mq.DownlinkEnabled() {
		g.Log.Infof("downlink disabled: broker_url or downlink_topic not configured")
	} else if len(mq.DeviceIDs) == 0 {
		g.Log.Errorf("config: mqtt.downlink_topic set but mqtt.device_ids is empty, nothing to publish to")
	}
	g.Publisher = downlink.NewPublisher(g.Log.Named("downlink"), g.Transport, mq, g.State)
	q, err := downlink.OpenQueue(g.Log.Named("queue"), cfg.Queue, g.Publisher, mq.DeviceIDs, g.State)
	if err != nil {
		return errors.Annotate(err, "downlink queue")
	}
	g.Queue = q
	g.closers = append(g.closers, q.Close)

	h := uplink.NewHandler(g.Log.Named("uplink"), g.Store, g.State, mq.DecodeRaw)
	g.Listener = uplink.NewListener(g.Log.Named("uplink"), g.Transport, mq, h, g.State)
	g.closers = append(g.closers, g.Listener.Close)

	if g.Notifier == nil && cfg.Telegram.Enabled() {
		g.Notifier = notify.NewTelegram(g.Log.Named("telegram"), cfg.Telegram, g.HTTPClient)
	}
	g.Scheduler = report.NewScheduler(g.Log.Named("report"), g.Store, g.Notifier, cfg.Report, g.State)
	return nil
}

func (g *Global) initStore(ctx context.Context) error {
	if g.Store != nil {
		return nil
	}
	if g.Config.Database.URL == "" {
		g.Log.Errorf("config: database.url is empty, using in-memory storage, records are lost on exit")
		g.Store = storage.NewMemory()
		return nil
	}
	pg, err := storage.OpenPostgres(ctx, g.Log.Named("postgres"), g.Config.Database.URL, g.Config.Database.MaxOpenConns)
	if err != nil {
		return err
	}
	g.Store = pg
	g.closers = append(g.closers, func() {
		if err := pg.Close(); err != nil {
			g.Log.Errorf("postgres close err=%v", err)
		}
	})
	return nil
}

func (g *Global) MustInit(ctx context.Context, cfg *config.Config) {
	if err := g.Init(ctx, cfg); err != nil {
		g.Fatal(err)
	}
}

// Start launches uplink listener, report scheduler, downlink queue worker
// and ops HTTP server. Second call is no-op.
func (g *Global) Start(ctx context.Context) error {
	var err error
	g.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		go func() {
			<-g.Alive.StopChan()
			cancel()
		}()

		if !g.Alive.Add(2) {
			err = errors.Errorf("bridge already stopped")
			return
		}
		go g.Queue.Run(g.Alive)
		go func() {
			defer g.Alive.Done()
			g.Scheduler.Run(runCtx)
		}()

		g.Listener.Start(runCtx)

		err = g.startOps(runCtx)
	})
	return err
}

// Emitter accepts employee events for downlink sync.
func (g *Global) Emitter() downlink.Emitter { return g.Queue }

// PublishNow bypasses queue, used by one-shot CLI.
func (g *Global) PublishNow(ctx context.Context, f frame.Frame) downlink.Result {
	return g.Publisher.Publish(ctx, f, g.Config.Mqtt.DeviceIDs)
}

func (g *Global) Error(err error, args ...interface{}) {
	if err != nil {
		if len(args) != 0 {
			msg := args[0].(string)
			args = args[1:]
			err = errors.Annotatef(err, msg, args...)
		}
		g.Log.Error(errors.ErrorStack(err))
	}
}

func (g *Global) Fatal(err error, args ...interface{}) {
	if err != nil {
		g.Error(err, args...)
		g.StopWait(5 * time.Second)
		g.Log.Fatal(err)
	}
}

func (g *Global) Stop() {
	g.Alive.Stop()
}

// StopWait stops every component, false on timeout.
func (g *Global) StopWait(timeout time.Duration) bool {
	g.Alive.Stop()
	for i := len(g.closers) - 1; i >= 0; i-- {
		g.closers[i]()
	}
	g.closers = nil
	select {
	case <-g.Alive.WaitChan():
		return true
	case <-time.After(timeout):
		return false
	}
}
