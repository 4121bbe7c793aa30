package bridge

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/brunobpinto/smart-trashcans/internal/downlink"
	"github.com/go-chi/chi/v5"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// EmployeeEvent is the body of POST /v1/employee-events.
type EmployeeEvent struct {
	Kind     downlink.EventKind `json:"kind"`
	Employee downlink.Employee  `json:"employee"`
	Previous *downlink.Employee `json:"previous,omitempty"`
}

// Router serves health, metrics, state and employee event intake.
func (g *Global) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/metrics", promhttp.HandlerFor(g.Registry, promhttp.HandlerOpts{}).ServeHTTP)
	r.Get("/v1/state", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(g.State.Snapshot())
	})
	r.Post("/v1/employee-events", func(w http.ResponseWriter, r *http.Request) {
		var ev EmployeeEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if err := g.emit(ev); err != nil {
			if errors.IsNotValid(err) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			g.Log.Error(err)
			http.Error(w, "queue failed", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})
	return r
}

func (g *Global) emit(ev EmployeeEvent) error {
	e := g.Emitter()
	switch ev.Kind {
	case downlink.EmployeeCreated:
		return e.EmployeeCreated(ev.Employee)
	case downlink.EmployeeDeleted:
		return e.EmployeeDeleted(ev.Employee)
	case downlink.EmployeeUpdated:
		if ev.Previous == nil {
			return errors.NotValidf("updated event without previous")
		}
		return e.EmployeeUpdated(*ev.Previous, ev.Employee)
	default:
		return errors.NotValidf("event kind=%q", ev.Kind)
	}
}

// startOps listens on config http.listen, empty disables.
func (g *Global) startOps(ctx context.Context) error {
	addr := g.Config.HTTP.Listen
	if addr == "" {
		g.Log.Debugf("ops http disabled")
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Annotatef(err, "ops http listen=%s", addr)
	}
	srv := &http.Server{
		Handler:           g.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Log.Infof("ops http listen=%s", ln.Addr())

	if !g.Alive.Add(1) {
		ln.Close()
		return errors.Errorf("ops http: bridge already stopped")
	}
	go func() {
		defer g.Alive.Done()
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			g.Log.Errorf("ops http serve err=%v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	return nil
}
