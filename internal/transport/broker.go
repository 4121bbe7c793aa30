package transport

import (
	"github.com/256dpi/gomqtt/broker"
	gomqtt_transport "github.com/256dpi/gomqtt/transport"
	"github.com/brunobpinto/smart-trashcans/log2"
	"github.com/juju/errors"
)

// Broker is embedded in-memory MQTT broker for local development
// (`smart-trashcans broker`) and end-to-end tests. No auth, no persistence.
type Broker struct {
	log    *log2.Log
	server gomqtt_transport.Server
	engine *broker.Engine
}

// StartBroker listens on url, e.g. "tcp://127.0.0.1:1883" or "tcp://127.0.0.1:0".
func StartBroker(log *log2.Log, url string) (*Broker, error) {
	server, err := gomqtt_transport.Launch(url)
	if err != nil {
		return nil, errors.Annotatef(err, "broker listen url=%s", url)
	}
	engine := broker.NewEngine(broker.NewMemoryBackend())
	engine.Accept(server)
	b := &Broker{log: log, server: server, engine: engine}
	log.Infof("broker listening url=%s", b.URL())
	return b, nil
}

func (self *Broker) URL() string { return "tcp://" + self.server.Addr().String() }

func (self *Broker) Close() error {
	err := self.server.Close()
	self.engine.Close()
	return errors.Annotate(err, "broker close")
}
