// Package transport opens and closes MQTT broker connections and surfaces
// connect/error/close/message events through one callback set.
//
// Transport contract:
// - Dial without Persistent waits for connect (or ctx) and fails with the connect error
// - Dial with Persistent returns immediately, client reconnects in background forever
// - event callbacks run on client goroutines, must not block for long
// - QoS 0 everywhere: delivery is at most once
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/brunobpinto/smart-trashcans/log2"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
)

const qos byte = 0

type MessageHandler func(topic string, payload []byte)

type Events struct {
	OnConnect func(Conn)
	OnError   func(error)
	OnClose   func(error)
	OnMessage MessageHandler
}

type Options struct {
	BrokerURL      string
	Username       string
	Password       string // secret
	ClientID       string
	ConnectTimeout time.Duration
	Keepalive      time.Duration
	Persistent     bool
	Events         Events
}

type Conn interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string, h MessageHandler) error
	Close()
}

type Dialer interface {
	Dial(ctx context.Context, opt Options) (Conn, error)
}

type ClientFactory func(*mqtt.ClientOptions) mqtt.Client

type Manager struct {
	log       *log2.Log
	newClient ClientFactory
}

var pahoLogOnce sync.Once

func NewManager(log *log2.Log, debug bool) *Manager {
	pahoLogOnce.Do(func() {
		// paho loggers are package globals
		mqtt.ERROR = log
		mqtt.CRITICAL = log
		mqtt.WARN = log
		if debug {
			mqtt.DEBUG = log
		}
	})
	return &Manager{log: log, newClient: mqtt.NewClient}
}

// NewManagerWithClient substitutes paho client constructor, tests use MqttMock.New.
func NewManagerWithClient(log *log2.Log, f ClientFactory) *Manager {
	return &Manager{log: log, newClient: f}
}

func (self *Manager) Dial(ctx context.Context, opt Options) (Conn, error) {
	if opt.BrokerURL == "" {
		return nil, errors.NotValidf("empty broker url")
	}
	conn := &pahoConn{
		log:    self.log,
		id:     opt.ClientID,
		closed: make(chan struct{}),
	}
	ev := opt.Events

	mopt := mqtt.NewClientOptions().
		AddBroker(opt.BrokerURL).
		SetClientID(opt.ClientID).
		SetUsername(opt.Username).
		SetPassword(opt.Password).
		SetCleanSession(true).
		SetOrderMatters(false).
		SetAutoReconnect(opt.Persistent).
		SetConnectRetry(opt.Persistent).
		SetOnConnectHandler(func(mqtt.Client) {
			self.log.Debugf("mqtt connect client=%s", opt.ClientID)
			if ev.OnConnect != nil {
				ev.OnConnect(conn)
			}
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			self.log.Infof("mqtt connection lost client=%s err=%v", opt.ClientID, err)
			if ev.OnClose != nil {
				ev.OnClose(err)
			}
		}).
		SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
			self.log.Debugf("mqtt reconnecting client=%s", opt.ClientID)
		})
	if opt.ConnectTimeout > 0 {
		mopt.SetConnectTimeout(opt.ConnectTimeout)
	}
	if opt.Keepalive > 0 {
		mopt.SetKeepAlive(opt.Keepalive)
	}
	if ev.OnMessage != nil {
		mopt.SetDefaultPublishHandler(func(_ mqtt.Client, msg mqtt.Message) {
			ev.OnMessage(msg.Topic(), msg.Payload())
		})
	}
	conn.c = self.newClient(mopt)

	tok := conn.c.Connect()
	if opt.Persistent {
		go func() {
			select {
			case <-tok.Done():
				if err := tok.Error(); err != nil {
					self.log.Errorf("mqtt connect client=%s err=%v", opt.ClientID, err)
					if ev.OnError != nil {
						ev.OnError(err)
					}
				}
			case <-conn.closed:
			}
		}()
		return conn, nil
	}

	if err := wait(ctx, tok); err != nil {
		err = errors.Annotatef(err, "mqtt connect broker=%s client=%s", opt.BrokerURL, opt.ClientID)
		if ev.OnError != nil {
			ev.OnError(err)
		}
		conn.Close()
		return nil, err
	}
	return conn, nil
}

type pahoConn struct {
	log       *log2.Log
	id        string
	c         mqtt.Client
	closeOnce sync.Once
	closed    chan struct{}
}

func (self *pahoConn) Publish(ctx context.Context, topic string, payload []byte) error {
	err := wait(ctx, self.c.Publish(topic, qos, false, payload))
	return errors.Annotatef(err, "mqtt publish topic=%s", topic)
}

func (self *pahoConn) Subscribe(ctx context.Context, topic string, h MessageHandler) error {
	var cb mqtt.MessageHandler
	if h != nil {
		cb = func(_ mqtt.Client, msg mqtt.Message) { h(msg.Topic(), msg.Payload()) }
	}
	err := wait(ctx, self.c.Subscribe(topic, qos, cb))
	return errors.Annotatef(err, "mqtt subscribe topic=%s", topic)
}

func (self *pahoConn) Close() {
	self.closeOnce.Do(func() {
		close(self.closed)
		self.c.Disconnect(250)
		self.log.Debugf("mqtt closed client=%s", self.id)
	})
}

func wait(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
