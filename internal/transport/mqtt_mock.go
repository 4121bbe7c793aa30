package transport

import (
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
)

// MqttMock is in-process stand-in for paho client.
// Connect runs OnConnect synchronously, TestPublish routes to subscriptions,
// Lose and Reconnect drive the connection lost / reconnect callbacks.
type MqttMock struct {
	mu        sync.Mutex
	Opt       *mqtt.ClientOptions
	Pub       chan MockMsg
	subs      []MockSub
	connected bool

	ConnectErr   error
	PublishErr   error
	SubscribeErr error
}

type MockSub struct {
	Pattern string
	Qos     byte
	Handler mqtt.MessageHandler
}

func NewMqttMock() *MqttMock {
	return &MqttMock{
		Pub:  make(chan MockMsg, 32),
		subs: make([]MockSub, 0, 16),
	}
}

// New satisfies ClientFactory.
func (self *MqttMock) New(opt *mqtt.ClientOptions) mqtt.Client {
	self.mu.Lock()
	self.Opt = opt
	self.mu.Unlock()
	return self
}

func (self *MqttMock) TestPublish(t testing.TB, topic string, payload []byte) {
	msg := MockMsg{T: topic, P: payload}
	self.mu.Lock()
	var h mqtt.MessageHandler
	for _, sub := range self.subs {
		if TopicMatch(sub.Pattern, topic) {
			h = sub.Handler
			break
		}
	}
	if h == nil && self.Opt != nil {
		h = self.Opt.DefaultPublishHandler
	}
	self.mu.Unlock()
	if h == nil {
		t.Errorf("not subscribed for topic=%s", topic)
		return
	}
	h(self, msg)
}

// Lose simulates broker connection drop.
func (self *MqttMock) Lose(err error) {
	self.mu.Lock()
	self.connected = false
	self.subs = self.subs[:0]
	opt := self.Opt
	self.mu.Unlock()
	if opt != nil && opt.OnConnectionLost != nil {
		opt.OnConnectionLost(self, err)
	}
}

// Reconnect simulates successful automatic reconnect.
func (self *MqttMock) Reconnect() {
	self.mu.Lock()
	self.connected = true
	opt := self.Opt
	self.mu.Unlock()
	if opt != nil && opt.OnConnect != nil {
		opt.OnConnect(self)
	}
}

func (self *MqttMock) Subscriptions() []string {
	self.mu.Lock()
	defer self.mu.Unlock()
	ps := make([]string, len(self.subs))
	for i, s := range self.subs {
		ps[i] = s.Pattern
	}
	return ps
}

func (self *MqttMock) Disconnect(uint) {
	self.mu.Lock()
	self.connected = false
	self.mu.Unlock()
}
func (self *MqttMock) IsConnected() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.connected
}
func (self *MqttMock) IsConnectionOpen() bool { return self.IsConnected() }

func (self *MqttMock) Connect() mqtt.Token {
	if self.ConnectErr != nil {
		return mockToken{self.ConnectErr}
	}
	self.Reconnect()
	return mockToken{nil}
}

func (self *MqttMock) Publish(topic string, qos byte, retain bool, payload interface{}) mqtt.Token {
	if self.PublishErr != nil {
		return mockToken{self.PublishErr}
	}
	var b []byte
	switch p := payload.(type) {
	case []byte:
		b = p
	case string:
		b = []byte(p)
	}
	select {
	case self.Pub <- MockMsg{T: topic, P: b}:
	default:
		return mockToken{errors.Errorf("mock publish buffer full")}
	}
	return mockToken{nil}
}

func (self *MqttMock) Subscribe(pattern string, qos byte, handler mqtt.MessageHandler) mqtt.Token {
	if self.SubscribeErr != nil {
		return mockToken{self.SubscribeErr}
	}
	self.mu.Lock()
	self.subs = append(self.subs, MockSub{pattern, qos, handler})
	self.mu.Unlock()
	return mockToken{nil}
}

func (self *MqttMock) AddRoute(string, mqtt.MessageHandler) { panic("not implemented") }

func (self *MqttMock) OptionsReader() mqtt.ClientOptionsReader {
	panic("not implemented")
}

func (self *MqttMock) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	panic("not implemented")
}
func (self *MqttMock) Unsubscribe(...string) mqtt.Token { panic("not implemented") }

var closedChan = func() chan struct{} { ch := make(chan struct{}); close(ch); return ch }()

type mockToken struct{ error }

func (tok mockToken) Error() error                   { return tok.error }
func (tok mockToken) Wait() bool                     { return true }
func (tok mockToken) WaitTimeout(time.Duration) bool { return true }
func (tok mockToken) Done() <-chan struct{}          { return closedChan }

type MockMsg struct {
	T string
	P []byte
}

func (msg MockMsg) Ack()              {}
func (msg MockMsg) Duplicate() bool   { return false }
func (msg MockMsg) MessageID() uint16 { return 0 }
func (msg MockMsg) Payload() []byte   { return msg.P }
func (msg MockMsg) Qos() byte         { return 0 }
func (msg MockMsg) Retained() bool    { return false }
func (msg MockMsg) Topic() string     { return msg.T }

// TopicMatch implements MQTT filter wildcards + and #.
func TopicMatch(filter, topic string) bool {
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")
	for i, f := range fs {
		if f == "#" {
			return true
		}
		if i >= len(ts) {
			return false
		}
		if f != "+" && f != ts[i] {
			return false
		}
	}
	return len(fs) == len(ts)
}
