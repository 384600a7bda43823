// Package mqttout publishes absolute axis positions to an MQTT broker for
// fixtures (or bridges) that subscribe to per-axis topics.
package mqttout

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"stagetrack/errcode"
	"stagetrack/services/fixture"
	"stagetrack/types"
	"stagetrack/x/mathx"
	"stagetrack/x/strx"
	"stagetrack/x/timex"
)

const (
	Type = "mqtt"

	DefaultBroker      = "127.0.0.1:1883"
	DefaultTopicPrefix = "stagetrack/fixture"

	EncodingJSON    = "json"
	EncodingMsgpack = "msgpack"

	connectTimeout = 5 * time.Second

	// maxInFlight bounds publishes still waiting on the broker.
	maxInFlight = 32
)

func init() { fixture.RegisterBuilder(Type, builder{}) }

type builder struct{}

func (builder) Build(in fixture.BuildInput) (fixture.Actuator, error) {
	var c types.FixtureMQTTConfig
	if in.Config.MQTT != nil {
		c = *in.Config.MQTT
	}
	a, err := New(in.ActuatorID, c, nil, in.Log)
	if err != nil {
		return nil, err
	}
	if err := a.Connect(); err != nil {
		return nil, err
	}
	return a, nil
}

// Actuator publishes types.AxisCommand payloads on <prefix>/<actuator>/<axis>.
type Actuator struct {
	id     string
	cfg    types.FixtureMQTTConfig
	client mqtt.Client
	log    *slog.Logger
	encode func(any) ([]byte, error)

	mu        sync.RWMutex
	connected bool
	inFlight  int
	published map[string]uint64
	errors    uint64
}

// Stats contains publisher statistics. Published counts broker-acknowledged
// messages per topic.
type Stats struct {
	Connected bool
	InFlight  int
	Published map[string]uint64
	Errors    uint64
}

// New prepares a publisher. With client nil a paho client is created from cfg;
// it is not connected until Connect.
func New(id string, cfg types.FixtureMQTTConfig, client mqtt.Client, log *slog.Logger) (*Actuator, error) {
	const op = "mqttout.new"
	if log == nil {
		log = slog.Default()
	}
	cfg.Broker = strx.Coalesce(cfg.Broker, DefaultBroker)
	cfg.TopicPrefix = strings.TrimSuffix(strx.Coalesce(cfg.TopicPrefix, DefaultTopicPrefix), "/")
	cfg.ClientID = strx.Coalesce(cfg.ClientID, "stagetrack-"+uuid.NewString())
	cfg.Encoding = strx.Coalesce(cfg.Encoding, EncodingJSON)
	if !mathx.Between(cfg.QoS, 0, 2) {
		return nil, errcode.New(errcode.InvalidConfig, op, fmt.Sprintf("qos %d", cfg.QoS))
	}

	a := &Actuator{
		id:        id,
		cfg:       cfg,
		log:       log,
		published: make(map[string]uint64),
	}
	switch cfg.Encoding {
	case EncodingJSON:
		a.encode = json.Marshal
	case EncodingMsgpack:
		a.encode = msgpack.Marshal
	default:
		return nil, errcode.New(errcode.InvalidConfig, op, fmt.Sprintf("unknown encoding %q", cfg.Encoding))
	}

	if client == nil {
		client = mqtt.NewClient(a.clientOptions())
	} else {
		a.connected = client.IsConnected()
	}
	a.client = client
	return a, nil
}

func (a *Actuator) clientOptions() *mqtt.ClientOptions {
	broker := a.cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(a.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		a.setConnected(true)
		a.log.Info("mqtt connection established", "broker", a.cfg.Broker, "client_id", a.cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		a.setConnected(false)
		a.log.Warn("mqtt connection lost, will auto-reconnect", "broker", a.cfg.Broker, "err", err)
	}
	return opts
}

// Connect dials the broker. A timeout is not fatal: paho keeps retrying in
// the background and commands fail fast until the link is up.
func (a *Actuator) Connect() error {
	a.log.Info("connecting to mqtt broker", "broker", a.cfg.Broker)
	token := a.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		a.log.Warn("mqtt connect still pending", "broker", a.cfg.Broker, "waited", connectTimeout)
		return nil
	}
	if err := token.Error(); err != nil {
		return errcode.Wrap(errcode.LinkDown, "mqttout.connect", err)
	}
	a.setConnected(true)
	return nil
}

// Topic returns the publish topic for axis.
func (a *Actuator) Topic(axis types.Axis) string {
	return a.cfg.TopicPrefix + "/" + a.id + "/" + axis.String()
}

// Command hands the position to paho and returns without waiting for the
// broker. Delivery failures show up in Stats and the log.
func (a *Actuator) Command(axis types.Axis, deg float64) error {
	const op = "mqttout.command"
	if !a.isConnected() {
		a.countError()
		return errcode.New(errcode.LinkDown, op, "mqtt not connected")
	}

	payload, err := a.encode(types.AxisCommand{
		ActuatorID: a.id,
		Axis:       axis.String(),
		Degrees:    deg,
		TS:         timex.NowMs(),
	})
	if err != nil {
		a.countError()
		return errcode.Wrap(errcode.InvalidPayload, op, err)
	}

	a.mu.Lock()
	if a.inFlight >= maxInFlight {
		a.errors++
		a.mu.Unlock()
		return errcode.New(errcode.Timeout, op, "broker is not keeping up")
	}
	a.inFlight++
	a.mu.Unlock()

	topic := a.Topic(axis)
	go a.settle(topic, a.client.Publish(topic, a.cfg.QoS, false, payload))
	return nil
}

// settle waits for one publish token off the control path and records the
// outcome.
func (a *Actuator) settle(topic string, token mqtt.Token) {
	<-token.Done()
	err := token.Error()

	a.mu.Lock()
	a.inFlight--
	if err != nil {
		a.errors++
	} else {
		a.published[topic]++
	}
	n := a.errors
	a.mu.Unlock()

	if err != nil && (n == 1 || n%100 == 0) {
		a.log.Warn("mqtt publish failed", "topic", topic, "err", err, "errors", n)
	}
}

func (a *Actuator) Close() error {
	if a.client != nil && a.client.IsConnected() {
		a.client.Disconnect(250)
		a.log.Info("mqtt disconnected")
	}
	a.setConnected(false)
	return nil
}

func (a *Actuator) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	published := make(map[string]uint64, len(a.published))
	for k, v := range a.published {
		published[k] = v
	}
	return Stats{Connected: a.connected, InFlight: a.inFlight, Published: published, Errors: a.errors}
}

func (a *Actuator) setConnected(v bool) {
	a.mu.Lock()
	a.connected = v
	a.mu.Unlock()
}

func (a *Actuator) isConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connected
}

func (a *Actuator) countError() {
	a.mu.Lock()
	a.errors++
	a.mu.Unlock()
}
