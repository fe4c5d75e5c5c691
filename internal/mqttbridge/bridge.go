// Package mqttbridge mirrors controller events onto an MQTT broker and
// accepts print submissions from it.
package mqttbridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/orrn/catspool/internal/config"
	"github.com/orrn/catspool/internal/core"
	"github.com/orrn/catspool/internal/raster"
)

var ErrConnectTimeout = errors.New("mqtt connect timed out")

const (
	connectTimeout   = 10 * time.Second
	publishTimeout   = 5 * time.Second
	defaultQueueSize = 64
)

// Submitter accepts decoded images for printing.
type Submitter interface {
	Submit(img image.Image) (string, error)
}

type StateMessage struct {
	State    string    `json:"state"`
	Previous string    `json:"previous"`
	Time     time.Time `json:"time"`
}

type outbound struct {
	topic    string
	retained bool
	payload  []byte
}

// Bridge publishes through its own goroutine so that a stalled broker
// never holds up the controller loop.
type Bridge struct {
	client    mqtt.Client
	prefix    string
	submitter Submitter
	logger    *zap.Logger

	outbox   chan outbound
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(cfg config.MQTTConfig, logger *zap.Logger) *Bridge {
	b := newBridge(nil, cfg.TopicPrefix, logger, defaultQueueSize)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetWill(b.topic("state"), `{"state":"offline"}`, 1, true)
	opts.OnConnect = b.onConnect
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		b.logger.Warn("connection lost", zap.Error(err))
	}

	b.client = mqtt.NewClient(opts)
	return b
}

func newBridge(client mqtt.Client, prefix string, logger *zap.Logger, queueSize int) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		client: client,
		prefix: prefix,
		logger: logger.Named("mqtt"),
		outbox: make(chan outbound, queueSize),
		stopCh: make(chan struct{}),
	}
}

// SetSubmitter must be called before Start; print requests arriving
// without one are ignored.
func (b *Bridge) SetSubmitter(s Submitter) {
	b.submitter = s
}

func (b *Bridge) topic(name string) string {
	return b.prefix + "/" + name
}

// Start launches the publisher and connects to the broker. Events raised
// before the connection is up are published once it is.
func (b *Bridge) Start() error {
	b.wg.Add(1)
	go b.run()

	token := b.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return ErrConnectTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	return nil
}

// Stop publishes what is already queued, then disconnects.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	b.wg.Wait()
	b.client.Disconnect(250)
}

func (b *Bridge) run() {
	defer b.wg.Done()
	for {
		select {
		case msg := <-b.outbox:
			b.send(msg)
		case <-b.stopCh:
			for {
				select {
				case msg := <-b.outbox:
					b.send(msg)
				default:
					return
				}
			}
		}
	}
}

func (b *Bridge) send(msg outbound) {
	if !b.client.IsConnected() {
		return
	}
	token := b.client.Publish(msg.topic, 0, msg.retained, msg.payload)
	if token == nil {
		return
	}
	if !token.WaitTimeout(publishTimeout) {
		b.logger.Warn("publish timed out", zap.String("topic", msg.topic))
		return
	}
	if err := token.Error(); err != nil {
		b.logger.Warn("publish failed", zap.String("topic", msg.topic), zap.Error(err))
	}
}

func (b *Bridge) onConnect(c mqtt.Client) {
	b.logger.Info("connected to broker")
	c.Subscribe(b.topic("print"), 1, b.handlePrint)
}

func (b *Bridge) handlePrint(_ mqtt.Client, msg mqtt.Message) {
	if b.submitter == nil {
		return
	}
	img, _, err := raster.Decode(bytes.NewReader(msg.Payload()))
	if err != nil {
		b.logger.Warn("rejected print payload",
			zap.String("topic", msg.Topic()),
			zap.Int("size", len(msg.Payload())),
			zap.Error(err),
		)
		return
	}

	id, err := b.submitter.Submit(img)
	if err != nil {
		b.logger.Warn("failed to submit image", zap.Error(err))
		return
	}
	b.logger.Info("submitted image from broker", zap.String("job_id", id))
}

// StateChanged publishes the new link state as a retained message.
func (b *Bridge) StateChanged(from, to core.ConnectionState) {
	b.publish("state", true, StateMessage{
		State:    to.String(),
		Previous: from.String(),
		Time:     time.Now(),
	})
}

func (b *Bridge) JobEvent(ev core.JobEvent) {
	b.publish("jobs", false, ev)
}

// publish encodes v and queues it, dropping it when the queue is full.
func (b *Bridge) publish(name string, retained bool, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.logger.Error("failed to encode message", zap.String("topic", name), zap.Error(err))
		return
	}
	select {
	case b.outbox <- outbound{topic: b.topic(name), retained: retained, payload: payload}:
	default:
		b.logger.Warn("mqtt queue full, dropping message", zap.String("topic", name))
	}
}
