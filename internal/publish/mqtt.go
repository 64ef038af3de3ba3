// Package publish sends paired ranging results to an MQTT broker.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/cs-ranging/internal/monitoring"
	"github.com/banshee-data/cs-ranging/internal/pipeline"
	"github.com/banshee-data/cs-ranging/internal/units"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// ErrNotConnected is returned when publishing while the broker is unreachable.
var ErrNotConnected = errors.New("publish: mqtt not connected")

// DefaultPublishTimeout bounds the wait for a broker acknowledgement.
const DefaultPublishTimeout = 5 * time.Second

// Options configures an MQTTPublisher.
type Options struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
	QoS      byte
	Retain   bool
	// Unit is the distance unit of published distances.
	Unit           string
	PublishTimeout time.Duration
}

// MQTTPublisher publishes one message per pair to <topic>/<run_id>/pairs
// and the run report to <topic>/<run_id>/report.
type MQTTPublisher struct {
	client mqtt.Client
	opts   Options
}

// PairMessage is the payload published for each pair.
type PairMessage struct {
	RunID              string    `json:"run_id"`
	Counter            uint32    `json:"procedure_counter"`
	PairedAt           time.Time `json:"paired_at"`
	Channels           int       `json:"channels"`
	InitiatorSteps     int       `json:"initiator_steps"`
	ReflectorSteps     int       `json:"reflector_steps"`
	Unit               string    `json:"unit"`
	PeakDelaySeconds   *float64  `json:"peak_delay_s,omitempty"`
	MusicDistance      *float64  `json:"music_distance,omitempty"`
	PhaseSlopeDistance *float64  `json:"phase_slope_distance,omitempty"`
}

// clientID appends a random suffix so two runs never share a session.
func clientID(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

// NewMQTTPublisher connects to opts.Broker.
func NewMQTTPublisher(opts Options) (*MQTTPublisher, error) {
	if opts.Broker == "" {
		return nil, errors.New("publish: broker is required")
	}

	co := mqtt.NewClientOptions()
	co.AddBroker(opts.Broker)
	co.SetClientID(clientID(opts.ClientID))
	if opts.Username != "" {
		co.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		co.SetPassword(opts.Password)
	}
	co.SetAutoReconnect(true)
	co.SetConnectRetry(true)
	co.SetConnectRetryInterval(10 * time.Second)
	co.SetKeepAlive(60 * time.Second)
	co.SetPingTimeout(10 * time.Second)

	co.SetOnConnectHandler(func(mqtt.Client) {
		monitoring.Logf("publish: connected to %s", opts.Broker)
	})
	co.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		monitoring.Logf("publish: connection lost: %v", err)
	})
	co.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		monitoring.Logf("publish: reconnecting to %s", opts.Broker)
	})

	client := mqtt.NewClient(co)
	token := client.Connect()
	timeout := opts.PublishTimeout
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	if !token.WaitTimeout(timeout) {
		client.Disconnect(0)
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: timed out", opts.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", opts.Broker, err)
	}
	return NewMQTTPublisherWithClient(client, opts), nil
}

// NewMQTTPublisherWithClient wraps an existing client.
func NewMQTTPublisherWithClient(client mqtt.Client, opts Options) *MQTTPublisher {
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = DefaultPublishTimeout
	}
	if !units.IsValid(opts.Unit) {
		opts.Unit = units.M
	}
	return &MQTTPublisher{client: client, opts: opts}
}

// Topic returns the topic for kind ("pairs" or "report") within run.
func (mp *MQTTPublisher) Topic(run uuid.UUID, kind string) string {
	return fmt.Sprintf("%s/%s/%s", mp.opts.Topic, run, kind)
}

func (mp *MQTTPublisher) convert(meters *float64) *float64 {
	if meters == nil {
		return nil
	}
	v := units.ConvertDistance(*meters, mp.opts.Unit)
	return &v
}

// NewPairMessage builds the payload for p.
func (mp *MQTTPublisher) NewPairMessage(p pipeline.Pair) PairMessage {
	msg := PairMessage{
		RunID:              p.RunID.String(),
		Counter:            p.Counter,
		PairedAt:           p.PairedAt,
		Channels:           len(p.Result.Channels),
		Unit:               mp.opts.Unit,
		PeakDelaySeconds:   p.Result.PeakDelaySeconds,
		MusicDistance:      mp.convert(p.Result.MusicDistanceM),
		PhaseSlopeDistance: mp.convert(p.Result.PhaseSlopeDistanceM),
	}
	if p.Initiator != nil {
		msg.InitiatorSteps = len(p.Initiator.Steps)
	}
	if p.Reflector != nil {
		msg.ReflectorSteps = len(p.Reflector.Steps)
	}
	return msg
}

// PublishPair publishes p and waits for the broker acknowledgement.
func (mp *MQTTPublisher) PublishPair(ctx context.Context, p pipeline.Pair) error {
	return mp.publish(ctx, mp.Topic(p.RunID, "pairs"), mp.NewPairMessage(p))
}

// PublishReport publishes the run report.
func (mp *MQTTPublisher) PublishReport(ctx context.Context, r *pipeline.Report) error {
	return mp.publish(ctx, mp.Topic(r.RunID, "report"), r)
}

func (mp *MQTTPublisher) publish(ctx context.Context, topic string, v any) error {
	if !mp.client.IsConnected() {
		return ErrNotConnected
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	token := mp.client.Publish(topic, mp.opts.QoS, mp.opts.Retain, data)
	timer := time.NewTimer(mp.opts.PublishTimeout)
	defer timer.Stop()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("publish to %s: timed out after %s", topic, mp.opts.PublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Handler returns a named pair handler that publishes every pair.
func (mp *MQTTPublisher) Handler() pipeline.NamedHandler {
	return pipeline.NamedHandler{Name: "mqtt", Handle: mp.PublishPair}
}

// Disconnect closes the broker connection.
func (mp *MQTTPublisher) Disconnect() {
	if mp.client != nil && mp.client.IsConnected() {
		mp.client.Disconnect(250)
		monitoring.Logf("publish: disconnected from %s", mp.opts.Broker)
	}
}
