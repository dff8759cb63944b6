// Package mqtt publishes PLC session events and polled tag values to an
// MQTT broker.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/hadefuwa/PLC-App-Flutter/internal/domain"
	"github.com/hadefuwa/PLC-App-Flutter/internal/metrics"
	"github.com/rs/zerolog"
)

// Publisher errors.
var (
	ErrNotConnected     = errors.New("mqtt: not connected to broker")
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
)

// offlinePayload is the retained status left behind when the bridge goes away.
const offlinePayload = `{"kind":"offline"}`

// Publisher forwards session events and tag values to the broker. Messages
// are queued and published from a background goroutine, so enqueueing never
// blocks the PLC session or the poller.
type Publisher struct {
	config    Config
	client    pahomqtt.Client
	logger    zerolog.Logger
	metrics   *metrics.Registry
	mu        sync.RWMutex
	connected atomic.Bool
	queue     chan *message
	done      chan struct{}
	wg        sync.WaitGroup
	stats     *PublisherStats

	// newClient builds the paho client; replaced in tests
	newClient func(opts *pahomqtt.ClientOptions) pahomqtt.Client
}

// Config holds MQTT publisher configuration.
type Config struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	QoS            byte
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	ReconnectDelay time.Duration
	PublishTimeout time.Duration
	BufferSize     int
	TLSEnabled     bool
	TLSCertFile    string
	TLSKeyFile     string
	TLSCAFile      string
}

// message is a queued publish.
type message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// PublisherStats tracks publisher activity.
type PublisherStats struct {
	MessagesPublished atomic.Uint64
	MessagesFailed    atomic.Uint64
	MessagesDropped   atomic.Uint64
	BytesSent         atomic.Uint64
	ReconnectCount    atomic.Uint64
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BrokerURL:      "tcp://localhost:1883",
		ClientID:       "plcbridge",
		TopicPrefix:    "plcbridge",
		QoS:            1,
		KeepAlive:      30 * time.Second,
		ConnectTimeout: 10 * time.Second,
		ReconnectDelay: 5 * time.Second,
		PublishTimeout: 5 * time.Second,
		BufferSize:     1000,
	}
}

// NewPublisher creates a new MQTT publisher. Zero durations and sizes take
// the values of DefaultConfig.
func NewPublisher(config Config, logger zerolog.Logger, metricsReg *metrics.Registry) (*Publisher, error) {
	if strings.TrimSpace(config.BrokerURL) == "" {
		return nil, fmt.Errorf("%w: mqtt broker url is required", domain.ErrInvalidConfig)
	}
	if config.QoS > 2 {
		return nil, fmt.Errorf("%w: mqtt qos must be 0, 1 or 2", domain.ErrInvalidConfig)
	}

	defaults := DefaultConfig()
	if config.ClientID == "" {
		config.ClientID = defaults.ClientID
	}
	config.TopicPrefix = strings.Trim(config.TopicPrefix, "/")
	if config.TopicPrefix == "" {
		config.TopicPrefix = defaults.TopicPrefix
	}
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = defaults.PublishTimeout
	}
	if config.KeepAlive <= 0 {
		config.KeepAlive = defaults.KeepAlive
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = defaults.ConnectTimeout
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = defaults.ReconnectDelay
	}

	return &Publisher{
		config:    config,
		logger:    logger.With().Str("component", "mqtt-publisher").Logger(),
		metrics:   metricsReg,
		queue:     make(chan *message, config.BufferSize),
		done:      make(chan struct{}),
		stats:     &PublisherStats{},
		newClient: pahomqtt.NewClient,
	}, nil
}

// StatusTopic is where retained session state is published.
func (p *Publisher) StatusTopic() string {
	return p.config.TopicPrefix + "/status"
}

// WritesTopic is where completed writes are published.
func (p *Publisher) WritesTopic() string {
	return p.config.TopicPrefix + "/writes"
}

// TagTopic is where values of the named tag are published.
func (p *Publisher) TagTopic(name string) string {
	if segment := sanitizeTopicSegment(name); segment != "" {
		return p.config.TopicPrefix + "/tags/" + segment
	}
	return p.config.TopicPrefix + "/tags"
}

func sanitizeTopicSegment(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "#", "_")
	s = strings.ReplaceAll(s, "+", "_")
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.Trim(s, "_")
	return s
}

// Connect establishes the connection to the MQTT broker and starts the
// publishing goroutine.
func (p *Publisher) Connect(ctx context.Context) error {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(p.config.BrokerURL)
	opts.SetClientID(p.config.ClientID)
	opts.SetCleanSession(true)
	opts.SetKeepAlive(p.config.KeepAlive)
	opts.SetConnectTimeout(p.config.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(p.config.ReconnectDelay)

	if p.config.Username != "" {
		opts.SetUsername(p.config.Username)
		opts.SetPassword(p.config.Password)
	}

	if p.config.TLSEnabled {
		tlsConfig, err := p.createTLSConfig()
		if err != nil {
			return fmt.Errorf("failed to create TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}

	// Last will marks the bridge offline if it vanishes without a clean shutdown
	opts.SetWill(p.StatusTopic(), offlinePayload, p.config.QoS, true)

	opts.SetOnConnectHandler(p.onConnect)
	opts.SetConnectionLostHandler(p.onConnectionLost)
	opts.SetReconnectingHandler(p.onReconnecting)

	client := p.newClient(opts)
	p.mu.Lock()
	p.client = client
	p.mu.Unlock()

	p.logger.Info().Str("broker", p.config.BrokerURL).Msg("Connecting to MQTT broker")

	token := client.Connect()
	connectDone := make(chan bool, 1)
	go func() {
		connectDone <- token.WaitTimeout(p.config.ConnectTimeout)
	}()

	select {
	case success := <-connectDone:
		if !success {
			return fmt.Errorf("%w: connection timeout", ErrConnectionFailed)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
		}
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrConnectionFailed, ctx.Err())
	}

	p.connected.Store(true)
	p.done = make(chan struct{})

	p.wg.Add(1)
	go p.processQueue()

	p.logger.Info().Str("topic", p.StatusTopic()).Msg("Connected to MQTT broker")
	return nil
}

// Disconnect flushes what it can and disconnects from the broker.
func (p *Publisher) Disconnect() {
	p.logger.Info().Msg("Disconnecting from MQTT broker")

	select {
	case <-p.done:
	default:
		close(p.done)
	}
	p.wg.Wait()

	// A clean disconnect does not fire the will
	if p.connected.Load() {
		p.publishLogged(&message{Topic: p.StatusTopic(), Payload: []byte(offlinePayload), Retained: true},
			"Failed to publish offline status")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(1000)
	}

	p.connected.Store(false)
	p.logger.Info().Msg("Disconnected from MQTT broker")
}

// SessionEvent queues ev for publishing. State events go to the retained
// status topic, writes to the writes topic. When the queue is full the
// oldest event is dropped.
func (p *Publisher) SessionEvent(ev domain.SessionEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error().Err(err).Str("kind", ev.Kind).Msg("Failed to serialize session event")
		return
	}

	msg := &message{Topic: p.WritesTopic(), Payload: payload}
	if ev.Kind == domain.EventState {
		msg.Topic = p.StatusTopic()
		msg.Retained = true
	}
	p.enqueue(msg)
}

// PublishTagValues queues one retained message per value on its tag topic.
func (p *Publisher) PublishTagValues(values []domain.TagValue) {
	for _, v := range values {
		payload, err := json.Marshal(v)
		if err != nil {
			p.logger.Error().Err(err).Str("tag", v.Name).Msg("Failed to serialize tag value")
			continue
		}
		p.enqueue(&message{Topic: p.TagTopic(v.Name), Payload: payload, Retained: true})
	}
}

func (p *Publisher) enqueue(msg *message) {
	select {
	case p.queue <- msg:
		return
	default:
	}

	select {
	case <-p.queue:
		p.stats.MessagesDropped.Add(1)
		p.logger.Warn().Msg("Publish queue full, dropped oldest message")
	default:
	}

	select {
	case p.queue <- msg:
	default:
		p.stats.MessagesDropped.Add(1)
	}
}

// processQueue publishes queued events while connected.
func (p *Publisher) processQueue() {
	defer p.wg.Done()

	for {
		select {
		case <-p.done:
			p.drainQueue()
			return

		case msg := <-p.queue:
			// Paho reconnects on its own; hold the event until it does
			for !p.connected.Load() {
				select {
				case <-p.done:
					p.stats.MessagesDropped.Add(1)
					return
				case <-time.After(100 * time.Millisecond):
				}
			}
			p.publishLogged(msg, "Failed to publish message")
		}
	}
}

// drainQueue publishes what is left at shutdown, bounded in time.
func (p *Publisher) drainQueue() {
	deadline := time.After(5 * time.Second)
	for {
		select {
		case msg := <-p.queue:
			if p.connected.Load() {
				p.publishLogged(msg, "Failed to drain message")
			}
		case <-deadline:
			if remaining := len(p.queue); remaining > 0 {
				p.logger.Warn().Int("count", remaining).Msg("Timeout draining queue, messages dropped")
			}
			return
		default:
			return
		}
	}
}

func (p *Publisher) publishLogged(msg *message, logMsg string) {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.PublishTimeout)
	defer cancel()
	if err := p.publish(ctx, msg); err != nil {
		p.logger.Warn().Err(err).Str("topic", msg.Topic).Msg(logMsg)
	}
}

func (p *Publisher) publish(ctx context.Context, msg *message) error {
	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()

	if client == nil {
		return ErrNotConnected
	}

	start := time.Now()
	token := client.Publish(msg.Topic, p.config.QoS, msg.Retained, msg.Payload)

	publishDone := make(chan bool, 1)
	go func() {
		publishDone <- token.WaitTimeout(p.config.PublishTimeout)
	}()

	var err error
	select {
	case success := <-publishDone:
		if !success {
			err = fmt.Errorf("%w: publish timeout", ErrPublishFailed)
		} else if token.Error() != nil {
			err = fmt.Errorf("%w: %v", ErrPublishFailed, token.Error())
		}
	case <-ctx.Done():
		err = fmt.Errorf("%w: %v", ErrPublishFailed, ctx.Err())
	}

	p.metrics.RecordMQTTPublish(err == nil, time.Since(start).Seconds())
	if err != nil {
		p.stats.MessagesFailed.Add(1)
		return err
	}

	p.stats.MessagesPublished.Add(1)
	p.stats.BytesSent.Add(uint64(len(msg.Payload)))
	return nil
}

// createTLSConfig creates TLS configuration for secure connections.
func (p *Publisher) createTLSConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if p.config.TLSCAFile != "" {
		caCert, err := os.ReadFile(p.config.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = caCertPool
	}

	if p.config.TLSCertFile != "" && p.config.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(p.config.TLSCertFile, p.config.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

func (p *Publisher) onConnect(client pahomqtt.Client) {
	p.connected.Store(true)
	p.logger.Info().Msg("MQTT connection established")
}

func (p *Publisher) onConnectionLost(client pahomqtt.Client, err error) {
	p.connected.Store(false)
	p.logger.Warn().Err(err).Msg("MQTT connection lost")
}

func (p *Publisher) onReconnecting(client pahomqtt.Client, opts *pahomqtt.ClientOptions) {
	p.stats.ReconnectCount.Add(1)
	p.logger.Info().Msg("Attempting to reconnect to MQTT broker")
}

// IsConnected returns true if the publisher is connected to the broker.
func (p *Publisher) IsConnected() bool {
	return p.connected.Load()
}

// QueueLength returns the number of events waiting to be published.
func (p *Publisher) QueueLength() int {
	return len(p.queue)
}

// Stats returns the publisher counters.
func (p *Publisher) Stats() *PublisherStats {
	return p.stats
}

// HealthCheck implements the health.Checker interface.
func (p *Publisher) HealthCheck(ctx context.Context) error {
	if !p.connected.Load() {
		return ErrNotConnected
	}
	return nil
}
