// Package messaging provides a NATS client wrapper used to hand moderation
// signals from the guards to the review workflow. It handles connection
// lifecycle, subject-based subscriptions and the signal wire format.
package messaging

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/jedoz/abuseguard/internal/moderation"
)

// NATS subjects.
const (
	SubjectSignal    = "abuse.signal"   // + .<kind>
	SubjectSignalAll = "abuse.signal.*" // every kind
)

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL            string
	Name           string        // client name shown in server monitoring
	ConnectTimeout time.Duration // initial dial timeout
	ReconnectWait  time.Duration
	MaxReconnects  int // -1 retries forever
}

// DefaultNATSConfig returns the local development settings.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:            nats.DefaultURL,
		Name:           "abuseguard",
		ConnectTimeout: 5 * time.Second,
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.Timeout(config.ConnectTimeout),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("messaging: connect %s: %w", config.URL, err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Connected reports whether the connection is currently up.
func (c *NATSClient) Connected() bool {
	return c.conn.IsConnected()
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("messaging: subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// SignalSubject returns the subject a signal of the given kind goes to.
func SignalSubject(kind string) string {
	return SubjectSignal + "." + kind
}

// EncodeSignal marshals sig, stamping Ts when it is unset.
func EncodeSignal(sig moderation.Signal) ([]byte, error) {
	if sig.Kind == "" {
		return nil, fmt.Errorf("messaging: signal without kind")
	}
	if sig.Ts == 0 {
		sig.Ts = time.Now().UnixMilli()
	}
	data, err := json.Marshal(sig)
	if err != nil {
		return nil, fmt.Errorf("messaging: marshal signal: %w", err)
	}
	return data, nil
}

// DecodeSignal unmarshals a signal published by PublishSignal.
func DecodeSignal(data []byte) (moderation.Signal, error) {
	var sig moderation.Signal
	if err := json.Unmarshal(data, &sig); err != nil {
		return moderation.Signal{}, fmt.Errorf("messaging: unmarshal signal: %w", err)
	}
	return sig, nil
}

// PublishSignal publishes sig to abuse.signal.<kind>.
func (c *NATSClient) PublishSignal(sig moderation.Signal) error {
	data, err := EncodeSignal(sig)
	if err != nil {
		return err
	}
	return c.Publish(SignalSubject(sig.Kind), data)
}

// SubscribeSignals delivers every signal kind to handler. Messages that do
// not decode are logged and dropped.
func (c *NATSClient) SubscribeSignals(handler func(sig moderation.Signal)) error {
	return c.Subscribe(SubjectSignalAll, func(msg *nats.Msg) {
		sig, err := DecodeSignal(msg.Data)
		if err != nil {
			log.Printf("[nats] %s: %v", msg.Subject, err)
			return
		}
		handler(sig)
	})
}

// UnsubscribeSignals removes the SubscribeSignals subscription.
func (c *NATSClient) UnsubscribeSignals() error {
	return c.unsubscribe(SubjectSignalAll)
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}

// unsubscribe removes and unsubscribes from a specific subject.
func (c *NATSClient) unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("messaging: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("messaging: unsubscribe %s: %w", subject, err)
	}
	return nil
}
