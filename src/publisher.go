package main

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	// QoS 1: at least once
	publishQoS = 1

	ackPollInterval   = 500 * time.Millisecond
	disconnectQuiesce = 250 // ms
)

// mqttSession is the part of mqtt.Client the publisher needs
type mqttSession interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// sessionFactory creates an unconnected broker session
type sessionFactory func(opts *mqtt.ClientOptions) mqttSession

func newPahoSession(opts *mqtt.ClientOptions) mqttSession {
	return mqtt.NewClient(opts)
}

// Publisher sends each cycle's pairs over a short-lived broker session
type Publisher struct {
	cfg          BrokerConfig
	newSession   sessionFactory
	pollInterval time.Duration
}

// NewPublisher creates a Publisher backed by the paho client
func NewPublisher(cfg BrokerConfig) *Publisher {
	return &Publisher{
		cfg:          cfg,
		newSession:   newPahoSession,
		pollInterval: ackPollInterval,
	}
}

// clientOptions builds the paho options for one session
func (p *Publisher) clientOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(p.cfg.URL())
	opts.SetClientID(p.cfg.ClientID)
	if p.cfg.HasCredentials() {
		opts.SetUsername(p.cfg.Username)
		opts.SetPassword(p.cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(p.cfg.ConnectTimeout)
	// One session per cycle; the poll loop handles retries
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Printf("MQTT connection lost: %v\n", err)
	})

	return opts
}

// pendingPublish tracks one in-flight message
type pendingPublish struct {
	topic string
	token mqtt.Token
}

// PublishAll connects, publishes every pair at QoS 1 and waits for all of
// them to be acknowledged. The session is always disconnected on return.
func (p *Publisher) PublishAll(ctx context.Context, pairs iter.Seq[Pair]) error {
	session := p.newSession(p.clientOptions())

	log.Printf("Connecting to MQTT broker %s...\n", p.cfg.URL())
	token := session.Connect()
	if !token.WaitTimeout(p.cfg.ConnectTimeout) {
		// The connect attempt may still be running; make sure it is torn down
		session.Disconnect(0)
		return &PublishError{Op: "connect", Err: fmt.Errorf("no CONNACK within %v", p.cfg.ConnectTimeout)}
	}
	if err := token.Error(); err != nil {
		return &PublishError{Op: "connect", Err: err}
	}

	defer func() {
		log.Println("Disconnecting from MQTT broker...")
		session.Disconnect(disconnectQuiesce)
	}()

	var pending []pendingPublish
	for pair := range pairs {
		t := session.Publish(pair.Topic, publishQoS, p.cfg.Retain, pair.Payload())
		pending = append(pending, pendingPublish{topic: pair.Topic, token: t})
	}
	total := len(pending)

	failed, err := p.waitForAcks(ctx, pending)
	if err != nil {
		return err
	}
	if len(failed) > 0 {
		return &PublishError{Op: "publish", Err: errors.Join(failed...)}
	}

	log.Printf("Published %d MQTT message(s)\n", total)
	return nil
}

// waitForAcks polls the tokens until all are complete, the ack deadline
// passes or ctx is cancelled. Tokens that completed with an error are
// returned as failures.
func (p *Publisher) waitForAcks(ctx context.Context, pending []pendingPublish) ([]error, error) {
	deadline := time.NewTimer(p.cfg.AckTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	var failed []error
	for {
		stillPending := pending[:0]
		for _, pp := range pending {
			select {
			case <-pp.token.Done():
				if err := pp.token.Error(); err != nil {
					failed = append(failed, fmt.Errorf("%s: %w", pp.topic, err))
				}
			default:
				stillPending = append(stillPending, pp)
			}
		}
		pending = stillPending

		if len(pending) == 0 {
			return failed, nil
		}

		log.Printf("Waiting for %d MQTT message(s) to complete...\n", len(pending))

		select {
		case <-ticker.C:
		case <-deadline.C:
			return nil, &PublishError{
				Op:  "ack wait",
				Err: fmt.Errorf("%d message(s) unacknowledged after %v", len(pending), p.cfg.AckTimeout),
			}
		case <-ctx.Done():
			return nil, &PublishError{Op: "ack wait", Err: ctx.Err()}
		}
	}
}
