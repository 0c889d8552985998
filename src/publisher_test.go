package main

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeToken is an mqtt.Token completed by the test
type fakeToken struct {
	done chan struct{}
	err  error
}

func newFakeToken() *fakeToken {
	return &fakeToken{done: make(chan struct{})}
}

func completedToken(err error) *fakeToken {
	t := newFakeToken()
	t.complete(err)
	return t
}

func (t *fakeToken) complete(err error) {
	t.err = err
	close(t.done)
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} {
	return t.done
}

func (t *fakeToken) Error() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

type fakePublish struct {
	topic    string
	qos      byte
	retained bool
	payload  string
}

// fakeSession records publishes and hands out tokens from tokenFor
type fakeSession struct {
	mu           sync.Mutex
	opts         *mqtt.ClientOptions
	connectToken *fakeToken
	tokenFor     func(topic string) *fakeToken
	published    []fakePublish
	disconnects  int
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		connectToken: completedToken(nil),
		tokenFor:     func(string) *fakeToken { return completedToken(nil) },
	}
}

func (s *fakeSession) Connect() mqtt.Token {
	return s.connectToken
}

func (s *fakeSession) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = append(s.published, fakePublish{
		topic:    topic,
		qos:      qos,
		retained: retained,
		payload:  payload.(string),
	})
	return s.tokenFor(topic)
}

func (s *fakeSession) Disconnect(quiesce uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnects++
}

func testBrokerConfig() BrokerConfig {
	return BrokerConfig{
		Host:           "broker.test",
		Port:           1883,
		ClientID:       "agate-test",
		ConnectTimeout: 100 * time.Millisecond,
		AckTimeout:     time.Second,
	}
}

func newTestPublisher(cfg BrokerConfig, session *fakeSession) *Publisher {
	return &Publisher{
		cfg: cfg,
		newSession: func(opts *mqtt.ClientOptions) mqttSession {
			session.opts = opts
			return session
		},
		pollInterval: 5 * time.Millisecond,
	}
}

func threePairs() []Pair {
	return []Pair{
		{Topic: "FranklinWH/AGate/DERMeasureAC/W", Value: int64(1500)},
		{Topic: "FranklinWH/AGate/DERMeasureAC/Var", Value: int64(-200)},
		{Topic: "FranklinWH/AGate/DERStorageCapacity/SoC", Value: int64(50)},
	}
}

func TestPublishAll_AllAcknowledged(t *testing.T) {
	session := newFakeSession()
	p := newTestPublisher(testBrokerConfig(), session)

	err := p.PublishAll(context.Background(), slices.Values(threePairs()))
	require.NoError(t, err)

	require.Len(t, session.published, 3)
	assert.Equal(t, fakePublish{
		topic:   "FranklinWH/AGate/DERMeasureAC/W",
		qos:     1,
		payload: "1500",
	}, session.published[0])
	assert.Equal(t, "-200", session.published[1].payload)
	for _, pub := range session.published {
		assert.Equal(t, byte(1), pub.qos)
		assert.False(t, pub.retained)
	}
	assert.Equal(t, 1, session.disconnects)
}

func TestPublishAll_AcknowledgedWhileWaiting(t *testing.T) {
	session := newFakeSession()
	var tokens []*fakeToken
	session.tokenFor = func(string) *fakeToken {
		tok := newFakeToken()
		tokens = append(tokens, tok)
		return tok
	}
	p := newTestPublisher(testBrokerConfig(), session)

	go func() {
		time.Sleep(20 * time.Millisecond)
		session.mu.Lock()
		defer session.mu.Unlock()
		for _, tok := range tokens {
			tok.complete(nil)
		}
	}()

	err := p.PublishAll(context.Background(), slices.Values(threePairs()))
	require.NoError(t, err)
	assert.Equal(t, 1, session.disconnects)
}

func TestPublishAll_AckTimeout(t *testing.T) {
	session := newFakeSession()
	session.tokenFor = func(topic string) *fakeToken {
		if topic == "FranklinWH/AGate/DERMeasureAC/Var" {
			return newFakeToken() // never acknowledged
		}
		return completedToken(nil)
	}
	cfg := testBrokerConfig()
	cfg.AckTimeout = 30 * time.Millisecond
	p := newTestPublisher(cfg, session)

	err := p.PublishAll(context.Background(), slices.Values(threePairs()))

	var publishErr *PublishError
	require.ErrorAs(t, err, &publishErr)
	assert.Equal(t, "ack wait", publishErr.Op)
	assert.Contains(t, err.Error(), "1 message(s) unacknowledged")
	assert.Equal(t, 1, session.disconnects)
}

func TestPublishAll_PublishRejected(t *testing.T) {
	cause := errors.New("not connected")
	session := newFakeSession()
	session.tokenFor = func(topic string) *fakeToken {
		if topic == "FranklinWH/AGate/DERStorageCapacity/SoC" {
			return completedToken(cause)
		}
		return completedToken(nil)
	}
	p := newTestPublisher(testBrokerConfig(), session)

	err := p.PublishAll(context.Background(), slices.Values(threePairs()))

	var publishErr *PublishError
	require.ErrorAs(t, err, &publishErr)
	assert.Equal(t, "publish", publishErr.Op)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "DERStorageCapacity/SoC")
	assert.Equal(t, 1, session.disconnects)
}

func TestPublishAll_ConnectRefused(t *testing.T) {
	cause := errors.New("not authorized")
	session := newFakeSession()
	session.connectToken = completedToken(cause)
	p := newTestPublisher(testBrokerConfig(), session)

	err := p.PublishAll(context.Background(), slices.Values(threePairs()))

	var publishErr *PublishError
	require.ErrorAs(t, err, &publishErr)
	assert.Equal(t, "connect", publishErr.Op)
	assert.ErrorIs(t, err, cause)
	assert.Empty(t, session.published)
}

func TestPublishAll_ConnectTimeout(t *testing.T) {
	session := newFakeSession()
	session.connectToken = newFakeToken()
	cfg := testBrokerConfig()
	cfg.ConnectTimeout = 10 * time.Millisecond
	p := newTestPublisher(cfg, session)

	err := p.PublishAll(context.Background(), slices.Values(threePairs()))

	var publishErr *PublishError
	require.ErrorAs(t, err, &publishErr)
	assert.Equal(t, "connect", publishErr.Op)
	assert.Empty(t, session.published)
	assert.Equal(t, 1, session.disconnects)
}

func TestPublishAll_ContextCancelledDuringWait(t *testing.T) {
	session := newFakeSession()
	session.tokenFor = func(string) *fakeToken { return newFakeToken() }
	p := newTestPublisher(testBrokerConfig(), session)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := p.PublishAll(ctx, slices.Values(threePairs()))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "PublishError", errorKind(err))
	assert.Equal(t, 1, session.disconnects)
}

func TestPublishAll_NothingToPublish(t *testing.T) {
	session := newFakeSession()
	p := newTestPublisher(testBrokerConfig(), session)

	err := p.PublishAll(context.Background(), slices.Values([]Pair(nil)))
	require.NoError(t, err)
	assert.Empty(t, session.published)
	assert.Equal(t, 1, session.disconnects)
}

func TestPublishAll_Retain(t *testing.T) {
	session := newFakeSession()
	cfg := testBrokerConfig()
	cfg.Retain = true
	p := newTestPublisher(cfg, session)

	require.NoError(t, p.PublishAll(context.Background(), slices.Values(threePairs())))
	for _, pub := range session.published {
		assert.True(t, pub.retained)
	}
}

func TestPublisher_ClientOptionsAnonymous(t *testing.T) {
	p := NewPublisher(testBrokerConfig())
	opts := p.clientOptions()

	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "tcp://broker.test:1883", opts.Servers[0].String())
	assert.Equal(t, "agate-test", opts.ClientID)
	assert.Empty(t, opts.Username)
	assert.Empty(t, opts.Password)
	assert.False(t, opts.AutoReconnect)
	assert.True(t, opts.CleanSession)
}

func TestPublisher_ClientOptionsWithCredentials(t *testing.T) {
	cfg := testBrokerConfig()
	cfg.Username = "agate"
	cfg.Password = "secret"
	opts := NewPublisher(cfg).clientOptions()

	assert.Equal(t, "agate", opts.Username)
	assert.Equal(t, "secret", opts.Password)
}
