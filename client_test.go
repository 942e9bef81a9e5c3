package streamlink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestClient_StartTwice(t *testing.T) {
	c, _, _ := startGateway(t)
	assert.ErrorIs(t, c.Start(context.Background()), ErrAlreadyStarted)
}

func TestClient_StartAfterShutdown(t *testing.T) {
	c, err := NewGatewayClient(GatewayConfig{Token: "tok"}, func(Error) {}, WithDialer(newFakeDialer().dial))
	require.NoError(t, err)
	require.NoError(t, c.Shutdown())
	assert.ErrorIs(t, c.Start(context.Background()), ErrClientClosed)
	assert.Equal(t, StateClosed, c.State())
}

func TestClient_ShutdownIdempotent(t *testing.T) {
	c, d, _ := startGateway(t)
	tr := d.next(t)

	require.NoError(t, c.Shutdown())
	require.NoError(t, c.Shutdown())
	assert.Equal(t, StateClosed, c.State())
	assert.True(t, tr.isClosed())
	assert.ErrorIs(t, c.Send(map[string]int{"op": 1}), ErrClientClosed)
}

func TestClient_ShutdownFromSubscriber(t *testing.T) {
	c, d, _ := startGateway(t)
	done := make(chan struct{})
	c.SubscribeFunc("MESSAGE_CREATE", func(ev Event) error {
		c.Shutdown()
		close(done)
		return nil
	})

	tr := d.next(t)
	establish(t, c, tr)
	tr.deliver(`{"op":0,"s":2,"t":"MESSAGE_CREATE","d":{}}`)

	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("Shutdown from a subscriber deadlocked")
	}
	assert.Equal(t, StateClosed, c.State())
}

func TestClient_ContextCancelStops(t *testing.T) {
	d := newFakeDialer()
	c, err := NewGatewayClient(GatewayConfig{Token: "tok"}, func(Error) {}, WithDialer(d.dial))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Start(ctx))
	tr := d.next(t)

	cancel()
	waitState(t, c, StateDisconnected)
	assert.True(t, tr.isClosed())
	require.NoError(t, c.Shutdown())
}

func TestClient_ConnectRetry(t *testing.T) {
	d := newFakeDialer()
	d.failures = 2
	rec := &errorRecorder{}
	core, logs := observer.New(zap.WarnLevel)
	c, err := NewGatewayClient(GatewayConfig{Token: "tok"}, rec.handle,
		WithDialer(d.dial), WithReconnectDelay(5*time.Millisecond), WithLogger(zap.New(core)))
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	defer c.Shutdown()

	d.next(t)
	assert.Equal(t, 3, d.count())
	assert.Equal(t, []ErrorKind{ErrTransport, ErrTransport}, rec.kinds())

	retries := logs.FilterMessage("connect failed, retrying").All()
	require.Len(t, retries, 2)
	for i, entry := range retries {
		assert.Equal(t, 5*time.Millisecond, entry.ContextMap()["in"], "fixed delay")
		assert.Equal(t, int64(i+1), entry.ContextMap()["failures"])
	}

	var connErr *ConnectionError
	rec.mu.Lock()
	assert.True(t, errors.As(rec.errs[0].Cause, &connErr))
	rec.mu.Unlock()
}

func TestClient_SendWhileDisconnected(t *testing.T) {
	c, err := NewGatewayClient(GatewayConfig{Token: "tok"}, func(Error) {}, WithDialer(newFakeDialer().dial))
	require.NoError(t, err)
	assert.ErrorIs(t, c.Send(map[string]int{"op": 1}), ErrNotConnected)
}

func TestClient_Send(t *testing.T) {
	c, d, _ := startGateway(t)
	tr := d.next(t)

	require.NoError(t, c.Send(map[string]any{"op": 3, "d": map[string]string{"status": "online"}}))
	assert.JSONEq(t, `{"op":3,"d":{"status":"online"}}`, string(tr.nextSent(t)))
}

func TestClient_SubscriberFailureIsIsolated(t *testing.T) {
	c, d, rec := startGateway(t)
	after := newEventRecorder()
	c.SubscribeFunc("MESSAGE_CREATE", func(ev Event) error { return errors.New("boom") })
	c.SubscribeFunc("MESSAGE_CREATE", func(ev Event) error { panic("kaboom") })
	c.Subscribe("MESSAGE_CREATE", after)

	tr := d.next(t)
	establish(t, c, tr)
	tr.deliver(`{"op":0,"s":2,"t":"MESSAGE_CREATE","d":{}}`)

	after.next(t)
	require.Eventually(t, func() bool { return len(rec.kinds()) == 2 }, waitTimeout, 5*time.Millisecond)
	assert.Equal(t, []ErrorKind{ErrSubscriberFailure, ErrSubscriberFailure}, rec.kinds())

	rec.mu.Lock()
	assert.Equal(t, "MESSAGE_CREATE", rec.errs[0].Event)
	rec.mu.Unlock()
	assert.Equal(t, StateSteadyState, c.State())
}

func TestClient_SharedRegistry(t *testing.T) {
	reg := NewRegistry()
	got := newEventRecorder()
	reg.Subscribe("MESSAGE_CREATE", got)

	c, d, _ := startGateway(t, WithRegistry(reg), WithName("bot"))
	assert.Same(t, reg, c.Registry())

	tr := d.next(t)
	establish(t, c, tr)
	tr.deliver(`{"op":0,"s":2,"t":"MESSAGE_CREATE","d":{}}`)

	ev := got.next(t)
	assert.Equal(t, "bot", ev.Client)
	assert.Equal(t, "bot", c.Name())
	assert.NotEmpty(t, ev.ConnID)
}

func TestClient_LogsThroughZap(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	c, d, _ := startGateway(t, WithLogger(zap.New(core)))

	tr := d.next(t)
	establish(t, c, tr)

	assert.NotZero(t, logs.FilterMessage("connected").Len())
	assert.NotZero(t, logs.FilterMessage("session established").Len())
}

func TestClient_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	c, d, _ := startGateway(t, WithMetrics(m))
	tr := d.next(t)
	establish(t, c, tr)
	tr.deliver(`{"op":7}`)
	d.next(t)

	require.Eventually(t, func() bool {
		families, err := reg.Gather()
		if err != nil {
			return false
		}
		for _, f := range families {
			if f.GetName() != "streamlink_reconnects_total" {
				continue
			}
			for _, metric := range f.GetMetric() {
				for _, l := range metric.GetLabel() {
					if l.GetName() == "reason" && l.GetValue() == "reconnect" {
						return metric.GetCounter().GetValue() == 1
					}
				}
			}
		}
		return false
	}, waitTimeout, 5*time.Millisecond)

	_, err = NewMetrics(reg)
	assert.Error(t, err, "registering twice should fail")
}

func TestNilMetricsRecordNothing(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.frame("x", FrameOpen)
		m.reconnect("x", "liveness")
		m.setState("x", StateClosed)
		m.observeLatency("x", time.Second)
		m.decodeError("x")
		m.subscriberFailure("x", "READY")
	})
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "SteadyState", StateSteadyState.String())
	assert.Equal(t, "Closed", StateClosed.String())
	assert.Equal(t, "State(99)", State(99).String())
}
