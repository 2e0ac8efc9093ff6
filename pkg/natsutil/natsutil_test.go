package natsutil

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

type testMsg struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

func startNATS(t *testing.T) *nats.Conn {
	t.Helper()
	ns, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatalf("nats server: %v", err)
	}
	ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		t.Fatalf("nats connect: %v", err)
	}
	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
	})
	return nc
}

func TestNatsHeaderCarrier(t *testing.T) {
	msg := &nats.Msg{}
	carrier := (*natsHeaderCarrier)(msg)

	carrier.Set("traceparent", "00-abc-def-01")
	if got := carrier.Get("traceparent"); got != "00-abc-def-01" {
		t.Fatalf("expected traceparent, got %q", got)
	}

	keys := carrier.Keys()
	if len(keys) != 1 {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestNatsHeaderCarrierNilHeader(t *testing.T) {
	msg := &nats.Msg{}
	carrier := (*natsHeaderCarrier)(msg)

	if got := carrier.Get("missing"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	if keys := carrier.Keys(); keys != nil {
		t.Fatalf("expected nil keys, got %v", keys)
	}
}

func TestPublishSubscribe(t *testing.T) {
	nc := startNATS(t)

	ch := make(chan testMsg, 1)
	sub, err := Subscribe(nc, "test.pubsub", func(_ context.Context, m testMsg) {
		ch <- m
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if err := Publish(context.Background(), nc, "test.pubsub", testMsg{Name: "spy", Value: 42}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case got := <-ch:
		if got.Name != "spy" || got.Value != 42 {
			t.Fatalf("unexpected: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout")
	}
}

func TestSubscribe_DropsMalformed(t *testing.T) {
	nc := startNATS(t)

	ch := make(chan testMsg, 2)
	sub, err := Subscribe(nc, "test.malformed", func(_ context.Context, m testMsg) {
		ch <- m
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	nc.Publish("test.malformed", []byte("{not json"))
	Publish(context.Background(), nc, "test.malformed", testMsg{Name: "ok"})

	select {
	case got := <-ch:
		if got.Name != "ok" {
			t.Fatalf("malformed message reached handler: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout")
	}
}

func TestPublishWithHeader_RetryCount(t *testing.T) {
	nc := startNATS(t)

	ch := make(chan int, 1)
	sub, err := SubscribeMsg(nc, "test.retry", func(_ context.Context, msg *nats.Msg, _ testMsg) {
		ch <- RetryCount(msg)
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	if err := PublishWithHeader(context.Background(), nc, "test.retry", testMsg{}, RetryHeaderValue(2)); err != nil {
		t.Fatal(err)
	}
	select {
	case n := <-ch:
		if n != 2 {
			t.Fatalf("retry count = %d, want 2", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout")
	}
}

func TestRetryCount(t *testing.T) {
	tests := []struct {
		name   string
		header nats.Header
		want   int
	}{
		{"nil header", nil, 0},
		{"missing", nats.Header{}, 0},
		{"garbage", nats.Header{RetryHeader: []string{"x"}}, 0},
		{"negative", nats.Header{RetryHeader: []string{"-1"}}, 0},
		{"set", RetryHeaderValue(3), 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RetryCount(&nats.Msg{Header: tt.header}); got != tt.want {
				t.Errorf("RetryCount = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRequestRespond(t *testing.T) {
	nc := startNATS(t)

	sub, err := SubscribeMsg(nc, "test.echo", func(_ context.Context, msg *nats.Msg, m testMsg) {
		m.Value *= 2
		Respond(msg, m)
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := Request[testMsg, testMsg](ctx, nc, "test.echo", testMsg{Name: "qqq", Value: 21})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if got.Value != 42 {
		t.Fatalf("unexpected: %+v", got)
	}
}

func TestRequest_NoResponder(t *testing.T) {
	nc := startNATS(t)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, err := Request[testMsg, testMsg](ctx, nc, "test.nobody", testMsg{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestRespond_NoReplySubject(t *testing.T) {
	if err := Respond(&nats.Msg{}, testMsg{}); err != nil {
		t.Fatalf("Respond: %v", err)
	}
}
