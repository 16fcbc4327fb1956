package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type testMsg struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

type fakePublisher struct {
	msgs []*nats.Msg
	err  error
}

func (f *fakePublisher) PublishMsg(m *nats.Msg) error {
	f.msgs = append(f.msgs, m)
	return f.err
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

func TestNatsHeaderCarrierOverwrite(t *testing.T) {
	msg := &natsHeaderCarrier{}
	msg.Set("key", "val1")
	msg.Set("key", "val2")
	if got := msg.Get("key"); got != "val2" {
		t.Fatalf("expected val2, got %s", got)
	}
}

func TestPublishEncodesJSON(t *testing.T) {
	pub := &fakePublisher{}
	if err := Publish(context.Background(), pub, "signals.test", testMsg{Name: "a", Value: 1}); err != nil {
		t.Fatal(err)
	}
	if len(pub.msgs) != 1 || pub.msgs[0].Subject != "signals.test" {
		t.Fatalf("unexpected messages: %+v", pub.msgs)
	}
	var got testMsg
	if err := json.Unmarshal(pub.msgs[0].Data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Name != "a" || got.Value != 1 {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestPublishInjectsTraceContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled,
	}))

	pub := &fakePublisher{}
	if err := Publish(ctx, pub, "signals.test", testMsg{}); err != nil {
		t.Fatal(err)
	}
	if got := pub.msgs[0].Header.Get("traceparent"); got == "" {
		t.Fatal("expected traceparent header")
	}
}

func TestPublishErrors(t *testing.T) {
	if err := Publish(context.Background(), &fakePublisher{}, "x", make(chan int)); err == nil {
		t.Fatal("expected marshal error")
	}
	boom := errors.New("closed")
	if err := Publish(context.Background(), &fakePublisher{err: boom}, "x", testMsg{}); !errors.Is(err, boom) {
		t.Fatalf("expected publish error, got %v", err)
	}
}
