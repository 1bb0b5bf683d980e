package goPortal

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, AuditEvent) {
	s.count.Add(1)
}

func (s *countingSink) Count() int64 {
	return s.count.Load()
}

type captureSink struct {
	events chan AuditEvent
}

func newCaptureSink(buffer int) *captureSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &captureSink{
		events: make(chan AuditEvent, buffer),
	}
}

func (s *captureSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

type gateSink struct {
	gate chan struct{}
}

func newGateSink() *gateSink {
	return &gateSink{
		gate: make(chan struct{}),
	}
}

func (s *gateSink) Emit(context.Context, AuditEvent) {
	<-s.gate
}

func TestAuditDisabledNoSinkCalls(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Enabled = false

	sink := &countingSink{}
	engine, _ := newTestEngine(t, engineOptions{config: &cfg, sink: sink})

	_, _ = engine.Evaluate(WithClientIP(context.Background(), "203.0.113.1"), SessionState{}, phonePolicy(), request("/default/status"))
	time.Sleep(30 * time.Millisecond)

	if sink.Count() != 0 {
		t.Fatalf("expected no audit sink calls when disabled, got %d", sink.Count())
	}
}

func TestAuditEnabledSinkReceivesEventWithFields(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 16
	cfg.Audit.DropIfFull = true

	sink := newCaptureSink(8)
	invalid := TokenValidatorFunc(func(context.Context, SessionState) (bool, error) { return false, nil })
	engine, _ := newTestEngine(t, engineOptions{config: &cfg, sink: sink, validator: invalid})

	ctx := WithRequestID(WithUserAgent(WithClientIP(context.Background(), "198.51.100.33"), "kiosk/1.0"), "req-9")
	session := phoneSession()
	session.IsVerified = true
	_, _ = engine.Evaluate(ctx, session, phonePolicy(), request("/default/status"))

	ev := waitEvent(t, sink.events, auditEventForcedLogout)
	if ev.IP != "198.51.100.33" {
		t.Fatalf("expected IP 198.51.100.33, got %q", ev.IP)
	}
	if ev.RequestID != "req-9" || ev.Org != "default" || ev.SessionID != session.ID {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Metadata["user_agent"] != "kiosk/1.0" || ev.Metadata["route"] != string(RouteStatus) {
		t.Fatalf("metadata = %v", ev.Metadata)
	}
	if ev.Success || ev.Error != string(auditErrInvalidToken) {
		t.Fatalf("expected failed invalid token event, got %+v", ev)
	}
}

func TestAuditBufferFullDropIfFullTrueDoesNotBlock(t *testing.T) {
	sink := newGateSink()
	dispatcher := newAuditDispatcher(AuditConfig{
		Enabled:    true,
		BufferSize: 1,
		DropIfFull: true,
	}, sink)
	defer func() {
		close(sink.gate)
		dispatcher.Close()
	}()

	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e1"})
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e2"})

	start := time.Now()
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e3"})
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("expected non-blocking emit when DropIfFull is true")
	}
	if dispatcher.Dropped() == 0 {
		t.Fatal("expected dropped counter to increment when queue is full")
	}
}

func TestAuditBufferFullDropIfFullFalseBlocksUntilSpace(t *testing.T) {
	sink := newGateSink()
	dispatcher := newAuditDispatcher(AuditConfig{
		Enabled:    true,
		BufferSize: 1,
		DropIfFull: false,
	}, sink)
	defer func() {
		close(sink.gate)
		dispatcher.Close()
	}()

	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e1"})
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e2"})

	done := make(chan struct{})
	go func() {
		dispatcher.Emit(context.Background(), AuditEvent{EventType: "e3"})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("expected emit to block while buffer is full")
	case <-time.After(150 * time.Millisecond):
	}

	sink.gate <- struct{}{}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected blocked emit to proceed after space is available")
	}
}

func TestAuditDispatcherCountsDelivered(t *testing.T) {
	sink := &countingSink{}
	dispatcher := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 8, DropIfFull: true}, sink)

	for i := 0; i < 5; i++ {
		dispatcher.Emit(context.Background(), AuditEvent{EventType: "e"})
	}
	dispatcher.Close()

	if dispatcher.Delivered() != 5 || sink.Count() != 5 {
		t.Fatalf("delivered=%d sink=%d, want 5", dispatcher.Delivered(), sink.Count())
	}
}

type panicSink struct{}

func (panicSink) Emit(context.Context, AuditEvent) { panic("sink failure") }

func TestAuditDispatcherSurvivesPanickingSink(t *testing.T) {
	dispatcher := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 4, DropIfFull: true}, panicSink{})
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e1"})
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e2"})
	dispatcher.Close()
}

func TestAuditJSONWriterSinkWritesJSONLines(t *testing.T) {
	var buf syncBuffer
	sink := NewJSONWriterSink(&buf)
	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: auditEventPhoneCodeVerified,
		SessionID: "s1",
		Org:       "default",
		IP:        "127.0.0.1",
		Success:   true,
	}
	sink.Emit(context.Background(), event)

	if !buf.Contains("phone_code_verified") {
		t.Fatal("expected JSON log line to contain event type")
	}
	if !buf.Contains("\"session_id\":\"s1\"") {
		t.Fatal("expected JSON log line to contain session id")
	}
}

func TestAuditDispatcherCloseIdempotentAndEmitAfterCloseSafe(t *testing.T) {
	dispatcher := newAuditDispatcher(AuditConfig{
		Enabled:    true,
		BufferSize: 4,
		DropIfFull: true,
	}, &countingSink{})

	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e1"})
	dispatcher.Close()
	dispatcher.Close()
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e2"})
}

func TestAuditNoSecretsInEvents(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 32
	cfg.Audit.DropIfFull = false

	const code = "918273"
	tokens := &fakeTokenService{}
	sink := newCaptureSink(32)
	engine, _ := newTestEngine(t, engineOptions{config: &cfg, sink: sink, tokens: tokens})

	session := phoneSession()
	session.AuthToken = "secret-auth-token-value"
	ctx := context.Background()
	if _, err := engine.EnsurePhoneToken(ctx, session, phonePolicy()); err != nil {
		t.Fatalf("EnsurePhoneToken failed: %v", err)
	}
	if _, err := engine.SubmitPhoneCode(ctx, session, phonePolicy(), code); err != nil {
		t.Fatalf("SubmitPhoneCode failed: %v", err)
	}

	secretNeedles := []string{session.AuthToken, code}

	events := make([]AuditEvent, 0, 8)
	timeout := time.After(2 * time.Second)
collectLoop:
	for len(events) < 2 {
		select {
		case ev := <-sink.events:
			events = append(events, ev)
		case <-timeout:
			break collectLoop
		}
	}

	if len(events) == 0 {
		t.Fatal("expected at least one audit event")
	}

	for _, ev := range events {
		for _, needle := range secretNeedles {
			if strings.Contains(ev.Error, needle) || strings.Contains(ev.Message, needle) {
				t.Fatalf("sensitive value leaked in audit event: %q", needle)
			}
			for k, v := range ev.Metadata {
				if strings.Contains(k, needle) || strings.Contains(v, needle) {
					t.Fatalf("sensitive value leaked in audit metadata: %q", needle)
				}
			}
		}
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *syncBuffer) Contains(v string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Contains(string(b.buf), v)
}
