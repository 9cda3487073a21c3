package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"tycoon/internal/domain"
)

type recorder struct {
	mu    sync.Mutex
	got   []string
	err   error
	block chan struct{}
}

func (r *recorder) Notify(ctx context.Context, ownerID string, msg domain.Message) error {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	r.got = append(r.got, ownerID+":"+string(msg.Kind))
	r.mu.Unlock()
	return r.err
}

func (r *recorder) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLog(slog.New(slog.NewJSONHandler(&buf, nil)))
	err := n.Notify(context.Background(), "u1", domain.Message{
		Kind:   domain.MsgShutdown,
		TypeID: "restaurant",
		Title:  "Restaurant shut down",
		Fields: []domain.Field{{Name: "reopen_cost", Value: "1000"}},
	})
	if err != nil {
		t.Fatalf("Notify() error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{`"owner_id":"u1"`, `"kind":"shutdown"`, `"reopen_cost":"1000"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output %s missing %s", out, want)
		}
	}
}

func TestFanoutJoinsErrors(t *testing.T) {
	ok := &recorder{}
	bad := &recorder{err: errors.New("down")}
	err := Fanout{ok, bad}.Notify(context.Background(), "u1", domain.Message{Kind: domain.MsgMinorEvent})
	if err == nil || !strings.Contains(err.Error(), "down") {
		t.Fatalf("Fanout err = %v", err)
	}
	if len(ok.calls()) != 1 || len(bad.calls()) != 1 {
		t.Fatalf("every notifier should be called")
	}
}

func TestAsyncDelivers(t *testing.T) {
	rec := &recorder{}
	a := NewAsync(rec, 8, 2, time.Second, nil)
	for i := 0; i < 5; i++ {
		if err := a.Notify(context.Background(), "u1", domain.Message{Kind: domain.MsgMaintenanceWarning}); err != nil {
			t.Fatalf("Notify() error: %v", err)
		}
	}
	a.Close()
	if got := len(rec.calls()); got != 5 {
		t.Fatalf("delivered %d messages, want 5", got)
	}
	if err := a.Notify(context.Background(), "u1", domain.Message{}); !errors.Is(err, ErrDropped) {
		t.Fatalf("Notify() after Close err = %v, want ErrDropped", err)
	}
}

func TestAsyncDropsWhenFull(t *testing.T) {
	rec := &recorder{block: make(chan struct{})}
	a := NewAsync(rec, 1, 1, time.Second, nil)

	dropped := 0
	for i := 0; i < 10; i++ {
		if err := a.Notify(context.Background(), "u1", domain.Message{Kind: domain.MsgMinorEvent}); errors.Is(err, ErrDropped) {
			dropped++
		}
	}
	if dropped == 0 {
		t.Fatalf("expected drops with a full queue")
	}
	close(rec.block)
	a.Close()
}

func TestAsyncTimesOutSlowDelivery(t *testing.T) {
	rec := &recorder{block: make(chan struct{})}
	a := NewAsync(rec, 4, 1, 20*time.Millisecond, nil)
	start := time.Now()
	if err := a.Notify(context.Background(), "u1", domain.Message{Kind: domain.MsgShutdown}); err != nil {
		t.Fatalf("Notify() error: %v", err)
	}
	a.Close()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Close() waited %v on a stuck notifier", elapsed)
	}
	if len(rec.calls()) != 0 {
		t.Fatalf("timed out delivery should not be recorded")
	}
}

func TestEmbed(t *testing.T) {
	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	e := Embed(domain.Message{
		Kind:   domain.MsgCatastrophicEvent,
		Title:  "Destroyed",
		Body:   "An earthquake hit.",
		Fields: []domain.Field{{Name: "Reopen cost", Value: "600"}},
	}, at)
	if e.Color != 0x8B0000 || e.Timestamp != "2026-02-03T04:05:06Z" || len(e.Fields) != 1 || e.Fields[0].Value != "600" {
		t.Fatalf("Embed() = %+v", e)
	}
}

func TestNewDiscordRequiresToken(t *testing.T) {
	if _, err := NewDiscord(" "); err == nil {
		t.Fatalf("expected error for blank token")
	}
}
