package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	xerrors "flowforge/internal/errors"
	"flowforge/pkg/logger"
)

type recordingNotifier struct {
	channel Channel
	events  []Event
	err     error
}

func (r *recordingNotifier) Channel() Channel { return r.channel }

func (r *recordingNotifier) Notify(_ context.Context, event Event) error {
	r.events = append(r.events, event)
	return r.err
}

func sampleEvent() Event {
	return Event{
		Code:         xerrors.CodeNonSuccessSettlement,
		Message:      "execution reverted",
		Severity:     xerrors.SeverityCritical,
		InvocationID: "inv-1",
		Workflow:     "arb-swap",
		Trigger:      "cron",
		OccurredAt:   time.Unix(1_700_000_000, 0).UTC(),
	}
}

func TestFanoutDeliversToEveryChannel(t *testing.T) {
	a := &recordingNotifier{channel: ChannelLog}
	b := &recordingNotifier{channel: ChannelWebhook, err: errors.New("boom")}
	d := NewFanout(a, nil, b)

	if got := d.Channels(); len(got) != 2 || got[0] != ChannelLog || got[1] != ChannelWebhook {
		t.Fatalf("unexpected channels: %v", got)
	}
	err := d.Notify(context.Background(), sampleEvent())
	if err == nil || !strings.Contains(err.Error(), "channel webhook") {
		t.Fatalf("expected joined webhook error, got %v", err)
	}
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("expected both notifiers to receive the event")
	}
}

func TestNilFanoutIsNoop(t *testing.T) {
	var d *FanoutDispatcher
	if err := d.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("nil dispatcher should not fail: %v", err)
	}
}

func TestWebhookNotifierPostsJSON(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second)
	if err := n.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got.InvocationID != "inv-1" || got.Code != xerrors.CodeNonSuccessSettlement {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestWebhookNotifierRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL, 0).Notify(context.Background(), sampleEvent())
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestWebhookNotifierWithoutURLSkips(t *testing.T) {
	if err := (&WebhookNotifier{}).Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("unconfigured webhook should be skipped: %v", err)
	}
}

func TestLogNotifierNeverFails(t *testing.T) {
	n := &LogNotifier{Logger: logger.Nop()}
	if err := n.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("log notifier: %v", err)
	}
}
