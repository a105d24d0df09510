package messaging

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/herbalis/salesbot/internal/timeutil"
)

type recordingTyping struct {
	mu     sync.Mutex
	events []bool
}

func (r *recordingTyping) SendTyping(ctx context.Context, to string, typing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, typing)
}

func TestDelayedSenderWaitsAndTypes(t *testing.T) {
	svc := newFakeService()
	typing := &recordingTyping{}
	afternoon := time.Date(2025, 6, 10, 15, 0, 0, 0, timeutil.ZoneAR)
	d := NewDelayedSender(svc, typing, timeutil.FixedClock{T: afternoon})

	var slept time.Duration
	d.sleep = func(ctx context.Context, dur time.Duration) error {
		slept = dur
		return nil
	}

	if err := d.Send(context.Background(), "5491100000010", "hola"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if slept != timeutil.ResponseDelay(afternoon) {
		t.Errorf("expected business-hours delay, got %v", slept)
	}
	if len(svc.sentMessages()) != 1 {
		t.Fatalf("message should be delivered after the wait")
	}
	if len(typing.events) != 2 || !typing.events[0] || typing.events[1] {
		t.Errorf("expected typing on then off, got %v", typing.events)
	}
}

func TestDelayedSenderCancelledContext(t *testing.T) {
	svc := newFakeService()
	night := time.Date(2025, 6, 10, 3, 0, 0, 0, timeutil.ZoneAR)
	d := NewDelayedSender(svc, nil, timeutil.FixedClock{T: night})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Send(ctx, "5491100000011", "hola"); err == nil {
		t.Error("cancelled context should abort the send")
	}
	if len(svc.sentMessages()) != 0 {
		t.Error("nothing should be delivered after cancellation")
	}
}

func TestSendNowSkipsDelay(t *testing.T) {
	svc := newFakeService()
	d := NewDelayedSender(svc, nil, timeutil.FixedClock{T: time.Date(2025, 6, 10, 3, 0, 0, 0, timeutil.ZoneAR)})
	d.sleep = func(ctx context.Context, dur time.Duration) error {
		t.Error("SendNow must not wait")
		return nil
	}
	if err := d.SendNow(context.Background(), "5491100000012", "urgente"); err != nil {
		t.Fatalf("SendNow failed: %v", err)
	}
	if len(svc.sentMessages()) != 1 {
		t.Error("message should be delivered immediately")
	}
}

func TestImmediateSenderBypassesPacing(t *testing.T) {
	svc := newFakeService()
	d := NewDelayedSender(svc, nil, timeutil.FixedClock{T: time.Date(2025, 6, 10, 3, 0, 0, 0, timeutil.ZoneAR)})
	d.sleep = func(ctx context.Context, dur time.Duration) error {
		t.Error("Immediate sender must not wait")
		return nil
	}
	if err := d.Immediate().Send(context.Background(), "5491100000013", "del operador"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if len(svc.sentMessages()) != 1 {
		t.Error("message should be delivered immediately")
	}
}
