package messaging

import (
	"context"
	"log/slog"
	"time"

	"github.com/herbalis/salesbot/internal/timeutil"
)

// TypingNotifier toggles the composing indicator on channels that
// support it.
type TypingNotifier interface {
	SendTyping(ctx context.Context, to string, typing bool)
}

// DelayedSender paces outbound replies so the assistant does not answer
// instantly. The wait depends on the local time of day; while waiting it
// shows the typing indicator when the transport supports one.
type DelayedSender struct {
	service Service
	typing  TypingNotifier
	clock   timeutil.Clock

	// sleep is swappable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDelayedSender wraps a Service. typing may be nil.
func NewDelayedSender(service Service, typing TypingNotifier, clock timeutil.Clock) *DelayedSender {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &DelayedSender{
		service: service,
		typing:  typing,
		clock:   clock,
		sleep:   sleepCtx,
	}
}

// Send waits out the humanized delay, then delivers.
func (d *DelayedSender) Send(ctx context.Context, phone, text string) error {
	delay := timeutil.ResponseDelay(d.clock.Now())
	if d.typing != nil {
		d.typing.SendTyping(ctx, phone, true)
		defer d.typing.SendTyping(ctx, phone, false)
	}
	if err := d.sleep(ctx, delay); err != nil {
		return err
	}
	return d.service.SendMessage(ctx, phone, text)
}

// SendNow delivers immediately, bypassing the pacing. Used for operator
// traffic where the human touch is not wanted.
func (d *DelayedSender) SendNow(ctx context.Context, phone, text string) error {
	return d.service.SendMessage(ctx, phone, text)
}

// Immediate returns a sender whose Send is the unpaced path; operator
// relays use it so admin replies go out without the fake typing wait.
func (d *DelayedSender) Immediate() ImmediateSender {
	return ImmediateSender{delayed: d}
}

// ImmediateSender adapts SendNow to the plain Send signature.
type ImmediateSender struct {
	delayed *DelayedSender
}

func (s ImmediateSender) Send(ctx context.Context, phone, text string) error {
	return s.delayed.SendNow(ctx, phone, text)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		slog.Debug("DelayedSender: wait cancelled", "error", ctx.Err())
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
