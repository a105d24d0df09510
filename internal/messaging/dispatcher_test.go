package messaging

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/herbalis/salesbot/internal/models"
)

type fakeService struct {
	mu        sync.Mutex
	sent      []SentRecord
	responses chan models.Response
	receipts  chan models.Receipt
}

type SentRecord struct {
	To   string
	Body string
}

func newFakeService() *fakeService {
	return &fakeService{
		responses: make(chan models.Response, 16),
		receipts:  make(chan models.Receipt, 16),
	}
}

func (f *fakeService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizePhone(recipient)
}

func (f *fakeService) SendMessage(ctx context.Context, to string, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, SentRecord{To: to, Body: body})
	return nil
}

func (f *fakeService) Start(ctx context.Context) error     { return nil }
func (f *fakeService) Stop() error                         { return nil }
func (f *fakeService) Receipts() <-chan models.Receipt     { return f.receipts }
func (f *fakeService) Responses() <-chan models.Response   { return f.responses }

func (f *fakeService) sentMessages() []SentRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SentRecord(nil), f.sent...)
}

type recordingEngine struct {
	mu    sync.Mutex
	turns []SentRecord
	err   error
}

func (e *recordingEngine) HandleMessage(ctx context.Context, phone, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.turns = append(e.turns, SentRecord{To: phone, Body: text})
	return e.err
}

func (e *recordingEngine) handled() []SentRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]SentRecord(nil), e.turns...)
}

type recordingAdmin struct {
	mu       sync.Mutex
	targets  []string
	commands []string
	reply    string
	err      error
}

func (a *recordingAdmin) Interpret(ctx context.Context, targetPhone, command string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.targets = append(a.targets, targetPhone)
	a.commands = append(a.commands, command)
	return a.reply, a.err
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestBurstCoalescedIntoOneTurn(t *testing.T) {
	svc := newFakeService()
	engine := &recordingEngine{}
	d, err := NewDispatcher(DispatcherOpts{
		Service: svc, Engine: engine, Debounce: 30 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to build dispatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	svc.responses <- models.Response{From: "5491100000001", Body: "hola"}
	svc.responses <- models.Response{From: "5491100000001", Body: "quiero las capsulas"}
	svc.responses <- models.Response{From: "5491100000001", Body: "de 120"}

	waitFor(t, time.Second, func() bool { return len(engine.handled()) == 1 })
	turn := engine.handled()[0]
	if turn.To != "5491100000001" {
		t.Errorf("unexpected phone %q", turn.To)
	}
	if turn.Body != "hola\nquiero las capsulas\nde 120" {
		t.Errorf("burst should be joined in order, got %q", turn.Body)
	}
}

func TestSeparateCustomersGetSeparateTurns(t *testing.T) {
	svc := newFakeService()
	engine := &recordingEngine{}
	d, _ := NewDispatcher(DispatcherOpts{
		Service: svc, Engine: engine, Debounce: 20 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	svc.responses <- models.Response{From: "5491100000002", Body: "hola"}
	svc.responses <- models.Response{From: "5491100000003", Body: "buenas"}

	waitFor(t, time.Second, func() bool { return len(engine.handled()) == 2 })
	phones := map[string]bool{}
	for _, turn := range engine.handled() {
		phones[turn.To] = true
	}
	if !phones["5491100000002"] || !phones["5491100000003"] {
		t.Errorf("both customers should get a turn, got %v", engine.handled())
	}
}

func TestAdminMessageRoutedToInterpreter(t *testing.T) {
	svc := newFakeService()
	engine := &recordingEngine{}
	admin := &recordingAdmin{reply: "✅ listo"}
	d, _ := NewDispatcher(DispatcherOpts{
		Service: svc, Engine: engine, Admin: admin,
		AdminNumbers: []string{"+54 9 11 5555-0000"},
		Debounce:     20 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	svc.responses <- models.Response{From: "5491155550000", Body: "dale"}

	waitFor(t, time.Second, func() bool {
		admin.mu.Lock()
		defer admin.mu.Unlock()
		return len(admin.commands) == 1
	})
	if len(engine.handled()) != 0 {
		t.Error("admin traffic must not reach the engine")
	}
	waitFor(t, time.Second, func() bool { return len(svc.sentMessages()) == 1 })
	if got := svc.sentMessages()[0]; got.To != "5491155550000" || got.Body != "✅ listo" {
		t.Errorf("interpreter reply should return to the operator, got %+v", got)
	}
}

func TestAdminExplicitTargetParsed(t *testing.T) {
	svc := newFakeService()
	admin := &recordingAdmin{reply: "ok"}
	d, _ := NewDispatcher(DispatcherOpts{
		Service: svc, Engine: &recordingEngine{}, Admin: admin,
		AdminNumbers: []string{"5491155550000"},
	})
	d.handleAdminMessage(context.Background(), "5491155550000", "5491100000004 me encargo")
	if len(admin.targets) != 1 || admin.targets[0] != "5491100000004" {
		t.Fatalf("expected explicit target parsed, got %v", admin.targets)
	}
	if admin.commands[0] != "me encargo" {
		t.Errorf("command should exclude the target, got %q", admin.commands[0])
	}
}

func TestAdminErrorReportedBack(t *testing.T) {
	svc := newFakeService()
	admin := &recordingAdmin{err: context.DeadlineExceeded}
	d, _ := NewDispatcher(DispatcherOpts{
		Service: svc, Engine: &recordingEngine{}, Admin: admin,
		AdminNumbers: []string{"5491155550000"},
	})
	d.handleAdminMessage(context.Background(), "5491155550000", "dale")
	msgs := svc.sentMessages()
	if len(msgs) != 1 || !strings.HasPrefix(msgs[0].Body, "⚠️") {
		t.Errorf("operator should see the error, got %v", msgs)
	}
}

func TestPausedUserErrorIsSilent(t *testing.T) {
	svc := newFakeService()
	engine := &recordingEngine{err: models.ErrUserPaused}
	d, _ := NewDispatcher(DispatcherOpts{
		Service: svc, Engine: engine, Debounce: 10 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	svc.responses <- models.Response{From: "5491100000005", Body: "hola?"}
	waitFor(t, time.Second, func() bool { return len(engine.handled()) == 1 })
	if len(svc.sentMessages()) != 0 {
		t.Error("paused users must not receive automatic replies")
	}
}

func TestShutdownFlushesPendingBursts(t *testing.T) {
	svc := newFakeService()
	engine := &recordingEngine{}
	d, _ := NewDispatcher(DispatcherOpts{
		Service: svc, Engine: engine, Debounce: time.Hour,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	svc.responses <- models.Response{From: "5491100000006", Body: "hola"}
	waitFor(t, time.Second, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return len(d.pending) == 1
	})
	cancel()
	<-done
	if len(engine.handled()) != 1 {
		t.Errorf("pending burst should flush on shutdown, got %v", engine.handled())
	}
}

func TestCanonicalizePhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+54 9 11 2233-4455", "5491122334455", false},
		{"5491122334455", "5491122334455", false},
		{"", "", true},
		{"abc", "", true},
		{"123", "", true},
	}
	for _, tt := range tests {
		got, err := CanonicalizePhone(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("CanonicalizePhone(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("CanonicalizePhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
