package messaging

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/herbalis/salesbot/internal/models"
)

// DefaultDebounceWindow coalesces a burst of short messages from the
// same customer into one engine turn.
const DefaultDebounceWindow = 3 * time.Second

// Engine drives one conversation turn.
type Engine interface {
	HandleMessage(ctx context.Context, phone, text string) error
}

// AdminHandler executes operator commands.
type AdminHandler interface {
	Interpret(ctx context.Context, targetPhone, command string) (string, error)
}

// adminTargetRe matches an explicit target at the start of an operator
// command: "5491122334455 dale".
var adminTargetRe = regexp.MustCompile(`^\s*\+?(\d{6,15})[:,]?\s+(.+)$`)

// Dispatcher consumes a Service's inbound stream. Customer messages are
// debounced per phone and handed to the engine; messages from operator
// numbers go to the admin interpreter and the reply is sent back on the
// operator's own chat.
type Dispatcher struct {
	service  Service
	engine   Engine
	admin    AdminHandler
	admins   map[string]bool
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*burst
	wg      sync.WaitGroup
}

type burst struct {
	texts []string
	timer *time.Timer
}

// DispatcherOpts configures a Dispatcher.
type DispatcherOpts struct {
	Service      Service
	Engine       Engine
	Admin        AdminHandler // optional; admin traffic is ignored without it
	AdminNumbers []string
	Debounce     time.Duration
	Logger       *slog.Logger
}

// NewDispatcher builds a Dispatcher. Service and Engine are required.
func NewDispatcher(opts DispatcherOpts) (*Dispatcher, error) {
	if opts.Service == nil {
		return nil, errors.New("messaging: service is required")
	}
	if opts.Engine == nil {
		return nil, errors.New("messaging: engine is required")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounceWindow
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	admins := make(map[string]bool, len(opts.AdminNumbers))
	for _, n := range opts.AdminNumbers {
		canonical, err := CanonicalizePhone(n)
		if err != nil {
			opts.Logger.Warn("Dispatcher: skipping invalid admin number", "number", n, "error", err)
			continue
		}
		admins[canonical] = true
	}
	return &Dispatcher{
		service:  opts.Service,
		engine:   opts.Engine,
		admin:    opts.Admin,
		admins:   admins,
		debounce: opts.Debounce,
		logger:   opts.Logger,
		pending:  make(map[string]*burst),
	}, nil
}

// Run consumes inbound messages until the context is cancelled or the
// service closes its stream. It blocks; run it in a goroutine.
func (d *Dispatcher) Run(ctx context.Context) {
	responses := d.service.Responses()
	for {
		select {
		case <-ctx.Done():
			d.flushAll(ctx)
			d.wg.Wait()
			return
		case resp, ok := <-responses:
			if !ok {
				d.wg.Wait()
				return
			}
			d.route(ctx, resp)
		}
	}
}

func (d *Dispatcher) route(ctx context.Context, resp models.Response) {
	phone, err := CanonicalizePhone(resp.From)
	if err != nil {
		d.logger.Warn("Dispatcher.route: unparseable sender", "from", resp.From, "error", err)
		return
	}
	if d.admins[phone] {
		d.handleAdminMessage(ctx, phone, resp.Body)
		return
	}
	d.buffer(ctx, phone, resp.Body)
}

// buffer appends the text to the customer's burst and (re)arms the
// debounce timer.
func (d *Dispatcher) buffer(ctx context.Context, phone, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, ok := d.pending[phone]
	if !ok {
		b = &burst{}
		d.pending[phone] = b
	}
	b.texts = append(b.texts, text)
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(d.debounce, func() {
		d.fire(ctx, phone)
	})
}

// fire drains the customer's burst and runs one engine turn.
func (d *Dispatcher) fire(ctx context.Context, phone string) {
	d.mu.Lock()
	b, ok := d.pending[phone]
	if !ok {
		d.mu.Unlock()
		return
	}
	delete(d.pending, phone)
	d.mu.Unlock()

	text := strings.Join(b.texts, "\n")
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.handle(ctx, phone, text)
	}()
}

func (d *Dispatcher) handle(ctx context.Context, phone, text string) {
	err := d.engine.HandleMessage(ctx, phone, text)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrUserPaused):
		d.logger.Debug("Dispatcher.handle: user paused, message recorded only", "phone", phone)
	default:
		d.logger.Error("Dispatcher.handle: engine turn failed", "phone", phone, "error", err)
	}
}

// handleAdminMessage runs the operator command synchronously and replies
// on the operator's chat.
func (d *Dispatcher) handleAdminMessage(ctx context.Context, adminPhone, text string) {
	if d.admin == nil {
		d.logger.Warn("Dispatcher.handleAdminMessage: no admin interpreter wired", "from", adminPhone)
		return
	}
	target := ""
	command := text
	if m := adminTargetRe.FindStringSubmatch(text); m != nil {
		target, command = m[1], m[2]
	}
	reply, err := d.admin.Interpret(ctx, target, command)
	if err != nil {
		reply = "⚠️ " + err.Error()
	}
	if reply == "" {
		return
	}
	if err := d.service.SendMessage(ctx, adminPhone, reply); err != nil {
		d.logger.Error("Dispatcher.handleAdminMessage: reply failed", "to", adminPhone, "error", err)
	}
}

// flushAll drains every pending burst immediately. Called on shutdown so
// buffered customer messages still get a turn.
func (d *Dispatcher) flushAll(ctx context.Context) {
	d.mu.Lock()
	phones := make([]string, 0, len(d.pending))
	for phone, b := range d.pending {
		if b.timer != nil {
			b.timer.Stop()
		}
		phones = append(phones, phone)
	}
	d.mu.Unlock()
	for _, phone := range phones {
		d.fire(ctx, phone)
	}
}
