package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"loanflow/internal/loan"
)

// ValidCode is the only code FakeIdentityProvider accepts.
const ValidCode = "123456"

// FakeIdentityProvider is an in-memory loan.IdentityProvider that records
// every call. Errors can be injected per operation.
type FakeIdentityProvider struct {
	mu sync.Mutex

	RenderErr  error
	SendErr    error
	ConfirmErr error

	renders   int
	widgets   []*FakeWidget
	sent      []string
	confirms  int
	signedOut []string
	seq       int

	hold    chan struct{}
	entered chan struct{}
}

var _ loan.IdentityProvider = (*FakeIdentityProvider)(nil)

func NewFakeIdentityProvider() *FakeIdentityProvider {
	return &FakeIdentityProvider{}
}

// FakeWidget is the widget handed out by FakeIdentityProvider.
type FakeWidget struct {
	mu      sync.Mutex
	id      string
	cleared int
}

func (w *FakeWidget) ID() string { return w.id }

func (w *FakeWidget) Clear() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cleared++
	if w.cleared > 1 {
		return loan.ErrWidgetDestroyed
	}
	return nil
}

// Cleared reports whether Clear has been called.
func (w *FakeWidget) Cleared() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cleared > 0
}

func (p *FakeIdentityProvider) RenderWidget(ctx context.Context, container string) (loan.WidgetHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.renders++
	if p.RenderErr != nil {
		return nil, p.RenderErr
	}
	w := &FakeWidget{id: fmt.Sprintf("%s-widget-%d", container, p.renders)}
	p.widgets = append(p.widgets, w)
	return w, nil
}

// Hold parks every later SendChallenge and ConfirmChallenge call until
// release is called. entered receives once per parked call.
func (p *FakeIdentityProvider) Hold() (entered <-chan struct{}, release func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	hold := make(chan struct{})
	p.hold = hold
	p.entered = make(chan struct{}, 8)
	var once sync.Once
	return p.entered, func() {
		once.Do(func() {
			p.mu.Lock()
			if p.hold == hold {
				p.hold = nil
			}
			p.mu.Unlock()
			close(hold)
		})
	}
}

func (p *FakeIdentityProvider) wait(ctx context.Context) error {
	p.mu.Lock()
	hold, entered := p.hold, p.entered
	p.mu.Unlock()
	if hold == nil {
		return nil
	}
	select {
	case entered <- struct{}{}:
	default:
	}
	select {
	case <-hold:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *FakeIdentityProvider) SendChallenge(ctx context.Context, phone string, widget loan.WidgetHandle) (*loan.Challenge, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, phone)
	if p.SendErr != nil {
		return nil, p.SendErr
	}
	p.seq++
	return &loan.Challenge{
		ID:        fmt.Sprintf("challenge-%d", p.seq),
		Phone:     phone,
		ExpiresAt: time.Now().Add(5 * time.Minute),
	}, nil
}

func (p *FakeIdentityProvider) ConfirmChallenge(ctx context.Context, ch *loan.Challenge, code string) (*loan.Identity, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.confirms++
	if p.ConfirmErr != nil {
		return nil, p.ConfirmErr
	}
	if code != ValidCode {
		return nil, loan.ErrInvalidCode
	}
	return &loan.Identity{
		UserID:      UserIDFor(ch.Phone),
		PhoneNumber: ch.Phone,
		IDToken:     "token-" + ch.ID,
	}, nil
}

func (p *FakeIdentityProvider) SignOut(ctx context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signedOut = append(p.signedOut, userID)
	return nil
}

// UserIDFor is the user id the fake assigns to phone.
func UserIDFor(phone string) string {
	return "user-" + strings.TrimPrefix(phone, "+")
}

// Renders returns the number of RenderWidget calls.
func (p *FakeIdentityProvider) Renders() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.renders
}

// Widgets returns every widget rendered so far.
func (p *FakeIdentityProvider) Widgets() []*FakeWidget {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*FakeWidget(nil), p.widgets...)
}

// Sent returns the phones a code was requested for.
func (p *FakeIdentityProvider) Sent() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sent...)
}

// Confirms returns the number of ConfirmChallenge calls.
func (p *FakeIdentityProvider) Confirms() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.confirms
}

// SignedOut returns the user ids passed to SignOut.
func (p *FakeIdentityProvider) SignedOut() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.signedOut...)
}

// SetSendErr replaces the SendChallenge error.
func (p *FakeIdentityProvider) SetSendErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SendErr = err
}

// SetConfirmErr replaces the ConfirmChallenge error.
func (p *FakeIdentityProvider) SetConfirmErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConfirmErr = err
}
