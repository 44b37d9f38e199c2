// Package identity is a self-hosted phone OTP provider: it renders
// bot-check widgets, sends one-time codes and issues ID tokens.
package identity

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"loanflow/internal/loan"
)

var e164 = regexp.MustCompile(`^\+[1-9]\d{7,14}$`)

// userNamespace derives stable user ids from phone numbers.
var userNamespace = uuid.MustParse("5d0b6c1e-2f57-4c69-9a55-0f7e3b1f6a42")

// Options tune a Provider.
type Options struct {
	CodeTTL     time.Duration
	MaxAttempts int
	// HashCost is the bcrypt cost for stored codes.
	HashCost int
}

// Provider implements loan.IdentityProvider.
type Provider struct {
	store   ChallengeStore
	limiter Limiter
	sender  Sender
	tokens  *TokenIssuer
	clock   loan.Clock
	ids     loan.IDGenerator
	logger  loan.Logger
	opts    Options

	mu      sync.Mutex
	widgets map[string]*widget
}

var _ loan.IdentityProvider = (*Provider)(nil)

func NewProvider(store ChallengeStore, limiter Limiter, sender Sender, tokens *TokenIssuer, clock loan.Clock, ids loan.IDGenerator, logger loan.Logger, opts Options) *Provider {
	if opts.CodeTTL <= 0 {
		opts.CodeTTL = 5 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.HashCost == 0 {
		opts.HashCost = bcrypt.DefaultCost
	}
	return &Provider{
		store:   store,
		limiter: limiter,
		sender:  sender,
		tokens:  tokens,
		clock:   clock,
		ids:     ids,
		logger:  logger,
		opts:    opts,
		widgets: make(map[string]*widget),
	}
}

type widget struct {
	id       string
	provider *Provider
}

func (w *widget) ID() string { return w.id }

func (w *widget) Clear() error {
	w.provider.mu.Lock()
	defer w.provider.mu.Unlock()
	if _, ok := w.provider.widgets[w.id]; !ok {
		return loan.ErrWidgetDestroyed
	}
	delete(w.provider.widgets, w.id)
	return nil
}

func (p *Provider) live(w loan.WidgetHandle) bool {
	if w == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.widgets[w.ID()]
	return ok
}

// LiveWidgets returns the number of rendered, uncleared widgets.
func (p *Provider) LiveWidgets() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.widgets)
}

func (p *Provider) RenderWidget(ctx context.Context, container string) (loan.WidgetHandle, error) {
	if container == "" {
		return nil, errors.New("widget container required")
	}
	w := &widget{id: container + ":" + p.ids.New(), provider: p}
	p.mu.Lock()
	p.widgets[w.id] = w
	p.mu.Unlock()
	return w, nil
}

func (p *Provider) SendChallenge(ctx context.Context, phone string, w loan.WidgetHandle) (*loan.Challenge, error) {
	if !e164.MatchString(phone) {
		return nil, loan.ErrInvalidPhone
	}
	if !p.live(w) {
		return nil, fmt.Errorf("%w: widget not rendered or already used", loan.ErrProviderInternal)
	}

	res, err := p.limiter.Allow(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("checking rate limit: %w", err)
	}
	if !res.Allowed {
		return nil, fmt.Errorf("%w: retry in %s", loan.ErrTooManyRequests, res.RetryAfter.Round(time.Second))
	}

	code, err := newCode()
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), p.opts.HashCost)
	if err != nil {
		return nil, fmt.Errorf("hashing code: %w", err)
	}

	ch := &loan.Challenge{
		ID:        p.ids.New(),
		Phone:     phone,
		ExpiresAt: p.clock.Now().Add(p.opts.CodeTTL),
	}
	rec := &Record{Phone: phone, CodeHash: hash, ExpiresAt: ch.ExpiresAt}
	if err := p.store.Put(ctx, ch.ID, rec, p.opts.CodeTTL); err != nil {
		return nil, err
	}
	if err := p.sender.Send(ctx, phone, code); err != nil {
		_ = p.store.Delete(ctx, ch.ID)
		return nil, fmt.Errorf("delivering code: %w", err)
	}
	return ch, nil
}

func (p *Provider) ConfirmChallenge(ctx context.Context, ch *loan.Challenge, code string) (*loan.Identity, error) {
	rec, err := p.store.Get(ctx, ch.ID)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Phone != ch.Phone {
		return nil, loan.ErrChallengeExpired
	}
	now := p.clock.Now()
	if !now.Before(rec.ExpiresAt) {
		_ = p.store.Delete(ctx, ch.ID)
		return nil, loan.ErrChallengeExpired
	}

	if bcrypt.CompareHashAndPassword(rec.CodeHash, []byte(code)) != nil {
		rec.Attempts++
		if rec.Attempts >= p.opts.MaxAttempts {
			_ = p.store.Delete(ctx, ch.ID)
			return nil, fmt.Errorf("%w: too many wrong codes", loan.ErrChallengeExpired)
		}
		if err := p.store.Put(ctx, ch.ID, rec, rec.ExpiresAt.Sub(now)); err != nil {
			return nil, err
		}
		return nil, loan.ErrInvalidCode
	}

	if err := p.store.Delete(ctx, ch.ID); err != nil {
		return nil, err
	}
	uid := UserID(rec.Phone)
	token, err := p.tokens.Issue(uid, rec.Phone, ch.ID)
	if err != nil {
		return nil, err
	}
	return &loan.Identity{UserID: uid, PhoneNumber: rec.Phone, IDToken: token}, nil
}

func (p *Provider) SignOut(ctx context.Context, userID string) error {
	p.logger.Debug("signed out", "user", userID)
	return nil
}

// UserID is the stable id assigned to a verified phone number.
func UserID(phone string) string {
	return uuid.NewSHA1(userNamespace, []byte(phone)).String()
}

func newCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generating code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
