package loan

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"loanflow/internal/flow"
)

// AuthState is the phase of phone verification.
type AuthState int

const (
	AuthPhoneEntry AuthState = iota
	AuthOTPSent
	AuthVerified
)

func (s AuthState) String() string {
	switch s {
	case AuthOTPSent:
		return "otp-sent"
	case AuthVerified:
		return "verified"
	default:
		return "phone-entry"
	}
}

// MarshalText renders the state name in JSON bodies.
func (s AuthState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// DefaultWidgetDebounce is how long a freshly rendered widget is reused by
// repeated PrepareWidget calls.
const DefaultWidgetDebounce = 100 * time.Millisecond

// countryCode is prefixed to every normalized phone number.
const countryCode = "+91"

var (
	nationalNumber = regexp.MustCompile(`^\d{10}$`)
	otpCode        = regexp.MustCompile(`^\d{6}$`)
	phoneNoise     = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")
)

// NormalizePhone turns user input such as "98765 43210" or "+91 9876543210"
// into +91XXXXXXXXXX.
func NormalizePhone(raw string) (string, error) {
	s := phoneNoise.Replace(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, countryCode)
	if len(s) == 12 && strings.HasPrefix(s, "91") {
		s = s[2:]
	}
	if !nationalNumber.MatchString(s) {
		return "", ErrInvalidPhone
	}
	return countryCode + s, nil
}

// AuthGate drives phone verification for one session. It owns the session's
// widget and pending challenge; nothing is shared between sessions.
type AuthGate struct {
	provider IdentityProvider
	docs     DocumentStore
	check    flow.PhoneCheck
	clock    Clock
	logger   Logger
	metrics  Metrics

	container string
	debounce  time.Duration

	mu          sync.Mutex
	state       AuthState
	phone       string
	widget      WidgetHandle
	widgetAt    time.Time
	widgetStale bool
	challenge   *Challenge
	session     *AuthSession
	// busy is set while a request or confirmation waits on the provider
	// with mu released. gen is bumped by anything that invalidates it.
	busy bool
	gen  uint64

	lmu       sync.Mutex
	listeners map[int]func(*AuthSession)
	nextID    int
}

// NewAuthGate creates a gate in the phone-entry state. check selects the
// advisory lookup against the users collection run before a code is sent.
func NewAuthGate(provider IdentityProvider, docs DocumentStore, check flow.PhoneCheck, container string, clock Clock, logger Logger, metrics Metrics) *AuthGate {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &AuthGate{
		provider:  provider,
		docs:      docs,
		check:     check,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
		container: container,
		debounce:  DefaultWidgetDebounce,
		listeners: make(map[int]func(*AuthSession)),
	}
}

// State returns the current phase.
func (g *AuthGate) State() AuthState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Phone returns the normalized number the last code was sent to.
func (g *AuthGate) Phone() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.phone
}

// Session returns a copy of the verified identity, or nil.
func (g *AuthGate) Session() *AuthSession {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.session == nil {
		return nil
	}
	s := *g.session
	return &s
}

// PrepareWidget makes sure a live widget exists and returns its id. A widget
// rendered within the debounce window, or one a pending request is using, is
// reused; an older or stale one is cleared first and replaced.
func (g *AuthGate) PrepareWidget(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.widget != nil && g.busy {
		return g.widget.ID(), nil
	}
	if g.widget != nil && !g.widgetStale && g.clock.Now().Sub(g.widgetAt) < g.debounce {
		return g.widget.ID(), nil
	}
	if err := g.renderLocked(ctx); err != nil {
		return "", err
	}
	return g.widget.ID(), nil
}

func (g *AuthGate) renderLocked(ctx context.Context) error {
	g.teardownLocked()
	w, err := g.provider.RenderWidget(ctx, g.container)
	if err != nil {
		return fmt.Errorf("rendering widget: %w", err)
	}
	g.widget = w
	g.widgetAt = g.clock.Now()
	g.widgetStale = false
	return nil
}

func (g *AuthGate) teardownLocked() {
	if g.widget == nil {
		return
	}
	if err := g.widget.Clear(); err != nil && !errors.Is(err, ErrWidgetDestroyed) {
		g.logger.Debug("clearing widget", "widget", g.widget.ID(), "error", err)
	}
	g.widget = nil
	g.widgetStale = false
}

// RequestCode sends a one-time code to raw after normalizing it and running
// the phone pre-check. On failure the gate stays in phone-entry and the
// widget is replaced on the next attempt.
func (g *AuthGate) RequestCode(ctx context.Context, raw string) error {
	phone, err := NormalizePhone(raw)
	if err != nil {
		return err
	}

	gen, err := g.begin()
	if err != nil {
		return err
	}
	defer g.finish(gen)

	if err := g.checkPhone(ctx, phone); err != nil {
		return err
	}

	g.mu.Lock()
	if g.gen != gen {
		g.mu.Unlock()
		return ErrSuperseded
	}
	if g.widget == nil || g.widgetStale {
		if err := g.renderLocked(ctx); err != nil {
			g.mu.Unlock()
			return err
		}
	}
	widget := g.widget
	g.mu.Unlock()

	ch, err := g.provider.SendChallenge(ctx, phone, widget)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.gen != gen {
		return ErrSuperseded
	}
	if err != nil {
		g.metrics.ChallengeSent("error")
		g.widgetStale = true
		g.teardownLocked()
		g.challenge = nil
		g.state = AuthPhoneEntry
		g.logger.Warn("sending verification code failed", "phone", maskPhone(phone), "error", err)
		return fmt.Errorf("sending code: %w", err)
	}
	g.metrics.ChallengeSent("ok")
	g.challenge = ch
	g.phone = phone
	g.state = AuthOTPSent
	g.logger.Info("verification code sent", "phone", maskPhone(phone))
	return nil
}

// begin marks the gate busy and returns the generation the caller must
// still hold when it stores a result.
func (g *AuthGate) begin() (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == AuthVerified {
		return 0, ErrAlreadyVerified
	}
	if g.busy {
		return 0, ErrAuthBusy
	}
	g.busy = true
	return g.gen, nil
}

func (g *AuthGate) finish(gen uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.gen == gen {
		g.busy = false
	}
}

// invalidateLocked abandons any request or confirmation in flight.
func (g *AuthGate) invalidateLocked() {
	g.gen++
	g.busy = false
}

// checkPhone runs the advisory lookup. Lookup failures block the request.
func (g *AuthGate) checkPhone(ctx context.Context, phone string) error {
	if g.check == flow.PhoneCheckNone {
		return nil
	}
	docs, err := g.docs.Query(ctx, UsersCollection, keyPhoneNumber, phone, 1)
	if err != nil {
		g.logger.Warn("phone lookup failed", "phone", maskPhone(phone), "error", err)
		return fmt.Errorf("%w: %w", ErrLookupFailed, err)
	}
	exists := len(docs) > 0
	switch {
	case g.check == flow.PhoneCheckMustNotExist && exists:
		return ErrPhoneRegistered
	case g.check == flow.PhoneCheckMustExist && !exists:
		return ErrPhoneUnknown
	}
	return nil
}

// ConfirmCode verifies code against the pending challenge. The format is
// checked locally before the provider is contacted.
func (g *AuthGate) ConfirmCode(ctx context.Context, code string) (*AuthSession, error) {
	g.mu.Lock()
	if g.challenge == nil {
		g.mu.Unlock()
		return nil, ErrNoPendingChallenge
	}
	if g.busy {
		g.mu.Unlock()
		return nil, ErrAuthBusy
	}
	code = strings.TrimSpace(code)
	if !otpCode.MatchString(code) {
		g.mu.Unlock()
		return nil, ErrInvalidCodeFormat
	}
	g.busy = true
	gen := g.gen
	ch := g.challenge
	g.mu.Unlock()
	defer g.finish(gen)

	id, err := g.provider.ConfirmChallenge(ctx, ch, code)

	g.mu.Lock()
	if g.gen != gen {
		g.mu.Unlock()
		return nil, ErrSuperseded
	}
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCode):
			g.metrics.ChallengeConfirmed("invalid")
		case errors.Is(err, ErrChallengeExpired):
			g.metrics.ChallengeConfirmed("expired")
			g.challenge = nil
			g.state = AuthPhoneEntry
			g.widgetStale = true
		default:
			g.metrics.ChallengeConfirmed("error")
		}
		g.mu.Unlock()
		return nil, fmt.Errorf("confirming code: %w", err)
	}
	g.metrics.ChallengeConfirmed("ok")

	sess := &AuthSession{
		UserID:      id.UserID,
		PhoneNumber: id.PhoneNumber,
		IDToken:     id.IDToken,
		VerifiedAt:  g.clock.Now(),
	}
	if sess.PhoneNumber == "" {
		sess.PhoneNumber = g.phone
	}
	g.session = sess
	g.challenge = nil
	g.state = AuthVerified
	g.teardownLocked()
	out := *sess
	g.mu.Unlock()

	g.ensureProfile(ctx, &out)

	g.mu.Lock()
	current := g.gen == gen
	g.mu.Unlock()
	if current {
		g.notify(&out)
	}
	return &out, nil
}

// ensureProfile creates users/<uid> on first verification. A failure does
// not undo the verification.
func (g *AuthGate) ensureProfile(ctx context.Context, sess *AuthSession) {
	doc, err := g.docs.Get(ctx, UsersCollection, sess.UserID)
	if err != nil {
		g.logger.Warn("loading user profile failed", "user", sess.UserID, "error", err)
		return
	}
	if doc != nil {
		return
	}
	profile := map[string]any{
		"uid":          sess.UserID,
		keyPhoneNumber: sess.PhoneNumber,
		"name":         "",
		"email":        "",
	}
	if err := g.docs.Set(ctx, UsersCollection, sess.UserID, profile, false); err != nil {
		g.logger.Warn("creating user profile failed", "user", sess.UserID, "error", err)
		return
	}
	g.logger.Info("user profile created", "user", sess.UserID)
}

// SignOut ends the verified session and drops any challenge and widget.
func (g *AuthGate) SignOut(ctx context.Context) error {
	g.mu.Lock()
	sess := g.session
	g.session = nil
	g.challenge = nil
	g.phone = ""
	g.state = AuthPhoneEntry
	g.invalidateLocked()
	g.teardownLocked()
	g.mu.Unlock()

	if sess == nil {
		return nil
	}
	g.notify(nil)
	if err := g.provider.SignOut(ctx, sess.UserID); err != nil {
		return fmt.Errorf("signing out: %w", err)
	}
	return nil
}

// ResetPending drops an unconfirmed challenge. A verified session is kept.
func (g *AuthGate) ResetPending() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == AuthVerified {
		return
	}
	g.invalidateLocked()
	g.challenge = nil
	g.state = AuthPhoneEntry
}

// Close releases the widget.
func (g *AuthGate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.invalidateLocked()
	g.teardownLocked()
	g.challenge = nil
}

// OnChange registers fn to be called with the current identity (nil after
// sign-out) once right away and again whenever it changes. The returned func
// unregisters it.
func (g *AuthGate) OnChange(fn func(*AuthSession)) func() {
	g.lmu.Lock()
	id := g.nextID
	g.nextID++
	g.listeners[id] = fn
	g.lmu.Unlock()

	fn(g.Session())
	return func() {
		g.lmu.Lock()
		delete(g.listeners, id)
		g.lmu.Unlock()
	}
}

func (g *AuthGate) notify(sess *AuthSession) {
	g.lmu.Lock()
	fns := make([]func(*AuthSession), 0, len(g.listeners))
	for _, fn := range g.listeners {
		fns = append(fns, fn)
	}
	g.lmu.Unlock()
	for _, fn := range fns {
		fn(sess)
	}
}

func maskPhone(phone string) string {
	if len(phone) < 4 {
		return "****"
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
