package loan

import (
	"context"
	"time"
)

// WidgetHandle is a rendered bot-check widget owned by one session.
type WidgetHandle interface {
	ID() string
	// Clear destroys the widget. Clearing twice returns ErrWidgetDestroyed.
	Clear() error
}

// Challenge is a pending OTP verification.
type Challenge struct {
	ID        string
	Phone     string
	ExpiresAt time.Time
}

// Identity is what the provider returns for a confirmed challenge.
type Identity struct {
	UserID      string
	PhoneNumber string
	IDToken     string
}

// IdentityProvider verifies phone numbers with one-time codes.
type IdentityProvider interface {
	// RenderWidget creates a bot-check widget bound to the named container.
	RenderWidget(ctx context.Context, container string) (WidgetHandle, error)

	// SendChallenge sends a code to phone (E.164). Failures caused by the
	// widget wrap ErrProviderInternal.
	SendChallenge(ctx context.Context, phone string, widget WidgetHandle) (*Challenge, error)

	// ConfirmChallenge checks code against the challenge. A wrong code wraps
	// ErrInvalidCode; an expired or exhausted challenge wraps
	// ErrChallengeExpired.
	ConfirmChallenge(ctx context.Context, ch *Challenge, code string) (*Identity, error)

	SignOut(ctx context.Context, userID string) error
}

// AuthSession is the verified identity held by a session's auth gate.
type AuthSession struct {
	UserID      string    `json:"userId"`
	PhoneNumber string    `json:"phoneNumber"`
	IDToken     string    `json:"-"`
	VerifiedAt  time.Time `json:"verifiedAt"`
}
