package loan

import "errors"

var (
	ErrUnknownFlow     = errors.New("unknown flow")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionClosed   = errors.New("session closed")
	ErrUnknownField    = errors.New("unknown field")
	ErrUnknownFlag     = errors.New("unknown flag")

	// ErrBusy is returned when an advance is requested while a delay or a
	// submission for the session is still in flight.
	ErrBusy         = errors.New("step transition in progress")
	ErrTerminalStep = errors.New("already at the final step")
	ErrFirstStep    = errors.New("already at the first step")
	ErrBackDisabled = errors.New("back navigation disabled after submission")
	// ErrSuperseded is returned to a caller whose result was discarded
	// because the session was restarted, moved back or signed out meanwhile.
	ErrSuperseded = errors.New("superseded by a later change")

	ErrIdentityMissing = errors.New("user not authenticated")
	ErrDocumentMissing = errors.New("required document not staged")

	ErrInvalidPhone       = errors.New("invalid phone number")
	ErrNoPendingChallenge = errors.New("no pending challenge")
	ErrInvalidCodeFormat  = errors.New("code must be 6 digits")
	ErrInvalidCode        = errors.New("invalid code")
	ErrChallengeExpired   = errors.New("challenge expired")
	ErrProviderInternal   = errors.New("identity provider internal error")
	ErrAlreadyVerified    = errors.New("phone already verified")
	ErrPhoneRegistered    = errors.New("phone number already registered")
	ErrPhoneUnknown       = errors.New("phone number not registered")
	ErrLookupFailed       = errors.New("phone lookup failed")
	ErrWidgetDestroyed    = errors.New("widget already destroyed")
	ErrTooManyRequests    = errors.New("too many verification requests")
	// ErrAuthBusy is returned while an earlier code request or
	// confirmation for the same gate is still waiting on the provider.
	ErrAuthBusy = errors.New("verification in progress")

	// ErrPermissionDenied marks store failures caused by access rules.
	ErrPermissionDenied = errors.New("permission denied")
)

var userMessages = []struct {
	err error
	msg string
}{
	{ErrBusy, "Please wait, we are still processing your previous step."},
	{ErrTerminalStep, "Your application is already complete."},
	{ErrFirstStep, "You are already on the first step."},
	{ErrBackDisabled, "Your application has been submitted and can no longer be changed."},
	{ErrIdentityMissing, "User not authenticated. Please verify your phone number first."},
	{ErrDocumentMissing, "Please upload all required documents."},
	{ErrInvalidPhone, "Please enter a valid 10-digit mobile number."},
	{ErrNoPendingChallenge, "Please request an OTP first."},
	{ErrInvalidCodeFormat, "Please enter a valid 6-digit OTP."},
	{ErrInvalidCode, "Invalid OTP. Please try again."},
	{ErrChallengeExpired, "The OTP has expired. Please request a new one."},
	{ErrProviderInternal, "reCAPTCHA error. Please refresh the page and try again."},
	{ErrAlreadyVerified, "Your phone number is already verified."},
	{ErrTooManyRequests, "Too many attempts. Please try again later."},
	{ErrAuthBusy, "Please wait, we are still verifying your phone number."},
	{ErrPhoneRegistered, "This phone number is already registered. Please login instead."},
	{ErrPhoneUnknown, "No account found with this phone number. Please sign up first."},
	{ErrLookupFailed, "We could not check your phone number right now. Please try again."},
	{ErrPermissionDenied, "You do not have permission to perform this action."},
	{ErrSessionNotFound, "Your session has expired. Please start again."},
	{ErrSessionClosed, "Your session has expired. Please start again."},
}

// UserMessage returns the applicant-facing text for err. Errors without a
// dedicated message get a generic retry prompt.
func UserMessage(err error) string {
	for _, m := range userMessages {
		if errors.Is(err, m.err) {
			return m.msg
		}
	}
	return "Something went wrong. Please try again."
}
