package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"loanflow/internal/loan"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

var errorStatuses = []struct {
	err    error
	status int
}{
	{loan.ErrSessionNotFound, http.StatusNotFound},
	{loan.ErrSessionClosed, http.StatusNotFound},
	{loan.ErrUnknownFlow, http.StatusNotFound},
	{loan.ErrPhoneUnknown, http.StatusNotFound},
	{loan.ErrUnknownField, http.StatusBadRequest},
	{loan.ErrUnknownFlag, http.StatusBadRequest},
	{loan.ErrInvalidPhone, http.StatusBadRequest},
	{loan.ErrInvalidCodeFormat, http.StatusBadRequest},
	{loan.ErrInvalidCode, http.StatusBadRequest},
	{loan.ErrDocumentMissing, http.StatusBadRequest},
	{loan.ErrIdentityMissing, http.StatusUnauthorized},
	{loan.ErrPermissionDenied, http.StatusForbidden},
	{loan.ErrBusy, http.StatusConflict},
	{loan.ErrAuthBusy, http.StatusConflict},
	{loan.ErrTerminalStep, http.StatusConflict},
	{loan.ErrFirstStep, http.StatusConflict},
	{loan.ErrBackDisabled, http.StatusConflict},
	{loan.ErrSuperseded, http.StatusConflict},
	{loan.ErrNoPendingChallenge, http.StatusConflict},
	{loan.ErrAlreadyVerified, http.StatusConflict},
	{loan.ErrPhoneRegistered, http.StatusConflict},
	{loan.ErrChallengeExpired, http.StatusGone},
	{loan.ErrTooManyRequests, http.StatusTooManyRequests},
	{loan.ErrProviderInternal, http.StatusBadGateway},
	{loan.ErrLookupFailed, http.StatusServiceUnavailable},
}

// statusFor maps a service error to an HTTP status.
func statusFor(err error) int {
	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Status: status, Message: loan.UserMessage(err)}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		resp.Error = err.Error()
	}
	s.writeJSON(w, r, status, resp)
}

func (s *Server) writeBadRequest(w http.ResponseWriter, r *http.Request, msg string) {
	s.writeJSON(w, r, http.StatusBadRequest, ErrorResponse{Status: http.StatusBadRequest, Message: msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	render.Status(r, status)
	render.JSON(w, r, v)
}
