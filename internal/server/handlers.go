package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"loanflow/internal/loan"
)

// FlowSummary describes a flow in the flow listing.
type FlowSummary struct {
	Kind  string   `json:"kind"`
	Title string   `json:"title"`
	Steps []string `json:"steps"`
}

type createSessionRequest struct {
	Flow string `json:"flow"`
}

type flagRequest struct {
	Value bool `json:"value"`
}

type requestCodeRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

type confirmCodeRequest struct {
	Code string `json:"code"`
}

// AdvanceResponse carries the outcome of an advance and the resulting
// session state.
type AdvanceResponse struct {
	Result  *loan.AdvanceResult `json:"result"`
	Session loan.SessionView    `json:"session"`
}

// StageResponse carries the outcome of a file upload.
type StageResponse struct {
	loan.StageResult
	Session loan.SessionView `json:"session"`
}

// PreviewResponse carries a slot preview once it has been rendered.
type PreviewResponse struct {
	Ready bool   `json:"ready"`
	URL   string `json:"url,omitempty"`
}

// WidgetResponse names the bot-check widget to render.
type WidgetResponse struct {
	WidgetID string `json:"widgetId"`
}

// ConfirmResponse is returned for a verified phone.
type ConfirmResponse struct {
	UserID      string `json:"userId"`
	PhoneNumber string `json:"phoneNumber"`
	IDToken     string `json:"idToken,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]any{"status": "ok", "sessions": s.svc.Count()})
}

func (s *Server) handleListFlows(w http.ResponseWriter, r *http.Request) {
	flows := s.svc.Flows().Flows()
	out := make([]FlowSummary, 0, len(flows))
	for _, f := range flows {
		fs := FlowSummary{Kind: f.Kind, Title: f.Title}
		for _, st := range f.Steps {
			fs.Steps = append(fs.Steps, st.ID)
		}
		out = append(out, fs)
	}
	s.writeJSON(w, r, http.StatusOK, out)
}

func (s *Server) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	f, ok := s.svc.Flows().Lookup(chi.URLParam(r, "kind"))
	if !ok {
		s.writeError(w, r, loan.ErrUnknownFlow)
		return
	}
	s.writeJSON(w, r, http.StatusOK, f)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		s.writeBadRequest(w, r, "invalid request body")
		return
	}
	sess, err := s.svc.Create(req.Flow)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusCreated, sess.Snapshot())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, sessionFrom(r).Snapshot())
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	s.svc.Close(sessionFrom(r).ID())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetFields(w http.ResponseWriter, r *http.Request) {
	var values map[string]string
	if err := render.DecodeJSON(r.Body, &values); err != nil {
		s.writeBadRequest(w, r, "fields must be a JSON object of strings")
		return
	}
	sess := sessionFrom(r)
	if err := sess.SetFields(values); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleSetFlag(w http.ResponseWriter, r *http.Request) {
	var req flagRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		s.writeBadRequest(w, r, "invalid request body")
		return
	}
	sess := sessionFrom(r)
	if err := sess.SetFlag(chi.URLParam(r, "flag"), req.Value); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, sess.Snapshot())
}

// handleStageFile reads the "file" part of a multipart body into the slot.
// A rejected file is reported with 422 and the reason.
func (s *Server) handleStageFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeBadRequest(w, r, "a file is required")
		return
	}
	defer file.Close()

	sess := sessionFrom(r)
	res, err := sess.StageFile(chi.URLParam(r, "slot"), header.Filename, header.Header.Get("Content-Type"), file, header.Size)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if !res.Accepted {
		status = http.StatusUnprocessableEntity
	}
	s.writeJSON(w, r, status, StageResponse{StageResult: res, Session: sess.Snapshot()})
}

func (s *Server) handleClearFile(w http.ResponseWriter, r *http.Request) {
	if err := sessionFrom(r).ClearFile(chi.URLParam(r, "slot")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	url, ok := sessionFrom(r).Preview(chi.URLParam(r, "slot"))
	s.writeJSON(w, r, http.StatusOK, PreviewResponse{Ready: ok, URL: url})
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	res, err := sess.Advance(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, AdvanceResponse{Result: res, Session: sess.Snapshot()})
}

func (s *Server) handleRetreat(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	if err := sess.Retreat(); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	if err := sess.Restart(); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleWidget(w http.ResponseWriter, r *http.Request) {
	id, err := sessionFrom(r).Auth().PrepareWidget(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, WidgetResponse{WidgetID: id})
}

func (s *Server) handleRequestCode(w http.ResponseWriter, r *http.Request) {
	var req requestCodeRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		s.writeBadRequest(w, r, "invalid request body")
		return
	}
	sess := sessionFrom(r)
	if err := sess.Auth().RequestCode(r.Context(), req.PhoneNumber); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleConfirmCode(w http.ResponseWriter, r *http.Request) {
	var req confirmCodeRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		s.writeBadRequest(w, r, "invalid request body")
		return
	}
	as, err := sessionFrom(r).Auth().ConfirmCode(r.Context(), req.Code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, ConfirmResponse{UserID: as.UserID, PhoneNumber: as.PhoneNumber, IDToken: as.IDToken})
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if err := sessionFrom(r).Auth().SignOut(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
