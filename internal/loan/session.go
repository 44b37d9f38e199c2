package loan

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"loanflow/internal/flow"
)

type busyKind int

const (
	notBusy busyKind = iota
	busyDelay
	busySubmit
)

// StepState is the position of a session within its flow.
type StepState struct {
	// Index is 1-based and always within [1, flow length].
	Index     int             `json:"index"`
	Flags     map[string]bool `json:"flags"`
	Submitted bool            `json:"submitted"`
	RecordID  string          `json:"recordId,omitempty"`
}

// AdvanceResult describes the outcome of an Advance call.
type AdvanceResult struct {
	// Advanced is set when the step index moved forward.
	Advanced bool `json:"advanced"`
	// Pending is set when a delay was started; the step moves once it ends.
	Pending      bool                  `json:"pending"`
	PendingLabel string                `json:"pendingLabel,omitempty"`
	Errors       flow.ValidationResult `json:"errors,omitempty"`
	RecordID     string                `json:"recordId,omitempty"`
}

// SessionView is a point-in-time copy of a session for display.
type SessionView struct {
	ID           string            `json:"id"`
	Flow         string            `json:"flow"`
	Step         int               `json:"step"`
	Steps        int               `json:"steps"`
	StepID       string            `json:"stepId"`
	StepTitle    string            `json:"stepTitle"`
	StepKind     flow.StepKind     `json:"stepKind"`
	Fields       map[string]string `json:"fields"`
	Flags        map[string]bool   `json:"flags"`
	Files        []StagedFile      `json:"files"`
	Pending      bool              `json:"pending"`
	PendingLabel string            `json:"pendingLabel,omitempty"`
	Submitting   bool              `json:"submitting"`
	Submitted    bool              `json:"submitted"`
	RecordID     string            `json:"recordId,omitempty"`
	Auth         AuthView          `json:"auth"`
	CanRetreat   bool              `json:"canRetreat"`
}

// AuthView is the display form of a session's verification state.
type AuthView struct {
	State  AuthState `json:"state"`
	Phone  string    `json:"phone,omitempty"`
	UserID string    `json:"userId,omitempty"`
}

// Session is one applicant's pass through a flow. All methods are safe for
// concurrent use; transitions are serialized.
type Session struct {
	id          string
	flow        *flow.Flow
	files       FileStaging
	auth        *AuthGate
	coordinator *Coordinator
	clock       Clock
	logger      Logger
	metrics     Metrics

	mu      sync.Mutex
	draft   *Draft
	state   StepState
	busy    busyKind
	label   string
	timer   Timer
	gen     uint64
	closed  bool
	unwatch func()

	smu     sync.Mutex
	subs    map[int]func(Event)
	nextSub int
}

func newSession(id string, f *flow.Flow, files FileStaging, auth *AuthGate, coordinator *Coordinator, clock Clock, logger Logger, metrics Metrics) *Session {
	s := &Session{
		id:          id,
		flow:        f,
		files:       files,
		auth:        auth,
		coordinator: coordinator,
		clock:       clock,
		logger:      logger,
		metrics:     metrics,
		draft:       NewDraft(f),
		state:       StepState{Index: 1, Flags: make(map[string]bool)},
		subs:        make(map[int]func(Event)),
	}
	s.unwatch = auth.OnChange(func(*AuthSession) {
		s.emit(s.event(EventAuthChanged))
	})
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Flow returns the flow the session runs.
func (s *Session) Flow() *flow.Flow { return s.flow }

// Auth returns the session's auth gate.
func (s *Session) Auth() *AuthGate { return s.auth }

// Advance validates the current step and moves to the next one. Validation
// failures are returned in the result, not as an error, and leave the step
// unchanged. A step with a delay reports Pending and moves when the delay
// ends. A submit step runs the submission before moving.
func (s *Session) Advance(ctx context.Context) (*AdvanceResult, error) {
	s.mu.Lock()
	if err := s.usableLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if s.busy != notBusy {
		s.mu.Unlock()
		return nil, ErrBusy
	}

	step := s.flow.Step(s.state.Index)
	if s.state.Index == s.flow.Len() || step.Kind == flow.KindTerminal {
		s.mu.Unlock()
		return nil, ErrTerminalStep
	}

	if errs := s.gateLocked(step); !errs.OK() {
		s.mu.Unlock()
		s.metrics.ValidationFailed(s.flow.Kind, step.ID, len(errs))
		return &AdvanceResult{Errors: errs}, nil
	}

	switch {
	case step.Submit:
		return s.submit(ctx)
	case step.Delay > 0:
		res := s.startDelayLocked(step)
		ev := s.eventLocked(EventPending)
		s.mu.Unlock()
		s.emit(ev)
		return res, nil
	default:
		s.moveLocked(1)
		ev := s.eventLocked(EventStepChanged)
		s.mu.Unlock()
		s.emit(ev)
		return &AdvanceResult{Advanced: true}, nil
	}
}

// gateLocked returns what blocks leaving step, if anything.
func (s *Session) gateLocked(step *flow.Step) flow.ValidationResult {
	switch step.Kind {
	case flow.KindSummary:
		return nil
	case flow.KindOffer:
		if !s.state.Flags[step.Flag] {
			return flow.ValidationResult{step.Flag: step.FlagMessage}
		}
		return nil
	case flow.KindAuthPhone:
		if s.auth.State() == AuthPhoneEntry {
			return flow.ValidationResult{"phoneNumber": "Please request an OTP to continue"}
		}
		return nil
	case flow.KindAuthOTP:
		if s.auth.State() != AuthVerified {
			return flow.ValidationResult{"otp": "Please verify the OTP to continue"}
		}
		return nil
	}

	errs := flow.Validate(step, s.draft.Values(), s.stagedSet(), s.clock.Now())
	if step.RequireAuth && s.auth.State() != AuthVerified {
		errs["otp"] = "Please verify your mobile number"
	}
	return errs
}

func (s *Session) stagedSet() map[string]bool {
	set := make(map[string]bool)
	for _, sf := range s.files.Staged() {
		set[sf.Slot] = true
	}
	return set
}

func (s *Session) startDelayLocked(step *flow.Step) *AdvanceResult {
	s.busy = busyDelay
	s.label = step.DelayLabel
	gen := s.gen
	s.timer = s.clock.AfterFunc(step.Delay, func() { s.finishDelay(gen) })
	s.logger.Debug("step delay started", "session", s.id, "step", step.ID, "delay", step.Delay)
	return &AdvanceResult{Pending: true, PendingLabel: step.DelayLabel}
}

func (s *Session) finishDelay(gen uint64) {
	s.mu.Lock()
	if s.closed || s.gen != gen || s.busy != busyDelay {
		s.mu.Unlock()
		return
	}
	s.busy = notBusy
	s.label = ""
	s.timer = nil
	s.moveLocked(1)
	ev := s.eventLocked(EventStepChanged)
	s.mu.Unlock()
	s.emit(ev)
}

// submit runs with s.mu held on entry and releases it. The coordinator is
// called without the lock; a result arriving after a restart, retreat or
// close is discarded.
func (s *Session) submit(ctx context.Context) (*AdvanceResult, error) {
	s.busy = busySubmit
	gen := s.gen
	fields := s.draft.Values()
	s.mu.Unlock()

	res, err := s.coordinator.Submit(ctx, s.flow, fields, s.files, s.auth.Session())

	s.mu.Lock()
	if s.closed || s.gen != gen {
		s.mu.Unlock()
		s.logger.Info("discarding superseded submission", "session", s.id)
		return nil, ErrSuperseded
	}
	s.busy = notBusy
	if err != nil {
		ev := s.eventLocked(EventSubmitFailed)
		ev.Message = UserMessage(err)
		s.mu.Unlock()
		s.emit(ev)
		return nil, err
	}

	s.state.Submitted = true
	s.state.RecordID = res.RecordID
	s.draft.Reset()
	if err := s.files.Reset(); err != nil {
		s.logger.Warn("clearing staged files", "session", s.id, "error", err)
	}
	s.moveLocked(1)
	submitted := s.eventLocked(EventSubmitted)
	submitted.RecordID = res.RecordID
	changed := s.eventLocked(EventStepChanged)
	s.mu.Unlock()

	s.emit(submitted)
	s.emit(changed)
	return &AdvanceResult{Advanced: true, RecordID: res.RecordID}, nil
}

// Retreat moves back one step, canceling any pending delay and discarding
// an in-flight submission.
func (s *Session) Retreat() error {
	s.mu.Lock()
	if err := s.usableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.state.Index == 1 {
		s.mu.Unlock()
		return ErrFirstStep
	}
	if s.flow.LockAfterSubmit && s.state.Submitted {
		s.mu.Unlock()
		return ErrBackDisabled
	}
	canceled := s.cancelLocked()
	s.moveLocked(-1)
	evs := []Event{s.eventLocked(EventStepChanged)}
	if canceled {
		evs = append([]Event{s.eventLocked(EventPendingCanceled)}, evs...)
	}
	s.mu.Unlock()
	for _, ev := range evs {
		s.emit(ev)
	}
	return nil
}

// Restart returns to step 1 with an empty draft, no staged files and no
// flags. The verified identity is kept.
func (s *Session) Restart() error {
	s.mu.Lock()
	if err := s.usableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.cancelLocked()
	s.state = StepState{Index: 1, Flags: make(map[string]bool)}
	s.draft.Reset()
	if err := s.files.Reset(); err != nil {
		s.logger.Warn("clearing staged files", "session", s.id, "error", err)
	}
	s.auth.ResetPending()
	s.metrics.StepEntered(s.flow.Kind, s.flow.Step(1).ID)
	ev := s.eventLocked(EventRestarted)
	s.mu.Unlock()
	s.emit(ev)
	return nil
}

// cancelLocked stops a pending delay and invalidates in-flight work. It
// reports whether anything was pending.
func (s *Session) cancelLocked() bool {
	was := s.busy != notBusy
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	s.busy = notBusy
	s.label = ""
	return was
}

func (s *Session) moveLocked(delta int) {
	next := s.state.Index + delta
	if next < 1 || next > s.flow.Len() {
		return
	}
	s.state.Index = next
	s.metrics.StepEntered(s.flow.Kind, s.flow.Step(next).ID)
}

// SetFields stores draft values. Unknown names are rejected and nothing is
// stored.
func (s *Session) SetFields(values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usableLocked(); err != nil {
		return err
	}
	for name := range values {
		if !s.flow.HasField(name) {
			return fmt.Errorf("%w: %s", ErrUnknownField, name)
		}
	}
	for name, v := range values {
		if err := s.draft.Set(name, v); err != nil {
			return err
		}
	}
	return nil
}

// SetFlag sets a flag used by an offer step of the flow.
func (s *Session) SetFlag(name string, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usableLocked(); err != nil {
		return err
	}
	known := false
	for _, st := range s.flow.Steps {
		if st.Kind == flow.KindOffer && st.Flag == name {
			known = true
		}
	}
	if !known {
		return fmt.Errorf("%w: %s", ErrUnknownFlag, name)
	}
	s.state.Flags[name] = value
	return nil
}

// StageFile puts a file into a document slot.
func (s *Session) StageFile(slot, filename, contentType string, r io.Reader, size int64) (StageResult, error) {
	if err := s.usable(); err != nil {
		return StageResult{}, err
	}
	res, err := s.files.Stage(slot, filename, contentType, r, size)
	if err != nil {
		return StageResult{}, fmt.Errorf("staging %s: %w", slot, err)
	}
	return res, nil
}

// ClearFile empties a document slot.
func (s *Session) ClearFile(slot string) error {
	if err := s.usable(); err != nil {
		return err
	}
	return s.files.Clear(slot)
}

// Preview returns the preview data URL of a slot once rendered.
func (s *Session) Preview(slot string) (string, bool) {
	return s.files.Preview(slot)
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()

	step := s.flow.Step(s.state.Index)
	flags := make(map[string]bool, len(s.state.Flags))
	for k, v := range s.state.Flags {
		flags[k] = v
	}
	files := s.files.Staged()
	sort.Slice(files, func(i, j int) bool { return files[i].Slot < files[j].Slot })

	v := SessionView{
		ID:           s.id,
		Flow:         s.flow.Kind,
		Step:         s.state.Index,
		Steps:        s.flow.Len(),
		StepID:       step.ID,
		StepTitle:    step.Title,
		StepKind:     step.Kind,
		Fields:       s.draft.Values(),
		Flags:        flags,
		Files:        files,
		Pending:      s.busy == busyDelay,
		PendingLabel: s.label,
		Submitting:   s.busy == busySubmit,
		Submitted:    s.state.Submitted,
		RecordID:     s.state.RecordID,
		Auth:         AuthView{State: s.auth.State(), Phone: s.auth.Phone()},
		CanRetreat:   s.state.Index > 1 && !(s.flow.LockAfterSubmit && s.state.Submitted),
	}
	if as := s.auth.Session(); as != nil {
		v.Auth.UserID = as.UserID
	}
	return v
}

// State returns a copy of the step state.
func (s *Session) State() StepState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	st.Flags = make(map[string]bool, len(s.state.Flags))
	for k, v := range s.state.Flags {
		st.Flags[k] = v
	}
	return st
}

// Subscribe registers fn for session events. The returned func unregisters
// it. fn is called outside the session lock and must not block.
func (s *Session) Subscribe(fn func(Event)) func() {
	s.smu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.smu.Unlock()
	return func() {
		s.smu.Lock()
		delete(s.subs, id)
		s.smu.Unlock()
	}
}

// Close cancels pending work, releases staged files and the widget. Later
// calls on the session fail with ErrSessionClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.cancelLocked()
	s.closed = true
	ev := s.eventLocked(EventClosed)
	s.mu.Unlock()

	s.unwatch()
	s.auth.Close()
	err := s.files.Close()
	s.emit(ev)
	if err != nil {
		return fmt.Errorf("closing staging area: %w", err)
	}
	return nil
}

func (s *Session) usable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usableLocked()
}

func (s *Session) usableLocked() error {
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}

func (s *Session) event(t EventType) Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eventLocked(t)
}

func (s *Session) eventLocked(t EventType) Event {
	ev := Event{
		Type:      t,
		SessionID: s.id,
		Step:      s.state.Index,
		StepID:    s.flow.Step(s.state.Index).ID,
		At:        s.clock.Now(),
	}
	if t == EventPending {
		ev.Label = s.label
	}
	return ev
}

func (s *Session) emit(ev Event) {
	s.smu.Lock()
	fns := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.smu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
