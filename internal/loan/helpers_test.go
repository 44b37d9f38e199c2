package loan_test

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"loanflow/internal/flow"
	"loanflow/internal/loan"
	"loanflow/internal/testutil"
)

const simpleFlowYAML = `
kind: simple
title: Simple Loan
collection: simpleLoans
storage_prefix: simpleLoans
max_file_size: 1024
lock_after_submit: true
steps:
  - id: details
    title: Details
    fields:
      - name: fullName
        label: Full Name
        rules:
          - {kind: required, message: Full name is required}
      - name: email
        label: Email
        rules:
          - {kind: required, message: Email is required}
          - {kind: pattern, pattern: email, message: Invalid email format}
      - name: accountNumber
        label: Account Number
        rules:
          - {kind: required, message: Account number is required}
      - name: confirmAccountNumber
        label: Confirm Account Number
        transient: true
        rules:
          - {kind: equals, field: accountNumber, message: Account numbers do not match}
  - id: checks
    title: Checks
    require_auth: true
    delay: 60s
    delay_label: Verifying Score
  - id: documents
    title: Documents
    submit: true
    slots:
      - {name: idFront, label: ID Front, message: ID front is required}
      - {name: idBack, label: ID Back, optional: true}
  - id: review
    title: Under Review
    kind: offer
    flag: fastTrack
    flag_message: Choose Fast Track to continue
  - id: done
    title: Done
    kind: terminal
`

// env bundles the collaborators of a Service wired with test doubles.
type env struct {
	clock    *testutil.StubClock
	provider *testutil.FakeIdentityProvider
	docs     *testutil.FaultyDocumentStore
	objects  *testutil.RecordingObjectStore
	logger   *testutil.RecordingLogger
	flows    *flow.Registry
	coord    *loan.Coordinator
	svc      *loan.Service
}

func parseFlow(t *testing.T, src string) *flow.Flow {
	t.Helper()
	f, err := flow.Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return f
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return newEnvWith(t, nil, nil)
}

func newEnvWith(t *testing.T, enc loan.Encryptor, notifier loan.Notifier) *env {
	t.Helper()

	builtin, err := flow.LoadBuiltin()
	if err != nil {
		t.Fatalf("LoadBuiltin() error = %v", err)
	}
	flows, err := flow.NewRegistry(append(builtin.Flows(), parseFlow(t, simpleFlowYAML))...)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	clock := testutil.FixedClock()
	e := &env{
		clock:    clock,
		provider: testutil.NewFakeIdentityProvider(),
		docs:     testutil.NewFaultyDocumentStore(testutil.NewTestDocumentStore(t, clock)),
		objects:  testutil.NewRecordingObjectStore(),
		logger:   &testutil.RecordingLogger{},
		flows:    flows,
	}
	e.coord = loan.NewCoordinator(e.objects, e.docs, enc, notifier, clock, e.logger, nil)
	e.svc = loan.NewService(flows, testutil.NewTestStagingFactory(), e.provider, e.docs, e.coord, clock, testutil.NewStubIDGenerator(), e.logger, nil, 0)
	t.Cleanup(e.svc.Shutdown)
	return e
}

func (e *env) session(t *testing.T, kind string) *loan.Session {
	t.Helper()
	sess, err := e.svc.Create(kind)
	if err != nil {
		t.Fatalf("Create(%q) error = %v", kind, err)
	}
	return sess
}

func (e *env) flow(t *testing.T, kind string) *flow.Flow {
	t.Helper()
	f, ok := e.flows.Lookup(kind)
	if !ok {
		t.Fatalf("flow %q not registered", kind)
	}
	return f
}

// verify walks the session's auth gate through a successful OTP exchange.
func verify(t *testing.T, sess *loan.Session, phone string) *loan.AuthSession {
	t.Helper()
	ctx := context.Background()
	if err := sess.Auth().RequestCode(ctx, phone); err != nil {
		t.Fatalf("RequestCode() error = %v", err)
	}
	as, err := sess.Auth().ConfirmCode(ctx, testutil.ValidCode)
	if err != nil {
		t.Fatalf("ConfirmCode() error = %v", err)
	}
	return as
}

func setFields(t *testing.T, sess *loan.Session, values map[string]string) {
	t.Helper()
	if err := sess.SetFields(values); err != nil {
		t.Fatalf("SetFields() error = %v", err)
	}
}

func stageFile(t *testing.T, sess *loan.Session, slot, name, content string) {
	t.Helper()
	res, err := sess.StageFile(slot, name, "image/jpeg", bytes.NewReader([]byte(content)), int64(len(content)))
	if err != nil {
		t.Fatalf("StageFile(%q) error = %v", slot, err)
	}
	if !res.Accepted {
		t.Fatalf("StageFile(%q) rejected: %s", slot, res.Reason)
	}
}

func advance(t *testing.T, sess *loan.Session) *loan.AdvanceResult {
	t.Helper()
	res, err := sess.Advance(context.Background())
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	return res
}

func validDetails() map[string]string {
	return map[string]string{
		"fullName":             "Asha Verma",
		"email":                "asha@example.com",
		"accountNumber":        "1234567890",
		"confirmAccountNumber": "1234567890",
	}
}

// eventRecorder collects session events.
type eventRecorder struct {
	mu     sync.Mutex
	events []loan.Event
}

func record(sess *loan.Session) *eventRecorder {
	r := &eventRecorder{}
	sess.Subscribe(func(ev loan.Event) {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
	})
	return r
}

func (r *eventRecorder) types() []loan.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]loan.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func (r *eventRecorder) last() loan.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return loan.Event{}
	}
	return r.events[len(r.events)-1]
}

func equalTypes(a, b []loan.EventType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
