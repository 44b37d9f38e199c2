package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"loanflow/internal/flow"
	"loanflow/internal/loan"
	"loanflow/internal/metrics"
	"loanflow/internal/testutil"
)

type testServer struct {
	*httptest.Server
	svc      *loan.Service
	provider *testutil.FakeIdentityProvider
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	flows, err := flow.LoadBuiltin()
	if err != nil {
		t.Fatalf("LoadBuiltin() error = %v", err)
	}
	clock := testutil.FixedClock()
	docs := testutil.NewTestDocumentStore(t, clock)
	provider := testutil.NewFakeIdentityProvider()
	m := metrics.New()
	logger := loan.NewNopLogger()

	coord := loan.NewCoordinator(testutil.NewRecordingObjectStore(), docs, nil, nil, clock, logger, m)
	svc := loan.NewService(flows, testutil.NewTestStagingFactory(), provider, docs, coord, clock, testutil.NewStubIDGenerator(), logger, m, 0)
	t.Cleanup(svc.Shutdown)

	ts := httptest.NewServer(New(svc, logger, m, Options{}))
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, svc: svc, provider: provider}
}

// sessionBody is the subset of a session view the tests look at.
type sessionBody struct {
	ID     string            `json:"id"`
	Flow   string            `json:"flow"`
	Step   int               `json:"step"`
	StepID string            `json:"stepId"`
	Fields map[string]string `json:"fields"`
	Files  []loan.StagedFile `json:"files"`
	Auth   struct {
		State  string `json:"state"`
		Phone  string `json:"phone"`
		UserID string `json:"userId"`
	} `json:"auth"`
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, path, err)
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return resp.StatusCode, out
}

func decode[T any](t *testing.T, b []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		t.Fatalf("decoding %s: %v", b, err)
	}
	return v
}

func (ts *testServer) create(t *testing.T, kind string) sessionBody {
	t.Helper()
	status, body := ts.do(t, http.MethodPost, "/api/v1/sessions", map[string]string{"flow": kind})
	if status != http.StatusCreated {
		t.Fatalf("create session status = %d, body %s", status, body)
	}
	return decode[sessionBody](t, body)
}

func (ts *testServer) upload(t *testing.T, id, slot, filename string, content []byte) (int, []byte) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	part.Write(content)
	mw.Close()

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/v1/sessions/"+id+"/files/"+slot, &buf)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload error = %v", err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out
}

func TestServer_HealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(t, http.MethodGet, "/healthz", nil)
	if status != http.StatusOK || !strings.Contains(string(body), `"ok"`) {
		t.Fatalf("healthz = %d %s", status, body)
	}

	status, body = ts.do(t, http.MethodGet, "/metrics", nil)
	if status != http.StatusOK {
		t.Fatalf("metrics status = %d", status)
	}
	if !strings.Contains(string(body), `loanflow_http_requests_total{method="GET",route="/healthz",status="200"} 1`) {
		t.Errorf("metrics output missing healthz request:\n%s", body)
	}
}

func TestServer_Flows(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(t, http.MethodGet, "/api/v1/flows", nil)
	if status != http.StatusOK {
		t.Fatalf("list flows status = %d", status)
	}
	flows := decode[[]FlowSummary](t, body)
	kinds := make(map[string]int)
	for _, f := range flows {
		kinds[f.Kind] = len(f.Steps)
	}
	if kinds["personal"] != 6 || kinds["business"] != 5 || kinds["login"] != 3 {
		t.Errorf("flows = %v", kinds)
	}

	status, body = ts.do(t, http.MethodGet, "/api/v1/flows/business", nil)
	if status != http.StatusOK || !strings.Contains(string(body), "Verifying CIBIL Score") {
		t.Errorf("get flow = %d %s", status, body)
	}
	if status, _ := ts.do(t, http.MethodGet, "/api/v1/flows/mortgage", nil); status != http.StatusNotFound {
		t.Errorf("unknown flow status = %d, want 404", status)
	}
}

func TestServer_SessionLifecycle(t *testing.T) {
	ts := newTestServer(t)

	if status, _ := ts.do(t, http.MethodPost, "/api/v1/sessions", map[string]string{"flow": "mortgage"}); status != http.StatusNotFound {
		t.Errorf("create unknown flow status = %d, want 404", status)
	}

	sess := ts.create(t, "personal")
	if sess.Flow != "personal" || sess.Step != 1 || sess.StepID != "loan-details" {
		t.Fatalf("created session = %+v", sess)
	}
	base := "/api/v1/sessions/" + sess.ID

	status, body := ts.do(t, http.MethodPost, base+"/advance", nil)
	if status != http.StatusOK {
		t.Fatalf("advance status = %d %s", status, body)
	}
	adv := decode[struct {
		Result  loan.AdvanceResult `json:"result"`
		Session sessionBody        `json:"session"`
	}](t, body)
	if adv.Result.Errors["loanAmount"] != "Please enter a valid loan amount" || adv.Session.Step != 1 {
		t.Errorf("advance = %+v", adv)
	}

	status, body = ts.do(t, http.MethodPatch, base+"/fields", map[string]string{"nickname": "x"})
	if status != http.StatusBadRequest {
		t.Errorf("unknown field status = %d %s", status, body)
	}

	status, body = ts.do(t, http.MethodPatch, base+"/fields", map[string]string{
		"loanAmount":    "250000",
		"tenure":        "12",
		"monthlySalary": "60000",
		"loanPurpose":   "Education",
	})
	if status != http.StatusOK {
		t.Fatalf("set fields status = %d %s", status, body)
	}
	if got := decode[sessionBody](t, body).Fields["loanAmount"]; got != "250000" {
		t.Errorf("loanAmount = %q", got)
	}

	status, body = ts.do(t, http.MethodPost, base+"/advance", nil)
	if status != http.StatusOK {
		t.Fatalf("advance status = %d %s", status, body)
	}
	if got := decode[struct {
		Session sessionBody `json:"session"`
	}](t, body).Session.StepID; got != "personal-details" {
		t.Errorf("step after advance = %q", got)
	}

	status, body = ts.do(t, http.MethodPost, base+"/retreat", nil)
	if status != http.StatusOK || decode[sessionBody](t, body).Step != 1 {
		t.Errorf("retreat = %d %s", status, body)
	}
	status, body = ts.do(t, http.MethodPost, base+"/retreat", nil)
	if status != http.StatusConflict {
		t.Errorf("retreat on first step status = %d, want 409", status)
	}
	if e := decode[ErrorResponse](t, body); e.Message != "You are already on the first step." {
		t.Errorf("error message = %q", e.Message)
	}

	status, body = ts.do(t, http.MethodPost, base+"/restart", nil)
	if status != http.StatusOK || decode[sessionBody](t, body).Fields["loanAmount"] != "" {
		t.Errorf("restart = %d %s", status, body)
	}

	if status, _ := ts.do(t, http.MethodDelete, base, nil); status != http.StatusNoContent {
		t.Errorf("close status = %d", status)
	}
	status, body = ts.do(t, http.MethodGet, base, nil)
	if status != http.StatusNotFound {
		t.Errorf("get closed session status = %d", status)
	}
	if e := decode[ErrorResponse](t, body); e.Message != "Your session has expired. Please start again." {
		t.Errorf("error message = %q", e.Message)
	}
}

func TestServer_Files(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.create(t, "personal")
	base := "/api/v1/sessions/" + sess.ID

	status, body := ts.upload(t, sess.ID, "aadharFront", "front.jpg", []byte("jpeg bytes"))
	if status != http.StatusOK {
		t.Fatalf("upload status = %d %s", status, body)
	}
	staged := decode[struct {
		Accepted bool        `json:"accepted"`
		Session  sessionBody `json:"session"`
	}](t, body)
	if !staged.Accepted || len(staged.Session.Files) != 1 || staged.Session.Files[0].Filename != "front.jpg" {
		t.Errorf("upload = %+v", staged)
	}

	var preview PreviewResponse
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, body := ts.do(t, http.MethodGet, base+"/files/aadharFront/preview", nil)
		preview = decode[PreviewResponse](t, body)
		if preview.Ready {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !preview.Ready || !strings.HasPrefix(preview.URL, "data:") {
		t.Errorf("preview = %+v, want a data URL", preview)
	}

	big := bytes.Repeat([]byte("x"), 2*1024*1024+1)
	status, body = ts.upload(t, sess.ID, "aadharBack", "back.jpg", big)
	if status != http.StatusUnprocessableEntity {
		t.Errorf("oversized upload status = %d, want 422", status)
	}
	if r := decode[loan.StageResult](t, body); r.Accepted || r.Reason != "File size must be less than 2MB" {
		t.Errorf("oversized upload = %+v", r)
	}

	if status, _ := ts.upload(t, sess.ID, "passport", "p.jpg", []byte("x")); status != http.StatusUnprocessableEntity {
		t.Errorf("unknown slot status = %d, want 422", status)
	}

	if status, _ := ts.do(t, http.MethodDelete, base+"/files/aadharFront", nil); status != http.StatusNoContent {
		t.Errorf("clear file status = %d", status)
	}
	_, body = ts.do(t, http.MethodGet, base, nil)
	if files := decode[sessionBody](t, body).Files; len(files) != 0 {
		t.Errorf("files after clear = %v", files)
	}
}

func TestServer_Auth(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.create(t, "getstarted")
	base := "/api/v1/sessions/" + sess.ID

	status, body := ts.do(t, http.MethodPost, base+"/auth/widget", nil)
	if status != http.StatusOK || decode[WidgetResponse](t, body).WidgetID == "" {
		t.Fatalf("widget = %d %s", status, body)
	}

	status, body = ts.do(t, http.MethodPost, base+"/auth/code", map[string]string{"phoneNumber": "12345"})
	if status != http.StatusBadRequest {
		t.Errorf("invalid phone status = %d", status)
	}
	if e := decode[ErrorResponse](t, body); e.Message != "Please enter a valid 10-digit mobile number." {
		t.Errorf("error message = %q", e.Message)
	}

	status, body = ts.do(t, http.MethodPost, base+"/auth/confirm", map[string]string{"code": "123456"})
	if status != http.StatusConflict {
		t.Errorf("confirm before request status = %d %s", status, body)
	}

	status, body = ts.do(t, http.MethodPost, base+"/auth/code", map[string]string{"phoneNumber": "9876543210"})
	if status != http.StatusOK {
		t.Fatalf("request code status = %d %s", status, body)
	}
	if v := decode[sessionBody](t, body); v.Auth.State != "otp-sent" || v.Auth.Phone != "+919876543210" {
		t.Errorf("auth = %+v", v.Auth)
	}

	if status, _ := ts.do(t, http.MethodPost, base+"/auth/confirm", map[string]string{"code": "12345"}); status != http.StatusBadRequest {
		t.Errorf("short code status = %d", status)
	}
	if n := ts.provider.Confirms(); n != 0 {
		t.Errorf("provider confirms = %d, want 0", n)
	}

	status, body = ts.do(t, http.MethodPost, base+"/auth/confirm", map[string]string{"code": testutil.ValidCode})
	if status != http.StatusOK {
		t.Fatalf("confirm status = %d %s", status, body)
	}
	if c := decode[ConfirmResponse](t, body); c.UserID != testutil.UserIDFor("+919876543210") || c.IDToken == "" {
		t.Errorf("confirm = %+v", c)
	}

	if status, _ := ts.do(t, http.MethodPost, base+"/auth/signout", nil); status != http.StatusNoContent {
		t.Errorf("signout status = %d", status)
	}
	_, body = ts.do(t, http.MethodGet, base, nil)
	if v := decode[sessionBody](t, body); v.Auth.State != "phone-entry" {
		t.Errorf("auth after signout = %+v", v.Auth)
	}
}

func TestServer_Events(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.create(t, "login")
	base := "/api/v1/sessions/" + sess.ID

	// The phone must be registered for the login flow.
	gs := ts.create(t, "getstarted")
	ts.do(t, http.MethodPost, "/api/v1/sessions/"+gs.ID+"/auth/code", map[string]string{"phoneNumber": "9876543210"})
	ts.do(t, http.MethodPost, "/api/v1/sessions/"+gs.ID+"/auth/confirm", map[string]string{"code": testutil.ValidCode})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + base + "/events"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	resp.Body.Close()
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var ev loan.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if ev.Type != loan.EventStepChanged || ev.StepID != "phone" {
		t.Fatalf("initial event = %+v", ev)
	}

	if status, body := ts.do(t, http.MethodPost, base+"/auth/code", map[string]string{"phoneNumber": "9876543210"}); status != http.StatusOK {
		t.Fatalf("request code = %d %s", status, body)
	}
	if status, body := ts.do(t, http.MethodPost, base+"/advance", nil); status != http.StatusOK {
		t.Fatalf("advance = %d %s", status, body)
	}
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if ev.Type != loan.EventStepChanged || ev.StepID != "otp" {
		t.Errorf("event = %+v, want step_changed to otp", ev)
	}

	ts.do(t, http.MethodPost, base+"/auth/confirm", map[string]string{"code": testutil.ValidCode})
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if ev.Type != loan.EventAuthChanged {
		t.Errorf("event = %+v, want auth_changed", ev)
	}

	ts.do(t, http.MethodDelete, base, nil)
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if ev.Type != loan.EventClosed {
		t.Errorf("event = %+v, want closed", ev)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{loan.ErrSessionNotFound, http.StatusNotFound},
		{fmt.Errorf("confirming code: %w", loan.ErrInvalidCode), http.StatusBadRequest},
		{loan.ErrBusy, http.StatusConflict},
		{loan.ErrIdentityMissing, http.StatusUnauthorized},
		{fmt.Errorf("sending code: %w", loan.ErrTooManyRequests), http.StatusTooManyRequests},
		{fmt.Errorf("confirming code: %w", loan.ErrChallengeExpired), http.StatusGone},
		{fmt.Errorf("%w: %w", loan.ErrLookupFailed, errors.New("offline")), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor() = %d, want %d", got, tt.want)
			}
		})
	}
}
