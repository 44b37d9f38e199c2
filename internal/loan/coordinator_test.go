package loan_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"loanflow/internal/loan"
	"loanflow/internal/testutil"
)

type fakeNotifier struct {
	mu      sync.Mutex
	records []*loan.SubmittedRecord
	err     error
}

func (n *fakeNotifier) ApplicationSubmitted(ctx context.Context, rec *loan.SubmittedRecord) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.records = append(n.records, rec)
	return n.err
}

func stagedArea(t *testing.T, limits loan.SlotLimits, files map[string]string) loan.FileStaging {
	t.Helper()
	area := testutil.NewTestStagingArea(limits)
	t.Cleanup(func() { area.Close() })
	for slot, name := range files {
		content := "content of " + name
		res, err := area.Stage(slot, name, "image/png", strings.NewReader(content), int64(len(content)))
		if err != nil || !res.Accepted {
			t.Fatalf("Stage(%q) = %+v, %v", slot, res, err)
		}
	}
	return area
}

func verifiedUser() *loan.AuthSession {
	return &loan.AuthSession{UserID: "user-1", PhoneNumber: "+919876543210"}
}

func personalFields() map[string]string {
	return map[string]string{
		"loanAmount":               "500000",
		"tenure":                   "24",
		"monthlySalary":            "85000",
		"loanPurpose":              "Home renovation",
		"fullName":                 "Asha Verma",
		"email":                    "asha@example.com",
		"bankAccountNumber":        "1234567890",
		"confirmBankAccountNumber": "1234567890",
	}
}

var personalDocs = map[string]string{
	"aadharFront": "front.jpg",
	"aadharBack":  "back.jpg",
	"panFront":    "pan-front.jpg",
	"panBack":     "pan-back.jpg",
}

func TestCoordinator_Submit(t *testing.T) {
	e := newEnv(t)
	f := e.flow(t, "personal")
	area := stagedArea(t, f.SlotLimits(), personalDocs)

	res, err := e.coord.Submit(context.Background(), f, personalFields(), area, verifiedUser())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	rec := res.Record
	if rec.ID != res.RecordID || rec.Collection != "personalLoan" || rec.Status != loan.StatusSubmitted {
		t.Errorf("record = %+v", rec)
	}
	if rec.Fields["loanAmount"] != "500000" {
		t.Errorf("loanAmount = %q", rec.Fields["loanAmount"])
	}
	if _, ok := rec.Fields["confirmBankAccountNumber"]; ok {
		t.Error("transient field stored")
	}
	// Declared fields without a value are stored empty.
	if v, ok := rec.Fields["panNumber"]; !ok || v != "" {
		t.Errorf("panNumber = %q, %v; want stored empty", v, ok)
	}

	for slot, name := range personalDocs {
		want := "personalLoans/user-1/" + slot + "/" + name
		if rec.DocumentPaths[slot] != want {
			t.Errorf("DocumentPaths[%s] = %q, want %q", slot, rec.DocumentPaths[slot], want)
		}
		if rec.Documents[slot] != "memory://test/"+want {
			t.Errorf("Documents[%s] = %q", slot, rec.Documents[slot])
		}
		var buf bytes.Buffer
		if err := e.objects.Get(want, &buf); err != nil {
			t.Errorf("object %s: %v", want, err)
		} else if buf.String() != "content of "+name {
			t.Errorf("object %s = %q", want, buf.String())
		}
	}

	doc, err := e.docs.Get(context.Background(), "personalLoan", res.RecordID)
	if err != nil || doc == nil {
		t.Fatalf("Get() = %v, %v", doc, err)
	}
	stored := loan.RecordFromDocument(doc)
	if stored.UserID != "user-1" || stored.PhoneNumber != "+919876543210" || stored.Flow != "personal" {
		t.Errorf("stored record = %+v", stored)
	}
	if len(stored.Documents) != len(personalDocs) {
		t.Errorf("stored documents = %v", stored.Documents)
	}
}

func TestCoordinator_SubmitPreconditions(t *testing.T) {
	tests := []struct {
		name    string
		auth    *loan.AuthSession
		files   map[string]string
		wantErr error
	}{
		{"no identity", nil, personalDocs, loan.ErrIdentityMissing},
		{"empty user id", &loan.AuthSession{PhoneNumber: "+919876543210"}, personalDocs, loan.ErrIdentityMissing},
		{"missing document", verifiedUser(), map[string]string{"aadharFront": "front.jpg"}, loan.ErrDocumentMissing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			f := e.flow(t, "personal")
			area := stagedArea(t, f.SlotLimits(), tt.files)

			_, err := e.coord.Submit(context.Background(), f, personalFields(), area, tt.auth)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Submit() error = %v, want %v", err, tt.wantErr)
			}
			if ups := e.objects.Uploads(); len(ups) != 0 {
				t.Errorf("uploads = %v, want none", ups)
			}
			for _, op := range []string{"Add", "Set"} {
				if n := e.docs.Calls(op); n != 0 {
					t.Errorf("%s calls = %d, want 0", op, n)
				}
			}
		})
	}
}

func TestCoordinator_UploadFailureWritesNoRecord(t *testing.T) {
	e := newEnv(t)
	f := e.flow(t, "personal")
	area := stagedArea(t, f.SlotLimits(), personalDocs)
	e.objects.FailUploads("panBack", errors.New("network down"))

	_, err := e.coord.Submit(context.Background(), f, personalFields(), area, verifiedUser())
	if err == nil || !strings.Contains(err.Error(), "panBack") {
		t.Fatalf("Submit() error = %v, want panBack upload failure", err)
	}
	if n := e.docs.Calls("Add"); n != 0 {
		t.Errorf("Add calls = %d, want 0", n)
	}
}

func TestCoordinator_WriteFailure(t *testing.T) {
	e := newEnv(t)
	f := e.flow(t, "personal")
	area := stagedArea(t, f.SlotLimits(), personalDocs)
	e.docs.FailOn("Add", loan.ErrPermissionDenied)

	_, err := e.coord.Submit(context.Background(), f, personalFields(), area, verifiedUser())
	if !errors.Is(err, loan.ErrPermissionDenied) {
		t.Fatalf("Submit() error = %v, want ErrPermissionDenied", err)
	}
	// Uploaded objects are not rolled back.
	if got := len(e.objects.Paths()); got != len(personalDocs) {
		t.Errorf("objects = %d, want %d", got, len(personalDocs))
	}
}

func TestCoordinator_Encryption(t *testing.T) {
	enc := testutil.NewTestEncryptor()
	e := newEnvWith(t, enc, nil)
	f := e.flow(t, "personal")
	area := stagedArea(t, f.SlotLimits(), personalDocs)

	res, err := e.coord.Submit(context.Background(), f, personalFields(), area, verifiedUser())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	p := res.Record.DocumentPaths["aadharFront"]
	if p != "personalLoans/user-1/aadharFront/front.jpg"+loan.EncryptedSuffix {
		t.Fatalf("path = %q, want encrypted suffix", p)
	}
	if ct := e.objects.ContentType(p); ct != "application/octet-stream" {
		t.Errorf("content type = %q", ct)
	}

	var ciphertext bytes.Buffer
	if err := e.objects.Get(p, &ciphertext); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ciphertext.String() == "content of front.jpg" {
		t.Error("stored object is the uploaded plaintext")
	}
	dec, err := enc.Unlock("")
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	var plain bytes.Buffer
	if err := dec.Decrypt(&ciphertext, &plain); err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if plain.String() != "content of front.jpg" {
		t.Errorf("decrypted = %q", plain.String())
	}
	if enc.Encrypted() != len(personalDocs) {
		t.Errorf("Encrypted() = %d, want %d", enc.Encrypted(), len(personalDocs))
	}
}

func TestCoordinator_EncryptionFailure(t *testing.T) {
	enc := testutil.NewTestEncryptor()
	enc.FailWith(errors.New("key unavailable"))
	e := newEnvWith(t, enc, nil)
	f := e.flow(t, "personal")
	area := stagedArea(t, f.SlotLimits(), personalDocs)

	_, err := e.coord.Submit(context.Background(), f, personalFields(), area, verifiedUser())
	if err == nil || !strings.Contains(err.Error(), "key unavailable") {
		t.Fatalf("Submit() error = %v, want encryption failure", err)
	}
	if n := len(e.objects.Paths()); n != 0 {
		t.Errorf("objects = %d, want 0", n)
	}
	if n := e.docs.Calls("Add"); n != 0 {
		t.Errorf("Add calls = %d, want 0", n)
	}
}

func TestCoordinator_Notifier(t *testing.T) {
	t.Run("notified after the record is written", func(t *testing.T) {
		n := &fakeNotifier{}
		e := newEnvWith(t, nil, n)
		f := e.flow(t, "personal")
		area := stagedArea(t, f.SlotLimits(), personalDocs)

		res, err := e.coord.Submit(context.Background(), f, personalFields(), area, verifiedUser())
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		if len(n.records) != 1 || n.records[0].ID != res.RecordID {
			t.Errorf("notified records = %v", n.records)
		}
	})

	t.Run("notifier failure is only logged", func(t *testing.T) {
		n := &fakeNotifier{err: errors.New("smtp down")}
		e := newEnvWith(t, nil, n)
		f := e.flow(t, "personal")
		area := stagedArea(t, f.SlotLimits(), personalDocs)

		if _, err := e.coord.Submit(context.Background(), f, personalFields(), area, verifiedUser()); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		if !e.logger.Contains("submission notification failed") {
			t.Error("notifier failure not logged")
		}
	})
}

func TestCoordinator_ProfileTarget(t *testing.T) {
	e := newEnv(t)
	f := e.flow(t, "getstarted")
	ctx := context.Background()
	if err := e.docs.Set(ctx, loan.UsersCollection, "user-1", map[string]any{"uid": "user-1", "name": ""}, false); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	fields := map[string]string{"fullName": "Asha Verma", "email": "asha@example.com", "city": "Pune"}
	res, err := e.coord.Submit(ctx, f, fields, testutil.NewTestStagingArea(nil), verifiedUser())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if res.RecordID != "user-1" {
		t.Errorf("RecordID = %q, want user-1", res.RecordID)
	}

	doc, err := e.docs.Get(ctx, loan.UsersCollection, "user-1")
	if err != nil || doc == nil {
		t.Fatalf("Get() = %v, %v", doc, err)
	}
	if doc.Data["uid"] != "user-1" || doc.Data["fullName"] != "Asha Verma" || doc.Data["city"] != "Pune" {
		t.Errorf("profile = %v", doc.Data)
	}
	if _, ok := doc.Data["status"]; ok {
		t.Error("profile carries an application status")
	}
}

func TestCoordinator_Withdraw(t *testing.T) {
	e := newEnv(t)
	f := e.flow(t, "personal")
	area := stagedArea(t, f.SlotLimits(), personalDocs)
	ctx := context.Background()

	res, err := e.coord.Submit(ctx, f, personalFields(), area, verifiedUser())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if err := e.coord.Withdraw(ctx, f, res.RecordID); err != nil {
		t.Fatalf("Withdraw() error = %v", err)
	}
	if got := len(e.objects.Deletes()); got != len(personalDocs) {
		t.Errorf("deletes = %d, want %d", got, len(personalDocs))
	}
	if paths := e.objects.Paths(); len(paths) != 0 {
		t.Errorf("objects left = %v", paths)
	}
	doc, err := e.docs.Get(ctx, "personalLoan", res.RecordID)
	if err != nil || doc != nil {
		t.Errorf("Get() after Withdraw = %v, %v; want nil", doc, err)
	}

	if err := e.coord.Withdraw(ctx, f, "missing"); err != nil {
		t.Errorf("Withdraw(missing) error = %v", err)
	}
}

func TestObjectPath(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		want     string
	}{
		{"plain name", "front.jpg", "personalLoans/u1/aadharFront/front.jpg"},
		{"windows path", `C:\photos\front.jpg`, "personalLoans/u1/aadharFront/front.jpg"},
		{"traversal", "../../etc/passwd", "personalLoans/u1/aadharFront/passwd"},
		{"empty", "", "personalLoans/u1/aadharFront/aadharFront"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := loan.ObjectPath("personalLoans", "u1", "aadharFront", tt.filename); got != tt.want {
				t.Errorf("ObjectPath() = %q, want %q", got, tt.want)
			}
		})
	}
}
