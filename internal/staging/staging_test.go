package staging

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"loanflow/internal/config"
	"loanflow/internal/loan"
)

var testLimits = loan.SlotLimits{
	"aadharFront": 2 * 1024 * 1024,
	"aadharBack":  2 * 1024 * 1024,
	"selfie":      0,
}

// newTestAreas returns one area per backend so every behavior is checked
// against both stores.
func newTestAreas(t *testing.T, maxSize int64) map[string]loan.FileStaging {
	t.Helper()
	fsArea, err := NewFileSystemStagingArea(t.TempDir(), "session-1", testLimits, maxSize)
	if err != nil {
		t.Fatalf("NewFileSystemStagingArea() error = %v", err)
	}
	areas := map[string]loan.FileStaging{
		"memory":     NewMemoryStagingArea(testLimits, maxSize),
		"filesystem": fsArea,
	}
	for _, a := range areas {
		t.Cleanup(func() { a.Close() })
	}
	return areas
}

func stage(t *testing.T, a loan.FileStaging, slot, name string, content []byte) loan.StageResult {
	t.Helper()
	res, err := a.Stage(slot, name, "image/jpeg", bytes.NewReader(content), int64(len(content)))
	if err != nil {
		t.Fatalf("Stage(%s) error = %v", slot, err)
	}
	return res
}

func waitPreview(t *testing.T, a loan.FileStaging, slot string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if url, ok := a.Preview(slot); ok {
			return url
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("preview for %s never became ready", slot)
	return ""
}

func TestStagingArea_Stage(t *testing.T) {
	for name, a := range newTestAreas(t, DefaultMaxSize) {
		t.Run(name, func(t *testing.T) {
			res := stage(t, a, "aadharFront", "front.jpg", []byte("front-bytes"))
			if !res.Accepted {
				t.Fatalf("Stage() rejected: %s", res.Reason)
			}

			staged := a.Staged()
			if len(staged) != 1 {
				t.Fatalf("Staged() = %v, want 1 file", staged)
			}
			if staged[0].Filename != "front.jpg" || staged[0].Size != int64(len("front-bytes")) {
				t.Errorf("Staged()[0] = %+v", staged[0])
			}

			rc, meta, err := a.Open("aadharFront")
			if err != nil || rc == nil {
				t.Fatalf("Open() = %v, %v", rc, err)
			}
			defer rc.Close()
			got, _ := io.ReadAll(rc)
			if string(got) != "front-bytes" || meta.ContentType != "image/jpeg" {
				t.Errorf("Open() content = %q, type = %q", got, meta.ContentType)
			}
		})
	}
}

func TestStagingArea_Rejections(t *testing.T) {
	for name, a := range newTestAreas(t, DefaultMaxSize) {
		t.Run(name, func(t *testing.T) {
			res := stage(t, a, "passport", "p.jpg", []byte("x"))
			if res.Accepted || !strings.Contains(res.Reason, "Unknown document type") {
				t.Errorf("unknown slot: %+v", res)
			}

			big := bytes.Repeat([]byte("a"), 2*1024*1024+1)
			res = stage(t, a, "aadharFront", "big.jpg", big)
			if res.Accepted || res.Reason != "File size must be less than 2MB" {
				t.Errorf("oversized: %+v", res)
			}

			// Understated size is caught while reading.
			res, err := a.Stage("aadharBack", "big.jpg", "image/jpeg", bytes.NewReader(big), 10)
			if err != nil {
				t.Fatalf("Stage() error = %v", err)
			}
			if res.Accepted {
				t.Error("understated oversized file was accepted")
			}

			if len(a.Staged()) != 0 {
				t.Errorf("Staged() = %v, want empty after rejections", a.Staged())
			}
		})
	}
}

func TestStagingArea_UnboundedSlot(t *testing.T) {
	for name, a := range newTestAreas(t, DefaultMaxSize) {
		t.Run(name, func(t *testing.T) {
			content := bytes.Repeat([]byte("s"), 3*1024*1024)
			if res := stage(t, a, "selfie", "me.png", content); !res.Accepted {
				t.Errorf("Stage() rejected unbounded slot: %s", res.Reason)
			}
		})
	}
}

func TestStagingArea_TotalSizeLimit(t *testing.T) {
	for name, a := range newTestAreas(t, 10) {
		t.Run(name, func(t *testing.T) {
			if res := stage(t, a, "aadharFront", "a", []byte("123456")); !res.Accepted {
				t.Fatalf("first file rejected: %s", res.Reason)
			}
			if res := stage(t, a, "aadharBack", "b", []byte("123456")); res.Accepted {
				t.Error("second file accepted past the total limit")
			}
			// Replacing a slot only counts the new content.
			if res := stage(t, a, "aadharFront", "a2", []byte("1234567890")); !res.Accepted {
				t.Errorf("replacement rejected: %s", res.Reason)
			}
		})
	}
}

func TestStagingArea_ReplaceAndClear(t *testing.T) {
	for name, a := range newTestAreas(t, DefaultMaxSize) {
		t.Run(name, func(t *testing.T) {
			stage(t, a, "aadharFront", "one.jpg", []byte("one"))
			stage(t, a, "aadharFront", "two.jpg", []byte("two"))

			staged := a.Staged()
			if len(staged) != 1 || staged[0].Filename != "two.jpg" {
				t.Fatalf("Staged() = %v, want only two.jpg", staged)
			}
			if url := waitPreview(t, a, "aadharFront"); url != "data:image/jpeg;base64,dHdv" {
				t.Errorf("Preview() = %q", url)
			}

			if err := a.Clear("aadharFront"); err != nil {
				t.Fatalf("Clear() error = %v", err)
			}
			if _, ok := a.Preview("aadharFront"); ok {
				t.Error("preview survived Clear")
			}
			rc, _, err := a.Open("aadharFront")
			if err != nil || rc != nil {
				t.Errorf("Open() after Clear = %v, %v; want nil, nil", rc, err)
			}
		})
	}
}

func TestStagingArea_RejectedReplacementKeepsFile(t *testing.T) {
	limits := loan.SlotLimits{"aadharFront": 16, "aadharBack": 16}
	fsArea, err := NewFileSystemStagingArea(t.TempDir(), "session-1", limits, 24)
	if err != nil {
		t.Fatal(err)
	}
	areas := map[string]loan.FileStaging{
		"memory":     NewMemoryStagingArea(limits, 24),
		"filesystem": fsArea,
	}

	tests := []struct {
		name       string
		content    []byte
		size       int64
		wantReason string
		wantErr    bool
	}{
		{
			name:       "over slot limit with unknown size",
			content:    bytes.Repeat([]byte("x"), 64),
			size:       -1,
			wantReason: "File size must be less than 16 bytes",
		},
		{
			name:    "size mismatch",
			content: []byte("short"),
			size:    9,
			wantErr: true,
		},
		{
			name:       "over total with unknown size",
			content:    bytes.Repeat([]byte("y"), 15),
			size:       -1,
			wantReason: "Too many files uploaded; remove one and try again",
		},
	}

	for name, a := range areas {
		t.Run(name, func(t *testing.T) {
			defer a.Close()
			if res := stage(t, a, "aadharFront", "small.jpg", []byte("small")); !res.Accepted {
				t.Fatalf("first file rejected: %s", res.Reason)
			}
			if res := stage(t, a, "aadharBack", "back.jpg", bytes.Repeat([]byte("b"), 12)); !res.Accepted {
				t.Fatalf("back file rejected: %s", res.Reason)
			}
			waitPreview(t, a, "aadharFront")

			for _, tt := range tests {
				res, err := a.Stage("aadharFront", "new.jpg", "image/jpeg", bytes.NewReader(tt.content), tt.size)
				if (err != nil) != tt.wantErr {
					t.Fatalf("%s: Stage() error = %v, wantErr %v", tt.name, err, tt.wantErr)
				}
				if res.Accepted || res.Reason != tt.wantReason {
					t.Errorf("%s: Stage() = %+v, want reason %q", tt.name, res, tt.wantReason)
				}

				rc, meta, err := a.Open("aadharFront")
				if err != nil || rc == nil {
					t.Fatalf("%s: Open() = %v, %v; want the earlier file", tt.name, rc, err)
				}
				got, _ := io.ReadAll(rc)
				rc.Close()
				if string(got) != "small" || meta.Filename != "small.jpg" {
					t.Errorf("%s: slot holds %q (%s), want small.jpg", tt.name, got, meta.Filename)
				}
				if _, ok := a.Preview("aadharFront"); !ok {
					t.Errorf("%s: preview dropped", tt.name)
				}
			}
			if staged := a.Staged(); len(staged) != 2 {
				t.Errorf("Staged() = %v, want 2 files", staged)
			}
		})
	}
}

func TestStagingArea_Reset(t *testing.T) {
	for name, a := range newTestAreas(t, DefaultMaxSize) {
		t.Run(name, func(t *testing.T) {
			stage(t, a, "aadharFront", "f.jpg", []byte("f"))
			stage(t, a, "aadharBack", "b.jpg", []byte("b"))
			if err := a.Reset(); err != nil {
				t.Fatalf("Reset() error = %v", err)
			}
			if len(a.Staged()) != 0 {
				t.Errorf("Staged() = %v after Reset", a.Staged())
			}
			if res := stage(t, a, "aadharFront", "again.jpg", []byte("again")); !res.Accepted {
				t.Errorf("Stage() after Reset rejected: %s", res.Reason)
			}
		})
	}
}

func TestStagingArea_PreviewDroppedForStaleVersion(t *testing.T) {
	a := newStagingArea(newMemoryStore(), testLimits, DefaultMaxSize)
	a.mu.Lock()
	v := a.dropLocked("aadharFront")
	a.mu.Unlock()

	pending, err := a.store.Write(loan.StagedFile{Slot: "aadharFront", ContentType: "image/png"}, strings.NewReader("x"))
	if err != nil {
		t.Fatal(err)
	}
	if err := pending.Commit(); err != nil {
		t.Fatal(err)
	}
	a.mu.Lock()
	a.dropLocked("aadharFront")
	a.mu.Unlock()

	a.wg.Add(1)
	a.renderPreview("aadharFront", v)
	if _, ok := a.Preview("aadharFront"); ok {
		t.Error("preview of a superseded version was kept")
	}
}

func TestFileSystemStagingArea_CloseRemovesDirectory(t *testing.T) {
	root := t.TempDir()
	a, err := NewFileSystemStagingArea(root, "s-1", testLimits, DefaultMaxSize)
	if err != nil {
		t.Fatal(err)
	}
	stage(t, a, "aadharFront", "f.jpg", []byte("content"))
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "s-1")); !os.IsNotExist(err) {
		t.Errorf("session directory still exists: %v", err)
	}
}

func TestNewFactoryFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		typ     string
		dir     string
		wantErr bool
	}{
		{name: "memory", typ: "memory"},
		{name: "filesystem", typ: "filesystem", dir: t.TempDir()},
		{name: "filesystem without dir", typ: "filesystem", wantErr: true},
		{name: "unknown", typ: "tape", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewFactoryFromConfig(config.StagingConfig{Type: tt.typ, StagingDir: tt.dir})
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			a, err := f.NewArea("s-1", testLimits)
			if err != nil {
				t.Fatalf("NewArea() error = %v", err)
			}
			a.Close()
		})
	}
}
