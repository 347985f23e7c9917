package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/Iron-Ham/camrig/internal/errors"
)

func validParams(base string) Params {
	return Params{
		Devices:        []string{"/dev/video1", "/dev/video2"},
		BasePath:       base,
		SequenceNumber: "01",
		SequenceName:   "test run",
		Increment:      "1",
	}
}

func TestNew(t *testing.T) {
	base := t.TempDir()

	sess, err := New(validParams(base))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	want := &Session{
		SequenceNumber: "01",
		SequenceName:   "Test Run",
		Increment:      "1",
		Prefix:         "S01_Test Run_1",
		BasePath:       base + "/",
		TmpDir:         filepath.Join(base, ".tmp"),
		Container:      "mkv",
		Devices: []Device{
			{ID: "/dev/video1", Index: 1},
			{ID: "/dev/video2", Index: 2},
		},
	}
	if diff := cmp.Diff(want, sess, cmpopts.IgnoreFields(Session{}, "ID")); diff != "" {
		t.Errorf("New() mismatch (-want +got):\n%s", diff)
	}
	if sess.ID == "" {
		t.Error("New() should assign a session ID")
	}

	if _, err := os.Stat(sess.TmpDir); !os.IsNotExist(err) {
		t.Error("New() must not create the temp dir")
	}
}

func TestNew_Paths(t *testing.T) {
	base := t.TempDir()
	p := validParams(base)
	p.Container = ".avi"
	p.TmpDirName = "work"

	sess, err := New(p)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	dev := sess.Devices[1]
	if got := dev.Name(); got != "C2" {
		t.Errorf("Name() = %q, want C2", got)
	}
	if got, want := sess.OutputPath(dev), filepath.Join(base, "work", "S01_Test Run_1_C2.avi"); got != want {
		t.Errorf("OutputPath() = %q, want %q", got, want)
	}
	if got, want := sess.FinalPath(dev), filepath.Join(base, "S01_Test Run_1_C2.avi"); got != want {
		t.Errorf("FinalPath() = %q, want %q", got, want)
	}
	if diff := cmp.Diff([]string{"C1", "C2"}, sess.DeviceNames()); diff != "" {
		t.Errorf("DeviceNames() mismatch (-want +got):\n%s", diff)
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
		field  string
	}{
		{"no devices", func(p *Params) { p.Devices = nil }, "devices"},
		{"empty device", func(p *Params) { p.Devices = []string{"/dev/video0", ""} }, "devices[1]"},
		{"empty base path", func(p *Params) { p.BasePath = "  " }, "basePath"},
		{"empty sequence number", func(p *Params) { p.SequenceNumber = "" }, "sequenceNumber"},
		{"empty sequence name", func(p *Params) { p.SequenceName = " " }, "sequenceName"},
		{"empty increment", func(p *Params) { p.Increment = "" }, "increment"},
		{"separator in name", func(p *Params) { p.SequenceName = "a/b" }, "sequenceName"},
		{"separator in increment", func(p *Params) { p.Increment = "../1" }, "increment"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams(t.TempDir())
			tt.mutate(&p)

			_, err := New(p)
			if err == nil {
				t.Fatal("New() expected error")
			}
			if !errors.Is(err, errors.ErrInvalidInput) {
				t.Errorf("errors.Is(err, ErrInvalidInput) = false for %v", err)
			}
			var verr *errors.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error type = %T, want *ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("Field = %q, want %q", verr.Field, tt.field)
			}
		})
	}
}

func TestNew_DuplicateDevicesAccepted(t *testing.T) {
	p := validParams(t.TempDir())
	p.Devices = []string{"/dev/video0", "/dev/video0"}

	sess, err := New(p)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if len(sess.Devices) != 2 {
		t.Errorf("Devices = %v, want 2 entries", sess.Devices)
	}
}

func TestTitleCase(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"test run", "Test Run"},
		{"  lots   of\tspace  ", "Lots Of Space"},
		{"ALL CAPS", "All Caps"},
		{"mIxEd", "Mixed"},
		{"take", "Take"},
	}

	for _, tt := range tests {
		if got := TitleCase(tt.input); got != tt.want {
			t.Errorf("TitleCase(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestNormalizeBasePath(t *testing.T) {
	t.Setenv("HOME", "/home/operator")

	tests := []struct {
		input string
		want  string
	}{
		{"/srv/takes", "/srv/takes/"},
		{"/srv/takes/", "/srv/takes/"},
		{"/srv//takes/../clips", "/srv/clips/"},
		{"~", "/home/operator/"},
		{"~/Videos", "/home/operator/Videos/"},
	}

	for _, tt := range tests {
		got, err := NormalizeBasePath(tt.input)
		if err != nil {
			t.Errorf("NormalizeBasePath(%q) error = %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeBasePath(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}

	t.Run("relative path becomes absolute", func(t *testing.T) {
		got, err := NormalizeBasePath("takes")
		if err != nil {
			t.Fatalf("NormalizeBasePath() error = %v", err)
		}
		if !filepath.IsAbs(got) || !strings.HasSuffix(got, "/takes/") {
			t.Errorf("NormalizeBasePath(%q) = %q", "takes", got)
		}
	})
}
