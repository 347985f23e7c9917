package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/Iron-Ham/camrig/internal/errors"
)

// Defaults applied when Params leaves the corresponding field empty.
const (
	DefaultContainer  = "mkv"
	DefaultTmpDirName = ".tmp"
)

// Params are the operator-supplied inputs to a configure operation.
type Params struct {
	Devices        []string
	BasePath       string
	SequenceNumber string
	SequenceName   string
	Increment      string

	// Container is the output extension without the dot.
	Container string
	// TmpDirName is the working directory created under BasePath while loaded.
	TmpDirName string
}

// Device is one capture source. Index is the 1-based ordinal used in file names.
type Device struct {
	ID    string
	Index int
}

// Name returns the ordinal label used in file names and logs ("C1", "C2", ...).
func (d Device) Name() string {
	return fmt.Sprintf("C%d", d.Index)
}

// Session is a committed capture configuration. It is read-only once created.
type Session struct {
	ID             string
	SequenceNumber string
	SequenceName   string
	Increment      string
	// Prefix is S<seq>_<Title>_<inc>, shared by every file of the session.
	Prefix string
	// BasePath is absolute and ends in a path separator.
	BasePath  string
	TmpDir    string
	Container string
	Devices   []Device
}

// New validates p and derives a Session. It does not touch the filesystem.
func New(p Params) (*Session, error) {
	if err := validate(p); err != nil {
		return nil, err
	}

	base, err := NormalizeBasePath(p.BasePath)
	if err != nil {
		return nil, errors.NewValidationError("cannot resolve base path").
			WithField("basePath").
			WithValue(p.BasePath).
			WithCause(err)
	}

	container := strings.TrimPrefix(p.Container, ".")
	if container == "" {
		container = DefaultContainer
	}
	tmpName := p.TmpDirName
	if tmpName == "" {
		tmpName = DefaultTmpDirName
	}

	title := TitleCase(p.SequenceName)
	devices := make([]Device, len(p.Devices))
	for i, id := range p.Devices {
		devices[i] = Device{ID: id, Index: i + 1}
	}

	return &Session{
		ID:             uuid.New().String(),
		SequenceNumber: p.SequenceNumber,
		SequenceName:   title,
		Increment:      p.Increment,
		Prefix:         fmt.Sprintf("S%s_%s_%s", p.SequenceNumber, title, p.Increment),
		BasePath:       base,
		TmpDir:         filepath.Join(base, tmpName),
		Container:      container,
		Devices:        devices,
	}, nil
}

func validate(p Params) error {
	if len(p.Devices) == 0 {
		return errors.NewValidationError("at least one device is required").WithField("devices")
	}
	for i, id := range p.Devices {
		if strings.TrimSpace(id) == "" {
			return errors.NewValidationError("device identifier cannot be empty").
				WithField(fmt.Sprintf("devices[%d]", i)).
				WithValue(id)
		}
	}

	if strings.TrimSpace(p.BasePath) == "" {
		return errors.NewValidationError("cannot be empty").WithField("basePath").WithValue(p.BasePath)
	}

	components := []struct {
		field string
		value string
	}{
		{"sequenceNumber", p.SequenceNumber},
		{"sequenceName", p.SequenceName},
		{"increment", p.Increment},
	}
	for _, c := range components {
		if strings.TrimSpace(c.value) == "" {
			return errors.NewValidationError("cannot be empty").WithField(c.field).WithValue(c.value)
		}
		if strings.ContainsRune(c.value, filepath.Separator) {
			return errors.NewValidationError("cannot contain a path separator").WithField(c.field).WithValue(c.value)
		}
	}

	return nil
}

// TitleCase splits s on whitespace, capitalizes each word, lower-cases the
// rest of it, and joins the words with single spaces.
func TitleCase(s string) string {
	caser := cases.Title(language.Und)
	return caser.String(strings.Join(strings.Fields(s), " "))
}

// NormalizeBasePath expands a leading ~, makes path absolute and terminates
// it with a separator.
func NormalizeBasePath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if !strings.HasSuffix(abs, string(filepath.Separator)) {
		abs += string(filepath.Separator)
	}
	return abs, nil
}

// FileName returns the final file name of dev's recording.
func (s *Session) FileName(dev Device) string {
	return fmt.Sprintf("%s_%s.%s", s.Prefix, dev.Name(), s.Container)
}

// OutputPath is the path handed to dev's recorder, inside the temp dir.
func (s *Session) OutputPath(dev Device) string {
	return filepath.Join(s.TmpDir, s.FileName(dev))
}

// FinalPath is where dev's recording lives after finalize.
func (s *Session) FinalPath(dev Device) string {
	return filepath.Join(s.BasePath, s.FileName(dev))
}

// DeviceNames returns the ordinal labels of every device, in order.
func (s *Session) DeviceNames() []string {
	names := make([]string, len(s.Devices))
	for i, d := range s.Devices {
		names[i] = d.Name()
	}
	return names
}
