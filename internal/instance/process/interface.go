package process

import (
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/Iron-Ham/camrig/internal/config"
)

// Common errors returned by handles and groups.
var (
	// ErrNotRunning is returned when a signal targets a process that already exited.
	ErrNotRunning = errors.New("process not running")

	// ErrGroupEmpty is returned when a group operation runs before any process started.
	ErrGroupEmpty = errors.New("process group has no members")
)

// Spec describes one recorder process.
type Spec struct {
	// Name labels the process in logs and errors (C1, C2, ...).
	Name string

	// Command and Args are executed directly, without a shell.
	Command string
	Args    []string

	// Env entries are appended to the inherited environment.
	Env []string

	// Dir is the working directory; empty inherits ours.
	Dir string

	// UsePTY attaches the process to a pseudo-terminal so that it
	// line-buffers its output. Otherwise stdout and stderr share a pipe.
	UsePTY bool

	// TranscriptSize bounds the raw output kept for diagnostics.
	TranscriptSize int
}

// Validate checks that the Spec can be started.
func (s *Spec) Validate() error {
	if s.Name == "" {
		return errors.New("Name is required")
	}
	if strings.TrimSpace(s.Command) == "" {
		return errors.New("Command is required")
	}
	return nil
}

// CommandLine renders the spec for logs.
func (s *Spec) CommandLine() string {
	parts := make([]string, 0, len(s.Args)+1)
	parts = append(parts, s.Command)
	for _, a := range s.Args {
		if strings.ContainsAny(a, " \t") {
			a = fmt.Sprintf("%q", a)
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

// TemplateData is what recorder and device setup argument templates see.
type TemplateData struct {
	Device     string
	Output     string
	Name       string
	Index      int
	Resolution string
	FPS        int
	Format     string
	Codec      string
}

// RenderArgs expands each argument as a text/template over data. A
// reference to an unknown field is an error.
func RenderArgs(args []string, data TemplateData) ([]string, error) {
	out := make([]string, len(args))
	for i, arg := range args {
		if !strings.Contains(arg, "{{") {
			out[i] = arg
			continue
		}
		tmpl, err := template.New("arg").Option("missingkey=error").Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		var sb strings.Builder
		if err := tmpl.Execute(&sb, data); err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out[i] = sb.String()
	}
	return out, nil
}

// RecorderSpec builds the Spec of one recorder from configuration.
func RecorderSpec(cfg config.RecorderConfig, data TemplateData) (Spec, error) {
	data.Resolution = cfg.Resolution
	data.FPS = cfg.FPS
	data.Format = cfg.Format
	data.Codec = cfg.Codec

	args, err := RenderArgs(cfg.Args, data)
	if err != nil {
		return Spec{}, fmt.Errorf("recorder args: %w", err)
	}
	return Spec{
		Name:    data.Name,
		Command: cfg.Command,
		Args:    args,
		Env:     cfg.Env,
		UsePTY:  cfg.UsePTY,
	}, nil
}
