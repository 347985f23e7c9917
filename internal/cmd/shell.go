package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Iron-Ham/camrig/internal/config"
	"github.com/Iron-Ham/camrig/internal/errors"
	"github.com/Iron-Ham/camrig/internal/orchestrator"
	"github.com/Iron-Ham/camrig/internal/session"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive capture menu",
	Long: `Run the capture menu: enter settings, load the recorders, toggle
capture on and off, save, and kill. Recorders still loaded when the shell
exits (or is interrupted) are killed and their recordings finalized.

Commands are read one per line from stdin, so the menu can also be
scripted. With the four default devices and default save directory:

  printf 's\n\n\n\n\n\n01\ntest run\n1\nl\nt\n' | camrig shell`,
	Args: cobra.NoArgs,
	RunE: runShell,
}

func init() {
	rootCmd.AddCommand(shellCmd)
}

func runShell(cmd *cobra.Command, args []string) error {
	if err := requireLinux(); err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	sh := newMenu(a.ctrl, a.cfg, cmd.InOrStdin(), cmd.OutOrStdout(), interactive)
	return sh.run(ctx)
}

const menuHelp = `  s) settings   l) load   t) toggle   k) kill
  v) save       i) status r) reset    q) exit`

// Prompt styles per controller state, used on a terminal only.
var (
	capturingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	loadedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	idleStyle      = lipgloss.NewStyle().Faint(true)
)

// menu is the line-oriented front end over a Controller. It holds no
// coordination logic of its own.
type menu struct {
	ctrl        *orchestrator.Controller
	cfg         *config.Config
	in          io.Reader
	out         io.Writer
	interactive bool

	lines  <-chan string
	params session.Params
}

func newMenu(ctrl *orchestrator.Controller, cfg *config.Config, in io.Reader, out io.Writer, interactive bool) *menu {
	return &menu{
		ctrl:        ctrl,
		cfg:         cfg,
		in:          in,
		out:         out,
		interactive: interactive,
		params:      session.Params{BasePath: cfg.Output.BasePath},
	}
}

// run reads commands until exit, end of input, or ctx is done. Loaded
// recorders are killed on the way out.
func (m *menu) run(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(m.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	m.lines = lines

	defer func() {
		out, err := m.ctrl.Shutdown(context.WithoutCancel(ctx))
		m.report(out, err)
	}()

	if m.interactive {
		fmt.Fprintln(m.out, menuHelp)
	}
	for {
		line, ok := m.ask(ctx, m.prompt())
		if !ok {
			return nil
		}
		command := strings.ToLower(strings.TrimSpace(line))
		if command == "" {
			continue
		}
		if quit := m.dispatch(ctx, command); quit {
			return nil
		}
	}
}

func (m *menu) dispatch(ctx context.Context, command string) (quit bool) {
	switch command {
	case "s", "settings":
		return !m.settings(ctx)
	case "l", "load":
		m.report(m.ctrl.Load(ctx))
	case "t", "toggle":
		m.report(m.ctrl.Toggle(ctx))
	case "k", "kill":
		m.report(m.ctrl.Kill(ctx))
	case "v", "save":
		out, err := m.ctrl.Save(ctx)
		if err == nil && len(out.Files) == 0 && len(out.Pending) == 0 {
			fmt.Fprintln(m.out, "nothing to save")
		}
		m.report(out, err)
	case "r", "reset":
		if err := m.ctrl.Reset(); err != nil {
			fmt.Fprintf(m.out, "error: %v\n", err)
		}
	case "i", "status":
		m.status()
	case "h", "help", "?":
		fmt.Fprintln(m.out, menuHelp)
	case "q", "exit", "quit":
		return true
	default:
		fmt.Fprintf(m.out, "unknown command %q (h for help)\n", command)
	}
	return false
}

// settings prompts for every session parameter and commits them. It returns
// false when input ended mid-way.
func (m *menu) settings(ctx context.Context) bool {
	if s := m.ctrl.State(); s.Loaded() {
		fmt.Fprintf(m.out, "error: recorders are %s; kill them before changing settings\n", s)
		return true
	}

	defaults := m.params.Devices
	if len(defaults) == 0 {
		defaults = m.cfg.Devices
	}
	overrides := make([]string, len(defaults))
	for i, d := range defaults {
		v, ok := m.ask(ctx, fmt.Sprintf("Device C%d [%s]: ", i+1, d))
		if !ok {
			return false
		}
		overrides[i] = v
	}

	p := session.Params{Devices: session.ResolveDevices(defaults, overrides)}
	fields := []struct {
		label string
		dst   *string
		def   string
	}{
		{"Save directory", &p.BasePath, m.params.BasePath},
		{"Sequence number", &p.SequenceNumber, m.params.SequenceNumber},
		{"Sequence name", &p.SequenceName, m.params.SequenceName},
		{"Increment", &p.Increment, m.params.Increment},
	}
	for _, f := range fields {
		v, ok := m.askDefault(ctx, f.label, f.def)
		if !ok {
			return false
		}
		*f.dst = v
	}

	sess, err := m.ctrl.Configure(p)
	if err != nil {
		fmt.Fprintf(m.out, "error: %v\n", err)
		return true
	}
	m.params = p

	fmt.Fprintf(m.out, "session %s: %d device(s), saving to %s\n", sess.Prefix, len(sess.Devices), sess.BasePath)
	for _, dev := range sess.Devices {
		fmt.Fprintf(m.out, "  %s %s -> %s\n", dev.Name(), dev.ID, sess.FileName(dev))
	}
	return true
}

func (m *menu) status() {
	fmt.Fprintf(m.out, "state: %s\n", m.ctrl.State())
	if sess := m.ctrl.Session(); sess != nil {
		fmt.Fprintf(m.out, "session: %s (%s)\n", sess.Prefix, sess.BasePath)
	}
	if n := m.ctrl.Recorders(); n > 0 {
		fmt.Fprintf(m.out, "recorders: %d (pgid %d)\n", n, m.ctrl.PGID())
	}
	if pending := m.ctrl.Pending(); len(pending) > 0 {
		fmt.Fprintf(m.out, "pending: %s\n", strings.Join(pending, ", "))
	}
}

func (m *menu) report(out orchestrator.Outcome, err error) {
	printOutcome(m.out, out)
	if err != nil {
		fmt.Fprintf(m.out, "error: %v\n", err)
		if errors.IsRetryable(err) {
			fmt.Fprintln(m.out, "  this may succeed if you try again")
		}
	}
}

// prompt shows the controller state, colored by how much is at stake.
func (m *menu) prompt() string {
	s := m.ctrl.State()
	style := idleStyle
	switch s {
	case orchestrator.LoadedCapturing:
		style = capturingStyle
	case orchestrator.LoadedIdle:
		style = loadedStyle
	}
	return fmt.Sprintf("camrig [%s]> ", style.Render(s.String()))
}

// ask prints prompt on a terminal and returns the next input line.
func (m *menu) ask(ctx context.Context, prompt string) (string, bool) {
	if m.interactive {
		fmt.Fprint(m.out, prompt)
	}
	select {
	case line, ok := <-m.lines:
		return strings.TrimSpace(line), ok
	case <-ctx.Done():
		return "", false
	}
}

// askDefault is ask with a default used for an empty answer.
func (m *menu) askDefault(ctx context.Context, label, def string) (string, bool) {
	prompt := label + ": "
	if def != "" {
		prompt = fmt.Sprintf("%s [%s]: ", label, def)
	}
	v, ok := m.ask(ctx, prompt)
	if !ok {
		return "", false
	}
	if v == "" {
		v = def
	}
	return v, true
}
