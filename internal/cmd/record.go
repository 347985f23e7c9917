package cmd

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Iron-Ham/camrig/internal/errors"
	"github.com/Iron-Ham/camrig/internal/orchestrator"
	"github.com/Iron-Ham/camrig/internal/session"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record one take on every camera",
	Long: `Record one take non-interactively: configure, load the recorders,
start capture on all of them, wait for --duration (or Ctrl-C), stop,
finalize the files, and kill the recorders.

Devices default to the configured list; --device overrides them by
position and an empty value keeps the default at that position:

  camrig record --seq 01 --name "test run" --inc 1 --device ,/dev/video5`,
	Args: cobra.NoArgs,
	RunE: runRecord,
}

var (
	recordDevices     []string
	recordBasePath    string
	recordSeq         string
	recordName        string
	recordInc         string
	recordDuration    time.Duration
	recordMetricsAddr string
)

func init() {
	recordCmd.Flags().StringSliceVar(&recordDevices, "device", nil, "device overrides by position (empty keeps the default)")
	recordCmd.Flags().StringVar(&recordBasePath, "base-path", "", "save directory (default from output.base_path)")
	recordCmd.Flags().StringVar(&recordSeq, "seq", "", "sequence number")
	recordCmd.Flags().StringVar(&recordName, "name", "", "sequence name")
	recordCmd.Flags().StringVar(&recordInc, "inc", "", "increment")
	recordCmd.Flags().DurationVar(&recordDuration, "duration", 0, "stop after this long (default: until interrupted)")
	recordCmd.Flags().StringVar(&recordMetricsAddr, "metrics-addr", "", "serve prometheus metrics on this address (default from metrics.listen_address)")
	rootCmd.AddCommand(recordCmd)
}

func runRecord(cmd *cobra.Command, args []string) error {
	if err := requireLinux(); err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	params := session.Params{
		Devices:        session.ResolveDevices(a.cfg.Devices, recordDevices),
		BasePath:       recordBasePath,
		SequenceNumber: recordSeq,
		SequenceName:   recordName,
		Increment:      recordInc,
	}
	addr := recordMetricsAddr
	if addr == "" {
		addr = a.cfg.Metrics.ListenAddress
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	if addr != "" {
		bound, err := serveMetrics(gctx, g, addr, a.registry)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Metrics on http://%s/metrics\n", bound)
	}
	g.Go(func() error {
		// Recording ends the metrics server too.
		defer cancel()
		return runRecording(gctx, a.ctrl, params, recordDuration, cmd.OutOrStdout())
	})

	return g.Wait()
}

// serveMetrics binds addr and serves /metrics in g until ctx is done. It
// returns the bound address, which differs from addr when addr asks for
// port 0.
func serveMetrics(ctx context.Context, g *errgroup.Group, addr string, reg *prometheus.Registry) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics server: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return ln.Addr(), nil
}

// runRecording takes one recording. Once the recorders are loaded they are
// always killed before it returns, even when ctx is canceled mid-capture.
func runRecording(ctx context.Context, ctrl *orchestrator.Controller, params session.Params, duration time.Duration, w io.Writer) (err error) {
	sess, err := ctrl.Configure(params)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Session %s: %d device(s), saving to %s\n", sess.Prefix, len(sess.Devices), sess.BasePath)

	load, err := ctrl.Load(ctx)
	printOutcome(w, load)
	if err != nil {
		return err
	}
	defer func() {
		kill, killErr := ctrl.Shutdown(context.Background())
		printOutcome(w, kill)
		if err == nil {
			err = killErr
		}
	}()

	start, err := ctrl.Toggle(ctx)
	printOutcome(w, start)
	if err != nil {
		return err
	}

	if duration > 0 {
		fmt.Fprintf(w, "Recording for %s...\n", duration)
		timer := time.NewTimer(duration)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
		}
	} else {
		fmt.Fprintln(w, "Recording... press Ctrl-C to stop")
		<-ctx.Done()
	}

	// ctx may be done already; the stop must still reach every recorder.
	stopped, err := ctrl.Toggle(context.WithoutCancel(ctx))
	printOutcome(w, stopped)
	return err
}
