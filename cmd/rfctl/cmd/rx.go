package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/fieldwave/rfplane/internal/telemetry"
	"github.com/fieldwave/rfplane/pkg/rf"
	"github.com/fieldwave/rfplane/pkg/rxstream"
	"github.com/fieldwave/rfplane/pkg/xport"
)

func init() {
	rootCmd.AddCommand(rxCmd)
	rxCmd.Flags().Uint64("uid", 1, "Card UID")
	rxCmd.Flags().StringP("kind", "k", "", "Transport kind (default: config transport)")
	rxCmd.Flags().String("handles", "RxA1", "Comma-separated receive handles")
	rxCmd.Flags().String("trigger", "immediate", "Start trigger: immediate, pps, synced")
	rxCmd.Flags().String("mode", "high-tput", "Stream mode: high-tput, low-latency, balanced")
	rxCmd.Flags().Uint32("rate", 1_000_000, "Sample rate per handle (samples/s)")
	rxCmd.Flags().Int("count", 0, "Stop after this many blocks (0: run until interrupted)")
	rxCmd.Flags().Int32("timeout", 100_000, "Per-poll wait in microseconds")
	rxCmd.Flags().String("metrics-listen", "", "Serve Prometheus metrics on this address while streaming")
}

var rxCmd = &cobra.Command{
	Use:   "rx",
	Short: "Stream receive blocks from a card",
	Long: `Initialize a card, start receive streaming on the given handles, and
poll blocks until the count is reached or the process is interrupted.

With --metrics-listen the streaming counters are served as Prometheus
metrics for the duration of the run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		uid, _ := cmd.Flags().GetUint64("uid")
		kindName, _ := cmd.Flags().GetString("kind")
		handlesArg, _ := cmd.Flags().GetString("handles")
		triggerArg, _ := cmd.Flags().GetString("trigger")
		modeArg, _ := cmd.Flags().GetString("mode")
		rate, _ := cmd.Flags().GetUint32("rate")
		count, _ := cmd.Flags().GetInt("count")
		timeoutUS, _ := cmd.Flags().GetInt32("timeout")
		metricsListen, _ := cmd.Flags().GetString("metrics-listen")
		if metricsListen == "" {
			metricsListen = cfg.MetricsListen
		}

		if kindName == "" {
			kindName = cfg.Transport
		}
		kind, err := parseKind(kindName)
		if err != nil {
			return err
		}
		handles, err := parseRxHandles(handlesArg)
		if err != nil {
			return err
		}
		trigger, err := parseTrigger(triggerArg)
		if err != nil {
			return err
		}
		mode, err := parseStreamMode(modeArg)
		if err != nil {
			return err
		}
		if !rf.ValidRxTimeout(timeoutUS) {
			return fmt.Errorf("timeout %d us out of range", timeoutUS)
		}

		c, err := manager.InitCard(kind, xport.UID(uid), rf.LevelFull)
		if err != nil {
			return err
		}
		defer manager.ExitCard(kind, xport.UID(uid))

		for _, h := range handles {
			if err := c.Rx.Configure(h, rxstream.Config{Mode: mode, SampleRate: rate}); err != nil {
				return err
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if metricsListen != "" {
			shutdown, err := serveMetrics(metricsListen)
			if err != nil {
				return err
			}
			defer shutdown()
		}

		if trigger == rf.TriggerOnPPS && simBackend != nil {
			// The simulated card has no PPS input wire; fire the edge
			// shortly after the wait begins.
			simBackend.OnCall("card.pps", func() {
				go func() {
					time.Sleep(100 * time.Millisecond)
					simBackend.FirePPS()
				}()
			})
		}

		if err := c.Rx.StartMulti(handles, trigger, 0); err != nil {
			return err
		}
		defer func() {
			for _, h := range handles {
				c.Rx.StopFinal(h)
			}
		}()

		if simBackend != nil {
			go feedSim(ctx, handles)
		}

		fmt.Fprintf(os.Stderr, "streaming on %d handle(s), interrupt to stop\n", len(handles))
		received := 0
		for ctx.Err() == nil && (count == 0 || received < count) {
			res, err := c.Rx.Receive(timeoutUS)
			if err != nil {
				return err
			}
			switch res.Status {
			case rf.RxSuccess:
				received++
				fmt.Printf("%s ts=%d bytes=%d\n", res.Handle, res.Timestamp, len(res.Data))
			case rf.RxOverrun:
				fmt.Fprintln(os.Stderr, "overrun")
			}
		}

		for _, h := range handles {
			s := c.Rx.Stats(h)
			fmt.Fprintf(os.Stderr, "%s: blocks=%d overruns=%d\n", h, s.Blocks, s.Overruns)
		}
		return nil
	},
}

// feedSim produces synthetic receive blocks on the simulated transport.
func feedSim(ctx context.Context, handles []rf.RxHandle) {
	interval := time.Duration(cfg.Sim.FeedIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var ts rf.Timestamp
	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h := handles[i%len(handles)]
			data := make([]byte, simBackend.RxBlockSize())
			simBackend.EnqueueRxBlock(h, ts, data)
			ts += rf.Timestamp(len(data) / 4)
		}
	}
}

// serveMetrics starts the Prometheus endpoint and returns its shutdown
// function.
func serveMetrics(addr string) (func(), error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(telemetry.NewCollector(manager))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case err := <-errCh:
		return nil, fmt.Errorf("metrics listener: %w", err)
	case <-time.After(50 * time.Millisecond):
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}, nil
}
