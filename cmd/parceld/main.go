// Command parceld is the Parcel relay daemon: it accepts client
// connections, runs the two-party handshake on each, and fans out
// ciphertext among the current peer set, rekeying the group on every join
// and leave. It never learns the session key it helps establish.
package main

import (
	"crypto/rand"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"blitter.com/go/parcel/internal/kex"
	"blitter.com/go/parcel/internal/plog"
	"blitter.com/go/parcel/internal/relay"
	"blitter.com/go/parcel/internal/relaymetrics"
)

const (
	defaultPort    = 2315
	defaultBacklog = 32
	defaultMaxConn = 64
)

var (
	flagPort    int
	flagBacklog int
	flagMaxConn int
	flagDebug   bool
	flagMetrics string
)

func main() {
	root := &cobra.Command{
		Use:           "parceld",
		Short:         "parceld - Parcel end-to-end encrypted relay daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runDaemon,
	}
	root.Flags().IntVarP(&flagPort, "port", "p", defaultPort, "TCP port to listen on (1-65535)")
	root.Flags().IntVarP(&flagBacklog, "queue", "q", defaultBacklog, "listen() backlog; accepted but not applied, since Go's net package does not expose the backlog to callers")
	root.Flags().IntVarP(&flagMaxConn, "maxconn", "m", defaultMaxConn, "connection table size; one slot is reserved for the listener, so at most maxconn-1 clients are active")
	root.Flags().BoolVarP(&flagDebug, "debug", "d", false, "report on stderr when syslog cannot be opened")
	root.Flags().StringVar(&flagMetrics, "metrics", "", "optional address to serve Prometheus metrics on, e.g. :9315")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "parceld:", err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if flagPort < 1 || flagPort > 65535 {
		return fmt.Errorf("port must be in range 1-65535, got %d", flagPort)
	}
	if flagMaxConn < 2 {
		return fmt.Errorf("maxconn must be at least 2, got %d", flagMaxConn)
	}
	if flagMaxConn-1 > kex.MaxRingSize {
		return fmt.Errorf("maxconn %d allows %d active client slots, which exceeds the %d-peer rekey ring limit", flagMaxConn, flagMaxConn-1, kex.MaxRingSize)
	}

	initLogging(flagDebug)
	defer plog.Close() // nolint: errcheck

	var serverKey [32]byte
	if _, err := rand.Read(serverKey[:]); err != nil {
		return fmt.Errorf("generating server key: %w", err)
	}

	var metrics relay.Metrics
	if flagMetrics != "" {
		m := relaymetrics.New()
		metrics = m
		go serveMetrics(flagMetrics)
	}

	addr := fmt.Sprintf(":%d", flagPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	printBanner(addr, flagMaxConn)
	plog.Notice(fmt.Sprintf("parceld listening on %s, maxconn=%d", addr, flagMaxConn)) // nolint: errcheck

	loop := relay.NewLoop(flagMaxConn, serverKey, metrics)
	go loop.Serve(ln)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		plog.Notice("received shutdown signal, closing listener") // nolint: errcheck
		ln.Close()                                                // nolint: errcheck
		loop.Stop()
	}()

	if err := loop.Run(); err != nil {
		plog.Crit(fmt.Sprintf("fatal relay error: %v", err)) // nolint: errcheck
		return err
	}
	return nil
}

func printBanner(addr string, maxConn int) {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Padding(0, 1).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("8"))

	body := fmt.Sprintf("parceld\nlistening on %s\nmax connections: %d", addr, maxConn)
	fmt.Println(style.Render(body))
}
