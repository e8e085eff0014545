// Command parcel is the Parcel chat client: it dials a parceld relay, runs
// the two-party handshake, and hands the connection to a two-goroutine
// session that encrypts/decrypts with whatever session key the daemon's
// most recent group rekey produced.
package main

import (
	"fmt"
	"os"
	"os/user"
	"strings"

	"github.com/spf13/cobra"

	"blitter.com/go/parcel/internal/chatclient"
	"blitter.com/go/parcel/internal/plog"
)

const (
	defaultPort         = 2315
	addressMaxLength    = 256
	usernameMaxLength   = 32
	minArgsBeforePrompt = 5 // argv[0] + up to two "-flag value" pairs
)

var (
	flagAddr     string
	flagPort     int
	flagUsername string
	flagLogin    bool
	flagDebug    bool
)

func main() {
	root := &cobra.Command{
		Use:           "parcel",
		Short:         "parcel - Parcel end-to-end encrypted chat client",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runClient,
	}
	root.Flags().StringVarP(&flagAddr, "addr", "a", "", "relay daemon address (host or host:port)")
	root.Flags().IntVarP(&flagPort, "port", "p", defaultPort, "relay daemon TCP port")
	root.Flags().StringVarP(&flagUsername, "username", "u", "", "display username")
	root.Flags().BoolVarP(&flagLogin, "login", "l", false, "use the OS login name as username")
	root.Flags().BoolVarP(&flagDebug, "debug", "d", false, "report on stderr when syslog cannot be opened")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "parcel:", err)
		os.Exit(1)
	}
}

func runClient(cmd *cobra.Command, args []string) error {
	initLogging(flagDebug)
	defer plog.Close() // nolint: errcheck

	if flagLogin {
		u, err := user.Current()
		if err != nil {
			return fmt.Errorf("resolving login name: %w", err)
		}
		flagUsername = u.Username
	}

	if len(os.Args) < minArgsBeforePrompt {
		if err := promptMissing(&flagAddr, &flagUsername); err != nil {
			return err
		}
	}

	if flagAddr == "" || flagUsername == "" {
		return fmt.Errorf("both an address and a username are required")
	}
	if len(flagAddr) > addressMaxLength {
		return fmt.Errorf("address exceeds maximum length of %d characters", addressMaxLength)
	}
	if len(flagUsername) > usernameMaxLength {
		return fmt.Errorf("username exceeds maximum length of %d characters", usernameMaxLength)
	}

	addr := flagAddr
	if !hasExplicitPort(addr) {
		addr = fmt.Sprintf("%s:%d", addr, flagPort)
	}

	session, err := chatclient.Dial(addr, flagUsername, os.Stdin, os.Stdout)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}

	fmt.Printf("connected to %s as %s\n", addr, flagUsername)
	return session.Run()
}

// hasExplicitPort reports whether addr already carries a ":port" suffix,
// so a user-supplied "host:port" isn't clobbered by appending -p's value.
func hasExplicitPort(addr string) bool {
	return strings.Contains(addr, ":")
}
