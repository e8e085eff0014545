package main

import (
	"fmt"
	"os"

	"blitter.com/go/parcel/internal/plog"
)

// initLogging mirrors parceld's: open the syslog writer once at startup,
// degrading to a silent no-op logger (see internal/plog) if syslog is
// unavailable, which is the common case for an interactively-run client.
func initLogging(debug bool) {
	flags := plog.LOG_USER | plog.LOG_DEBUG | plog.LOG_NOTICE | plog.LOG_ERR
	if _, err := plog.New(flags, "parcel"); err != nil && debug {
		fmt.Fprintf(os.Stderr, "parcel: syslog unavailable (%v); continuing without it\n", err)
	}
}
