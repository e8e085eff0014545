package main

import (
	"fmt"
	"os"

	"blitter.com/go/parcel/internal/plog"
)

// initLogging opens the syslog writer with a fixed facility/severity mask
// once at startup. parceld calls plog directly everywhere rather than
// routing the stdlib log package through it, so -d here only controls
// whether a syslog-unavailable error is surfaced on stderr instead of
// silently degrading to a no-op logger.
func initLogging(debug bool) {
	flags := plog.LOG_DAEMON | plog.LOG_DEBUG | plog.LOG_NOTICE | plog.LOG_ERR
	if _, err := plog.New(flags, "parceld"); err != nil && debug {
		fmt.Fprintf(os.Stderr, "parceld: syslog unavailable (%v); continuing without it\n", err)
	}
}
