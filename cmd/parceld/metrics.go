package main

import (
	"fmt"
	"net/http"

	"blitter.com/go/parcel/internal/plog"
	"blitter.com/go/parcel/internal/relaymetrics"
)

// serveMetrics runs the Prometheus scrape endpoint until it errors; a
// failure here is logged but never brings down the relay loop itself.
func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", relaymetrics.Handler())
	plog.Notice(fmt.Sprintf("serving metrics on %s/metrics", addr)) // nolint: errcheck
	if err := http.ListenAndServe(addr, mux); err != nil {          // nolint: gosec
		plog.Err(fmt.Sprintf("metrics listener stopped: %v", err)) // nolint: errcheck
	}
}
