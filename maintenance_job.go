package main

import (
	"log"

	"github.com/robfig/cron/v3"

	"github.com/gluk-w/muxdeck/internal/bridge"
	"github.com/gluk-w/muxdeck/internal/store"
)

// startMaintenance schedules the background housekeeping jobs: retrying
// failed store writes and sweeping dead terminal bridges. The returned cron
// is stopped during shutdown.
func startMaintenance(st *store.Store, bridges *bridge.Registry) *cron.Cron {
	c := cron.New()

	c.AddFunc("@every 1m", func() {
		if n := st.PendingRetries(); n > 0 {
			log.Printf("maintenance: retrying %d failed store writes", n)
			st.FlushRetries()
		}
	})

	c.AddFunc("@every 2m", func() {
		if n := bridges.Sweep(); n > 0 {
			log.Printf("maintenance: swept %d dead bridges", n)
		}
	})

	c.Start()
	return c
}
