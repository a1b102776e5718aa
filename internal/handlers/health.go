package handlers

import (
	"net/http"

	"github.com/gluk-w/muxdeck/internal/hostconn"
)

// HealthCheck reports server liveness and a summary of host connectivity.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	hosts := HostMgr.Hosts()
	connected := 0
	for _, h := range hosts {
		if HostMgr.State(h.ID) == hostconn.StateConnected {
			connected++
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "healthy",
		"hosts":           len(hosts),
		"hosts_connected": connected,
		"bridges":         Bridges.Count(),
		"store_retries":   Store.PendingRetries(),
	})
}
