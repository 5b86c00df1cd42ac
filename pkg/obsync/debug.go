package obsync

import (
	"encoding/json"
	"net/http"
	"time"
)

// DebugResponse represents the JSON response structure for debug endpoints
type DebugResponse struct {
	Stats *DebugStats `json:"stats"`
	Keys  []DebugKey  `json:"keys,omitempty"`
}

// DebugStats represents client counters in the debug response
type DebugStats struct {
	Hits              int64        `json:"hits"`
	Misses            int64        `json:"misses"`
	Invalidations     int64        `json:"invalidations"`
	Fetches           int64        `json:"fetches"`
	FetchErrors       int64        `json:"fetchErrors"`
	DedupWaits        int64        `json:"dedupWaits"`
	Refreshes         int64        `json:"refreshes"`
	OptimisticApplies int64        `json:"optimisticApplies"`
	Rollbacks         int64        `json:"rollbacks"`
	Commits           int64        `json:"commits"`
	QueueDepth        int64        `json:"queueDepth"`
	QueueDrops        int64        `json:"queueDrops"`
	InFlight          int64        `json:"inFlight"`
	KeyCount          int64        `json:"keyCount"`
	HitRate           float64      `json:"hitRate"`
	Total             int64        `json:"total"`
	Online            bool         `json:"online"`
	Config            *DebugConfig `json:"config"`
}

// DebugConfig represents client configuration in the debug response
type DebugConfig struct {
	MaxEntries     int           `json:"maxEntries"`
	DefaultTTL     time.Duration `json:"defaultTTL"`
	SweepInterval  time.Duration `json:"sweepInterval"`
	StaleRetention time.Duration `json:"staleRetention"`
}

// DebugKey represents a cache key with its metadata
type DebugKey struct {
	Key       string    `json:"key"`
	State     string    `json:"state"`
	Version   uint64    `json:"version"`
	StoredAt  time.Time `json:"storedAt"`
	Age       string    `json:"age"`
	Remaining string    `json:"remaining,omitempty"`
}

// DebugHandler returns an HTTP handler that exposes client internals.
// The handler supports the following endpoints:
//   - GET /stats - Returns only client statistics (no keys)
//   - GET /keys - Returns statistics and all cache keys with metadata
//   - GET / - Returns statistics and all cache keys with metadata (same as /keys)
func (cl *Client) DebugHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "application/json")

		var response DebugResponse
		includeKeys := r.URL.Path == "/" || r.URL.Path == "/keys"

		response.Stats = &DebugStats{
			Hits:              cl.stats.Hits(),
			Misses:            cl.stats.Misses(),
			Invalidations:     cl.stats.Invalidations(),
			Fetches:           cl.stats.Fetches(),
			FetchErrors:       cl.stats.FetchErrors(),
			DedupWaits:        cl.stats.DedupWaits(),
			Refreshes:         cl.stats.Refreshes(),
			OptimisticApplies: cl.stats.OptimisticApplies(),
			Rollbacks:         cl.stats.Rollbacks(),
			Commits:           cl.stats.Commits(),
			QueueDepth:        cl.stats.QueueDepth(),
			QueueDrops:        cl.stats.QueueDrops(),
			InFlight:          cl.stats.InFlight(),
			KeyCount:          cl.stats.KeyCount(),
			HitRate:           cl.stats.HitRate(),
			Total:             cl.stats.Total(),
			Online:            cl.Online(),
			Config: &DebugConfig{
				MaxEntries:     cl.config.MaxEntries,
				DefaultTTL:     cl.config.DefaultTTL,
				SweepInterval:  cl.config.SweepInterval,
				StaleRetention: cl.config.StaleRetention,
			},
		}

		if includeKeys {
			keys := cl.cache.Keys()
			response.Keys = make([]DebugKey, 0, len(keys))

			for _, key := range keys {
				e, found := cl.cache.getEntry(key)
				if !found {
					continue
				}
				debugKey := DebugKey{
					Key:      key,
					State:    e.State().String(),
					Version:  e.Version,
					StoredAt: e.StoredAt,
					Age:      formatDuration(e.Age()),
				}
				if remaining := e.Remaining(); remaining > 0 {
					debugKey.Remaining = formatDuration(remaining)
				}
				response.Keys = append(response.Keys, debugKey)
			}
		}

		if err := json.NewEncoder(w).Encode(response); err != nil {
			http.Error(w, "Failed to encode JSON response", http.StatusInternalServerError)
		}
	})
}

// NewDebugServer creates a new HTTP server with client debug endpoints.
// The server serves on the following routes:
//   - GET /stats - Client statistics only
//   - GET /keys - Statistics and keys
//   - GET / - Statistics and keys (default)
func (cl *Client) NewDebugServer(addr string) *http.Server {
	mux := http.NewServeMux()
	handler := cl.DebugHandler()

	mux.Handle("/stats", handler)
	mux.Handle("/keys", handler)
	mux.Handle("/", handler)

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// formatDuration formats a duration in a human-readable format
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	if d < time.Minute {
		return d.Round(time.Second).String()
	}
	return d.Round(time.Minute).String()
}
