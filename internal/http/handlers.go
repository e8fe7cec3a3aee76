package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"ricorrenti/internal/cache"
)

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.appMetrics.uptime).String(),
	})
}

// handleReady performs readiness check with dependency verification
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]any)

	if s.ready == nil {
		checks["store"] = "ok"
	} else if err := s.ready(ctx); err != nil {
		checks["store"] = fmt.Sprintf("failed: %v", err)
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}

	checks["rate_limiter"] = map[string]any{
		"active_clients": s.rateLimiter.ActiveClients(),
		"status":         "ok",
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	})
}

// handleMetrics writes counters and gauges in the Prometheus text format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	sec := s.securityDetector.GetMetrics()
	rl := s.rateLimiter.GetMetrics()
	tr := s.traceMiddleware.GetMetrics()
	var cs cache.Stats
	if s.cacheStats != nil {
		cs = s.cacheStats()
	}

	w.WriteHeader(http.StatusOK)
	metric(w, "http_requests_total", "counter", "HTTP requests served", tr.TotalRequests)
	metric(w, "http_responses_failed_total", "counter", "HTTP responses by failure class",
		labelled{`class="4xx"`, tr.ClientErrors}, labelled{`class="5xx"`, tr.ServerErrors})
	metric(w, "http_response_time_avg_microseconds", "gauge", "Average response time", tr.AverageResponseTime)
	metric(w, "scheduled_transactions_created_total", "counter", "Schedules created through the API",
		atomic.LoadInt64(&s.appMetrics.schedulesCreated))
	metric(w, "confirmations_total", "counter", "Manual execution confirmations attempted",
		atomic.LoadInt64(&s.appMetrics.confirmations))
	metric(w, "upcoming_cache_entries", "gauge", "Cached upcoming views", cs.Entries)
	metric(w, "upcoming_cache_requests_total", "counter", "Upcoming view cache lookups by result",
		labelled{`result="hit"`, cs.Hits}, labelled{`result="miss"`, cs.Misses})
	metric(w, "upcoming_cache_invalidations_total", "counter", "Upcoming view cache invalidations", cs.Invalidations)
	metric(w, "rate_limit_hits_total", "counter", "Requests rejected by the rate limiter", rl.TotalHits)
	metric(w, "active_rate_limit_clients", "gauge", "Clients tracked by the rate limiter", rl.ClientCount)
	metric(w, "suspicious_requests_total", "counter", "Requests flagged as probing", sec.SuspiciousRequests)
	metric(w, "uptime_seconds", "gauge", "Seconds since the server started",
		int64(time.Since(s.appMetrics.uptime).Seconds()))
}

type labelled struct {
	labels string
	value  any
}

// metric writes one metric family. Values are either a single number or
// labelled samples.
func metric(w io.Writer, name, typ, help string, values ...any) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, typ)
	for _, v := range values {
		if l, ok := v.(labelled); ok {
			fmt.Fprintf(w, "%s{%s} %v\n", name, l.labels, l.value)
			continue
		}
		fmt.Fprintf(w, "%s %v\n", name, v)
	}
	fmt.Fprintln(w)
}
