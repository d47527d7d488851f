package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Simple Prometheus-style metrics for the API and the worker.
// This is intentionally minimal and in-memory only.

var (
	mu             sync.RWMutex
	requestsTotal  = make(map[reqKey]int64)
	latencyMsSum   = make(map[latKey]int64)
	latencyMsCount = make(map[latKey]int64)

	jobsTotal          = make(map[string]int64)
	pagesFetchedTotal  int64
	pagesExportedTotal int64
	fallbacksTotal     int64
	restartsTotal      int64
	jobsExpiredTotal   int64
)

type reqKey struct {
	Method string
	Path   string
	Status int
}

type latKey struct {
	Method string
	Path   string
}

// RecordRequest increments request counter and records latency.
func RecordRequest(method, path string, status int, latencyMs int64) {
	mu.Lock()
	defer mu.Unlock()

	rk := reqKey{Method: method, Path: path, Status: status}
	requestsTotal[rk]++

	lk := latKey{Method: method, Path: path}
	latencyMsSum[lk] += latencyMs
	latencyMsCount[lk]++
}

// RecordJobState counts jobs entering a state.
func RecordJobState(state string) {
	mu.Lock()
	defer mu.Unlock()
	jobsTotal[state]++
}

// RecordPages adds fetched and exported page counts for a finished job.
func RecordPages(fetched, exported int) {
	mu.Lock()
	defer mu.Unlock()
	pagesFetchedTotal += int64(fetched)
	pagesExportedTotal += int64(exported)
}

// RecordFallback counts static-to-JS fallback attempts.
func RecordFallback() {
	mu.Lock()
	defer mu.Unlock()
	fallbacksTotal++
}

// RecordRestart counts stuck-job restarts.
func RecordRestart() {
	mu.Lock()
	defer mu.Unlock()
	restartsTotal++
}

// RecordExpired counts jobs removed by the expiry sweep.
func RecordExpired(n int64) {
	if n <= 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	jobsExpiredTotal += n
}

// Export returns Prometheus-style metrics text.
func Export() string {
	mu.RLock()
	defer mu.RUnlock()

	var b strings.Builder

	b.WriteString("# HELP skrapp_http_requests_total Total HTTP requests\n")
	b.WriteString("# TYPE skrapp_http_requests_total counter\n")

	// Sort keys for stable output
	var reqKeys []reqKey
	for k := range requestsTotal {
		reqKeys = append(reqKeys, k)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		if reqKeys[i].Method != reqKeys[j].Method {
			return reqKeys[i].Method < reqKeys[j].Method
		}
		if reqKeys[i].Path != reqKeys[j].Path {
			return reqKeys[i].Path < reqKeys[j].Path
		}
		return reqKeys[i].Status < reqKeys[j].Status
	})

	for _, k := range reqKeys {
		v := requestsTotal[k]
		fmt.Fprintf(&b, "skrapp_http_requests_total{method=\"%s\",path=\"%s\",status=\"%d\"} %d\n",
			k.Method, k.Path, k.Status, v)
	}

	b.WriteString("# HELP skrapp_http_request_duration_ms_sum Total request duration in milliseconds\n")
	b.WriteString("# TYPE skrapp_http_request_duration_ms_sum counter\n")
	b.WriteString("# HELP skrapp_http_request_duration_ms_count Request count for latency metric\n")
	b.WriteString("# TYPE skrapp_http_request_duration_ms_count counter\n")

	var latKeys []latKey
	for k := range latencyMsSum {
		latKeys = append(latKeys, k)
	}
	sort.Slice(latKeys, func(i, j int) bool {
		if latKeys[i].Method != latKeys[j].Method {
			return latKeys[i].Method < latKeys[j].Method
		}
		return latKeys[i].Path < latKeys[j].Path
	})

	for _, k := range latKeys {
		sum := latencyMsSum[k]
		cnt := latencyMsCount[k]
		fmt.Fprintf(&b, "skrapp_http_request_duration_ms_sum{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, sum)
		fmt.Fprintf(&b, "skrapp_http_request_duration_ms_count{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, cnt)
	}

	// Job lifecycle metrics
	b.WriteString("# HELP skrapp_jobs_total Total jobs entering each state\n")
	b.WriteString("# TYPE skrapp_jobs_total counter\n")

	var states []string
	for s := range jobsTotal {
		states = append(states, s)
	}
	sort.Strings(states)
	for _, s := range states {
		fmt.Fprintf(&b, "skrapp_jobs_total{state=\"%s\"} %d\n", s, jobsTotal[s])
	}

	b.WriteString("# HELP skrapp_pages_fetched_total Total pages fetched across jobs\n")
	b.WriteString("# TYPE skrapp_pages_fetched_total counter\n")
	fmt.Fprintf(&b, "skrapp_pages_fetched_total %d\n", pagesFetchedTotal)

	b.WriteString("# HELP skrapp_pages_exported_total Total pages exported across jobs\n")
	b.WriteString("# TYPE skrapp_pages_exported_total counter\n")
	fmt.Fprintf(&b, "skrapp_pages_exported_total %d\n", pagesExportedTotal)

	b.WriteString("# HELP skrapp_fallbacks_total Total static-to-JS fallback attempts\n")
	b.WriteString("# TYPE skrapp_fallbacks_total counter\n")
	fmt.Fprintf(&b, "skrapp_fallbacks_total %d\n", fallbacksTotal)

	b.WriteString("# HELP skrapp_restarts_total Total stuck-job restarts\n")
	b.WriteString("# TYPE skrapp_restarts_total counter\n")
	fmt.Fprintf(&b, "skrapp_restarts_total %d\n", restartsTotal)

	b.WriteString("# HELP skrapp_jobs_expired_total Total jobs expired by the sweep\n")
	b.WriteString("# TYPE skrapp_jobs_expired_total counter\n")
	fmt.Fprintf(&b, "skrapp_jobs_expired_total %d\n", jobsExpiredTotal)

	return b.String()
}
