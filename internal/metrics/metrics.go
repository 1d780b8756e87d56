package metrics

import (
	"sort"
	"sync"
	"time"
)

const maxSamples = 1000

type Metrics struct {
	mutex         sync.RWMutex
	routes        map[string]int64
	picks         map[string]int64
	pickFailures  int64
	responseTimes map[string][]time.Duration
	statusCodes   map[string]map[int]int64
	running       map[string]bool
	startTime     time.Time
}

type Snapshot struct {
	TotalRequests int64                      `json:"total_requests"`
	PickFailures  int64                      `json:"pick_failures"`
	Uptime        time.Duration              `json:"uptime"`
	Routes        map[string]int64           `json:"routes"`
	Instances     map[string]InstanceMetrics `json:"instances"`
	Selection     string                     `json:"selection"`
}

type InstanceMetrics struct {
	Picks       int64         `json:"picks"`
	Running     bool          `json:"running"`
	AvgResponse time.Duration `json:"avg_response"`
	P50Response time.Duration `json:"p50_response"`
	P95Response time.Duration `json:"p95_response"`
	P99Response time.Duration `json:"p99_response"`
	StatusCodes map[int]int64 `json:"status_codes"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		routes:        make(map[string]int64),
		picks:         make(map[string]int64),
		responseTimes: make(map[string][]time.Duration),
		statusCodes:   make(map[string]map[int]int64),
		running:       make(map[string]bool),
		startTime:     time.Now(),
	}
}

func (m *Metrics) RecordRoute(route string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.routes[route]++
}

func (m *Metrics) RecordPick(instance string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.picks[instance]++
}

func (m *Metrics) RecordPickFailure() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.pickFailures++
}

func (m *Metrics) RecordResponse(instance string, duration time.Duration, statusCode int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.responseTimes[instance] = append(m.responseTimes[instance], duration)

	if len(m.responseTimes[instance]) > maxSamples {
		m.responseTimes[instance] = m.responseTimes[instance][1:]
	}

	if m.statusCodes[instance] == nil {
		m.statusCodes[instance] = make(map[int]int64)
	}
	m.statusCodes[instance][statusCode]++
}

func (m *Metrics) UpdateRunning(instance string, running bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.running[instance] = running
}

func (m *Metrics) Snapshot(selection string) Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		PickFailures: m.pickFailures,
		Uptime:       time.Since(m.startTime),
		Routes:       make(map[string]int64, len(m.routes)),
		Instances:    make(map[string]InstanceMetrics),
		Selection:    selection,
	}

	for route, n := range m.routes {
		snap.Routes[route] = n
		snap.TotalRequests += n
	}

	// Collect all known instance names
	names := make(map[string]bool)
	for name := range m.picks {
		names[name] = true
	}
	for name := range m.responseTimes {
		names[name] = true
	}
	for name := range m.running {
		names[name] = true
	}

	for name := range names {
		im := InstanceMetrics{
			Picks:       m.picks[name],
			Running:     m.running[name],
			StatusCodes: make(map[int]int64, len(m.statusCodes[name])),
		}
		for code, n := range m.statusCodes[name] {
			im.StatusCodes[code] = n
		}

		durations := m.responseTimes[name]
		if len(durations) > 0 {
			sorted := make([]time.Duration, len(durations))
			copy(sorted, durations)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			im.AvgResponse = average(sorted)
			im.P50Response = percentile(sorted, 0.50)
			im.P95Response = percentile(sorted, 0.95)
			im.P99Response = percentile(sorted, 0.99)
		}

		snap.Instances[name] = im
	}

	return snap
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
