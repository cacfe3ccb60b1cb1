package monitor

import (
	"sync"
	"time"
)

// CycleMonitor tracks the health of a periodic background cycle such as the
// flush or purge schedule.
type CycleMonitor struct {
	name        string
	staleAfter  time.Duration
	maxFailures int
	now         func() time.Time

	mu                sync.RWMutex
	started           time.Time
	lastSuccess       time.Time
	lastAttempt       time.Time
	consecutiveErrors int
	lastError         string
	runs              uint64
}

// NewCycleMonitor creates a monitor for a cycle expected to succeed at least
// once per staleAfter and to fail no more than maxFailures times in a row.
func NewCycleMonitor(name string, staleAfter time.Duration, maxFailures int) *CycleMonitor {
	return &CycleMonitor{
		name:        name,
		staleAfter:  staleAfter,
		maxFailures: maxFailures,
		now:         time.Now,
		started:     time.Now(),
	}
}

// Name returns the monitored cycle's name.
func (cm *CycleMonitor) Name() string {
	return cm.name
}

// Arm sets when the first cycle is due; the staleness window starts there.
func (cm *CycleMonitor) Arm(due time.Time) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.started = due
}

// RecordSuccess records a successful cycle.
func (cm *CycleMonitor) RecordSuccess() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	now := cm.now()
	cm.lastSuccess = now
	cm.lastAttempt = now
	cm.consecutiveErrors = 0
	cm.lastError = ""
	cm.runs++
}

// RecordFailure records a failed cycle.
func (cm *CycleMonitor) RecordFailure(err error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.lastAttempt = cm.now()
	cm.consecutiveErrors++
	cm.runs++
	if err != nil {
		cm.lastError = err.Error()
	}
}

// IsHealthy returns true if the cycle is working properly.
// Unhealthy conditions:
//   - No success within staleAfter (measured from creation until the first success)
//   - More than maxFailures consecutive failures
func (cm *CycleMonitor) IsHealthy() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.healthyLocked()
}

func (cm *CycleMonitor) healthyLocked() bool {
	if cm.consecutiveErrors > cm.maxFailures {
		return false
	}
	if cm.staleAfter <= 0 {
		return true
	}
	since := cm.lastSuccess
	if since.IsZero() {
		since = cm.started
	}
	return cm.now().Sub(since) <= cm.staleAfter
}

// CycleStatus is the health check view of a cycle monitor.
type CycleStatus struct {
	Healthy           bool   `json:"healthy"`
	Runs              uint64 `json:"runs"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns current cycle status for health checks.
func (cm *CycleMonitor) Status() CycleStatus {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	status := CycleStatus{
		Healthy: cm.healthyLocked(),
		Runs:    cm.runs,
	}

	if !cm.lastSuccess.IsZero() {
		status.LastSuccess = cm.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = cm.now().Sub(cm.lastSuccess).Round(time.Second).String()
	}

	if !cm.lastAttempt.IsZero() {
		status.LastAttempt = cm.lastAttempt.Format(time.RFC3339)
	}

	if cm.consecutiveErrors > 0 {
		status.ConsecutiveErrors = cm.consecutiveErrors
		status.LastError = cm.lastError
	}

	return status
}
