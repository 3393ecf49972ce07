package upstream

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// OutlierResult is the per-attempt signal the TCP proxy filter reports
// after trying to use a host: on failure an outlier signal is reported
// (TIMEOUT for timer, CONNECT_FAILED for remote/local close); on
// success, report SUCCESS.
type OutlierResult int

const (
	ResultSuccess OutlierResult = iota
	ResultTimeout
	ResultConnectFailed
)

// OutlierPolicy is the consecutive-failure/success threshold and ejection
// backoff applied to a single Host's FlagFailedOutlierCheck bit. This
// supplements spec.md (original_source's DetectorImpl keeps outlier
// detection genuinely distinct from active health checking) by giving the
// reporting call somewhere concrete to land, shaped after the
// teacher's Executable in healthcheck/internal/models/healthcheck.go:
// same consecutive-counter-flips-a-bool pattern, applied to ejection
// instead of pass/fail.
type OutlierPolicy struct {
	consecutiveFailures uint32
	baseEjection        time.Duration
	maxEjection         time.Duration

	mu          sync.Mutex
	curFailures map[string]uint32
	ejections   map[string]uint32 // consecutive ejection count, for exponential backoff
}

func NewOutlierPolicy(consecutiveFailures uint32, baseEjection, maxEjection time.Duration) *OutlierPolicy {
	return &OutlierPolicy{
		consecutiveFailures: consecutiveFailures,
		baseEjection:        baseEjection,
		maxEjection:         maxEjection,
		curFailures:         make(map[string]uint32),
		ejections:           make(map[string]uint32),
	}
}

// Report applies one attempt's outcome to h, ejecting (setting
// FlagFailedOutlierCheck) once consecutiveFailures consecutive failures
// have been seen, and healing (clearing the flag) immediately on success
// — active health checking is the slow-converging signal; outlier
// detection is meant to react fast, so it un-ejects on the very next
// success rather than requiring a streak.
func (p *OutlierPolicy) Report(h *Host, result OutlierResult) (ejectionDuration time.Duration, ejected bool) {
	key := addrKey(h.Address)
	p.mu.Lock()
	defer p.mu.Unlock()

	if result == ResultSuccess {
		p.curFailures[key] = 0
		if h.ClearHealthFlag(FlagFailedOutlierCheck) {
			p.ejections[key] = 0
		}
		return 0, false
	}

	p.curFailures[key]++
	if p.curFailures[key] < p.consecutiveFailures {
		return 0, false
	}
	p.curFailures[key] = 0
	h.SetHealthFlag(FlagFailedOutlierCheck)

	n := p.ejections[key]
	p.ejections[key] = n + 1
	dur := p.baseEjection * time.Duration(1<<n)
	if dur > p.maxEjection || dur <= 0 {
		dur = p.maxEjection
	}
	return dur, true
}

// EjectionLimiter rate-limits how many ejection/un-ejection transitions a
// cluster churns through per interval, reusing the teacher's
// nlb-agent/internal/scheduler pacing pattern (rate.NewLimiter) to keep a
// flapping upstream from generating unbounded health-flag churn.
type EjectionLimiter struct {
	limiter *rate.Limiter
}

func NewEjectionLimiter(perSecond float64, burst int) *EjectionLimiter {
	return &EjectionLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (e *EjectionLimiter) Allow() bool {
	return e.limiter.Allow()
}
