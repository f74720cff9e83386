package obs

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	loginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_login_attempts_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	lockouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_lockouts_total",
		Help: "Identifiers locked out after repeated failures.",
	})

	storeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_store_failures_total",
			Help: "Persistent store operations that failed and were recovered fail-soft.",
		},
		[]string{"op"},
	)

	initOnce sync.Once
)

// Login outcome labels.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeLocked   = "locked"
	OutcomeInactive = "inactive"
)

// Init registers the engine metrics in the default registry. Safe to call
// more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(loginAttempts, lockouts, storeFailures)
	})
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// LoginAttempt records a login attempt with one of the Outcome* labels.
func LoginAttempt(outcome string) {
	loginAttempts.WithLabelValues(outcome).Inc()
}

// Lockout records an identifier crossing the failed-attempt threshold.
func Lockout() {
	lockouts.Inc()
}

// StoreFailure records a recovered store error for the given operation.
func StoreFailure(op string) {
	storeFailures.WithLabelValues(op).Inc()
}
