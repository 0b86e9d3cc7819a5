package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Worker state gauge values
const (
	workerStateIdle          = 0
	workerStateClientSession = 1
	workerStateServerSession = 2
)

var (
	stateMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "qpsworker_state",
		Help: "The current state of the worker (0 = idle, 1 = client session, 2 = server session)",
	})

	sessionsStartedMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qpsworker_sessions_started_total",
		Help: "The total number of benchmark sessions that have acquired this worker, by role",
	}, []string{"role"})

	sessionsCompletedMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qpsworker_sessions_completed_total",
		Help: "The total number of benchmark session streams that have terminated, by role and outcome code",
	}, []string{"role", "code"})
)
