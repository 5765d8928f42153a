package queue

import "github.com/prometheus/client_golang/prometheus"

type counter = prometheus.Counter

func (q *Queue) initMetrics() {
	q.metricsOnce.Do(func() {
		q.overflowCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "telemetry",
			Subsystem: "queue",
			Name:      "overflow_drops_total",
			Help:      "Entries evicted because the buffer reached capacity",
		})
		q.retryDropCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "telemetry",
			Subsystem: "queue",
			Name:      "retry_drops_total",
			Help:      "Entries dropped after exhausting insert retries",
		})
		q.flushFailCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "telemetry",
			Subsystem: "queue",
			Name:      "flush_failures_total",
			Help:      "Bulk insert batches that failed and were re-queued",
		})

		collectors := []prometheus.Collector{q.overflowCounter, q.retryDropCounter, q.flushFailCounter}
		for i, collector := range collectors {
			if err := prometheus.Register(collector); err != nil {
				if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
					if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
						switch i {
						case 0:
							q.overflowCounter = existing
						case 1:
							q.retryDropCounter = existing
						case 2:
							q.flushFailCounter = existing
						}
					}
				}
			}
		}
		q.metricsInitialized = true
	})
}

func (q *Queue) countOverflow() {
	if q.metricsInitialized {
		q.overflowCounter.Inc()
	}
}

func (q *Queue) countRetryDrop() {
	if q.metricsInitialized {
		q.retryDropCounter.Inc()
	}
}

func (q *Queue) countFlushFailure() {
	if q.metricsInitialized {
		q.flushFailCounter.Inc()
	}
}
