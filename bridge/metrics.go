package bridge

import "sync/atomic"

type MetricsSnapshot struct {
	Iterations  int64
	Evaluations int64
	Feedbacks   int64
	Renewals    int64
	Aborts      int64
}

type Metrics struct {
	iterations  atomic.Int64
	evaluations atomic.Int64
	feedbacks   atomic.Int64
	renewals    atomic.Int64
	aborts      atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) RecordIteration() {
	m.iterations.Add(1)
}

func (m *Metrics) RecordEvaluation() {
	m.evaluations.Add(1)
}

func (m *Metrics) RecordFeedback() {
	m.feedbacks.Add(1)
}

func (m *Metrics) RecordRenewal() {
	m.renewals.Add(1)
}

func (m *Metrics) RecordAbort() {
	m.aborts.Add(1)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Iterations:  m.iterations.Load(),
		Evaluations: m.evaluations.Load(),
		Feedbacks:   m.feedbacks.Load(),
		Renewals:    m.renewals.Load(),
		Aborts:      m.aborts.Load(),
	}
}
