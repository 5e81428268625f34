package batch

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type Metrics struct {
	registry          *prometheus.Registry
	jobsTotal         *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec
	activeJobs        prometheus.Gauge
	fallbacksTotal    *prometheus.CounterVec
	bytesSavedTotal   prometheus.Counter
	inputBytesTotal   prometheus.Counter
	droppedFilesTotal *prometheus.CounterVec
	rejectedBatches   *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "convertify_jobs_total",
			Help: "Total conversion jobs by pair and terminal status.",
		}, []string{"pair", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "convertify_job_duration_seconds",
			Help:    "Decode plus encode duration for each conversion job.",
			Buckets: prometheus.DefBuckets,
		}, []string{"pair", "status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "convertify_active_jobs",
			Help: "Jobs currently converting. Never above one.",
		}),
		fallbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "convertify_encoder_fallbacks_total",
			Help: "Jobs completed with a substitute encoder, by requested and used format.",
		}, []string{"requested", "used"}),
		bytesSavedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "convertify_bytes_saved_total",
			Help: "Total bytes saved across completed jobs whose output shrank.",
		}),
		inputBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "convertify_input_bytes_total",
			Help: "Total input bytes accepted into jobs.",
		}),
		droppedFilesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "convertify_dropped_files_total",
			Help: "Submitted files that never became jobs, by reason.",
		}, []string{"reason"}),
		rejectedBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "convertify_rejected_batches_total",
			Help: "Whole submissions rejected before any job was created, by reason.",
		}, []string{"reason"}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.fallbacksTotal,
		m.bytesSavedTotal,
		m.inputBytesTotal,
		m.droppedFilesTotal,
		m.rejectedBatches,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes the registry in the node_exporter textfile collector format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
