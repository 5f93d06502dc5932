package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "denoise_sessions_active",
		Help: "Currently open denoise sessions",
	})

	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "denoise_sessions_total",
		Help: "Sessions opened, by endpoint",
	}, []string{"endpoint"})

	SessionInitErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "denoise_session_init_errors_total",
		Help: "Session init failures, by engine",
	}, []string{"engine"})

	Transfers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "denoise_transfers_total",
		Help: "Transfer calls made into sessions",
	})

	Samples = promauto.NewCounter(prometheus.CounterOpts{
		Name: "denoise_samples_total",
		Help: "Samples passed through sessions",
	})

	Frames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "denoise_frames_processed_total",
		Help: "Engine frame invocations, by engine",
	}, []string{"engine"})

	TransferSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "denoise_transfer_samples",
		Help:    "Samples per transfer call",
		Buckets: []float64{1, 32, 80, 160, 240, 480, 960, 1920, 4800},
	})

	OutputLevel = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "denoise_output_rms",
		Help: "RMS level of the most recent output chunk (0..1)",
	})

	EndpointErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "denoise_endpoint_errors_total",
		Help: "Endpoint I/O errors, by endpoint",
	}, []string{"endpoint"})
)
