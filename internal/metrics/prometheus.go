package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values.
const (
	ResultSuccess      = "success"
	ResultDecodeError  = "decode_error"
	ResultInferenceErr = "inference_error"
	ResultError        = "error"
	ResultCached       = "cached"
)

// Metrics contains all Prometheus metrics for the bot. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Transcriptions        *prometheus.CounterVec
	TranscriptionDuration prometheus.Histogram
	AudioDuration         prometheus.Histogram
	ModelDownloads        *prometheus.CounterVec
	Messages              *prometheus.CounterVec
	InFlight              prometheus.Gauge
}

// New creates all metrics on a fresh registry, plus the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Transcriptions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebot_transcriptions_total",
			Help: "Transcription attempts by result",
		}, []string{"result"}),
		TranscriptionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicebot_transcription_seconds",
			Help:    "Wall time spent decoding and running inference",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		}),
		AudioDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicebot_audio_seconds",
			Help:    "Duration of decoded audio submitted for transcription",
			Buckets: []float64{1, 3, 5, 10, 30, 60, 120, 300, 600},
		}),
		ModelDownloads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebot_model_downloads_total",
			Help: "Model provisioning outcomes by result",
		}, []string{"result"}),
		Messages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebot_messages_total",
			Help: "Inbound bot messages by kind",
		}, []string{"kind"}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "voicebot_messages_in_flight",
			Help: "Messages currently being handled",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveTranscription(result string, seconds, audioSeconds float64) {
	if m == nil {
		return
	}
	m.Transcriptions.WithLabelValues(result).Inc()
	m.TranscriptionDuration.Observe(seconds)
	if audioSeconds > 0 {
		m.AudioDuration.Observe(audioSeconds)
	}
}

func (m *Metrics) ObserveDownload(result string) {
	if m == nil {
		return
	}
	m.ModelDownloads.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveMessage(kind string) {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues(kind).Inc()
}

// TrackInFlight increments the in-flight gauge and returns its release func.
func (m *Metrics) TrackInFlight() func() {
	if m == nil {
		return func() {}
	}
	m.InFlight.Inc()
	return m.InFlight.Dec
}
