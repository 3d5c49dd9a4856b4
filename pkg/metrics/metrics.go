package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Generations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "personafeed_generations_total",
		Help: "Generation attempts by mode and outcome",
	}, []string{"mode", "outcome"})
	GenerationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "personafeed_generation_duration_seconds",
		Help:    "Duration of one persona's generation pipeline",
		Buckets: prometheus.DefBuckets,
	})
	TokensSpent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "personafeed_tokens_spent_total",
		Help: "Budget units debited for generated content",
	})
	ImagesProduced = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "personafeed_images_total",
		Help: "Images generated and uploaded",
	})
	ImageFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "personafeed_image_failures_total",
		Help: "Image steps that failed and were omitted",
	})
	BatchRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "personafeed_batch_runs_total",
		Help: "Total batch scheduler runs",
	})
	BatchPersonas = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "personafeed_batch_personas_total",
		Help: "Personas handled by the batch scheduler by result",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(Generations, GenerationDuration, TokensSpent, ImagesProduced, ImageFailures,
		BatchRuns, BatchPersonas)
}

// StartServer serves /metrics and /health on addr. An empty addr disables it.
func StartServer(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	go func() {
		log.Printf("[Metrics] Listening on %s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
			log.Printf("[Metrics] Server stopped: %v", err)
		}
	}()
}

// ObserveGeneration records one finished pipeline.
func ObserveGeneration(mode, outcome string, start time.Time) {
	Generations.WithLabelValues(mode, outcome).Inc()
	GenerationDuration.Observe(time.Since(start).Seconds())
}

// AddTokens records debited budget units.
func AddTokens(n int64) {
	if n > 0 {
		TokensSpent.Add(float64(n))
	}
}

// ObserveBatch records the totals of one scheduler run.
func ObserveBatch(posted, skipped, failed int) {
	BatchRuns.Inc()
	BatchPersonas.WithLabelValues("posted").Add(float64(posted))
	BatchPersonas.WithLabelValues("skipped").Add(float64(skipped))
	BatchPersonas.WithLabelValues("failed").Add(float64(failed))
}
