package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Exchanges    *prometheus.CounterVec
	StreamChunks *prometheus.CounterVec
	Images       *prometheus.CounterVec
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = New()
		prometheus.MustRegister(global.Exchanges, global.StreamChunks, global.Images)
	})
	return global
}

// New builds an unregistered set, for tests and custom registries.
func New() *Metrics {
	return &Metrics{
		Exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "multichat",
			Name:      "exchanges_total",
			Help:      "Chat exchanges by provider and terminal outcome",
		}, []string{"provider", "outcome"}),
		StreamChunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "multichat",
			Name:      "stream_chunks_total",
			Help:      "Streamed deltas received per provider",
		}, []string{"provider"}),
		Images: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "multichat",
			Name:      "images_total",
			Help:      "Image generations and edits by provider, operation and result",
		}, []string{"provider", "op", "result"}),
	}
}
