package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "canvas_ws_connections",
		Help: "Open websocket connections",
	})

	RelayedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canvas_relay_frames_total",
		Help: "Peer frames relayed to other connections",
	})

	// RefreshPushes is labelled by result: sent, skipped, failed.
	RefreshPushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canvas_refresh_pushes_total",
		Help: "REFRESHED pushes to stale clients",
	}, []string{"result"})

	Mutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canvas_mutations_total",
		Help: "Successful document mutations",
	}, []string{"op"})

	BlobUploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canvas_blob_uploads_total",
		Help: "Blob uploads by storage tier",
	}, []string{"tier"})

	BlobUploadBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "canvas_blob_upload_bytes",
		Help:    "Size of uploaded blobs",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
	})
)

// Handler exposes Prometheus metrics at /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
