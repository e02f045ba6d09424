package main

import (
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/netutil"
)

// Metrics holds the server's own counters. They are plain atomics so INFO can
// read them; Register exposes the same values to Prometheus. Engine metrics
// are registered by the engine itself.
type Metrics struct {
	TotalConnections atomic.Uint64
	Rejected         atomic.Uint64
	TotalCommands    atomic.Uint64
	SavesOK          atomic.Uint64
	SavesFailed      atomic.Uint64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func counterFunc(name, help string, v *atomic.Uint64, labels prometheus.Labels) prometheus.Collector {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name:        name,
		Help:        help,
		ConstLabels: labels,
	}, func() float64 { return float64(v.Load()) })
}

// Register exposes m on r. active reports open client connections.
func (m *Metrics) Register(r prometheus.Registerer, active func() float64) {
	r.MustRegister(
		counterFunc("kaka_server_connections_total", "Total number of accepted client connections", &m.TotalConnections, nil),
		counterFunc("kaka_server_rejected_connections_total", "Total number of connections refused at the connection limit", &m.Rejected, nil),
		counterFunc("kaka_server_commands_total", "Total number of commands processed", &m.TotalCommands, nil),
		counterFunc("kaka_server_snapshot_saves_total", "Snapshot saves by outcome", &m.SavesOK, prometheus.Labels{"result": "ok"}),
		counterFunc("kaka_server_snapshot_saves_total", "Snapshot saves by outcome", &m.SavesFailed, prometheus.Labels{"result": "error"}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "kaka_server_connections_active",
			Help: "Number of open client connections",
		}, active),
	)
}

// maxMetricsConns bounds concurrent scrapes.
const maxMetricsConns = 16

// serveMetrics exposes g on addr at /metrics until the returned server is
// shut down.
func serveMetrics(addr string, g prometheus.Gatherer) (*http.Server, net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.Serve(netutil.LimitListener(ln, maxMetricsConns)) }()
	return srv, ln, nil
}
