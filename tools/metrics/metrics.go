package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "shlnet"

// 注册在默认registry上，应用挂一个promhttp handler即可导出
var (
	ConnectionsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connections_accepted_total",
		Help:      "Total number of connections accepted by the server.",
	})

	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections_active",
		Help:      "Number of currently established connections.",
	})

	BytesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bytes_received_total",
		Help:      "Total bytes read from peer sockets.",
	})

	BytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bytes_sent_total",
		Help:      "Total bytes written to peer sockets.",
	})
)
