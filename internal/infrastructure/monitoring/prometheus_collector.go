package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector holds the broker's metric instruments. Constructed with
// an explicit registerer so tests can use isolated registries.
type PrometheusCollector struct {
	socketsOpen    prometheus.Gauge
	peersConnected prometheus.Gauge
	roomsTracked   prometheus.Gauge

	messagesEnqueued   *prometheus.CounterVec
	candidatesDropped  prometheus.Counter
	queueDepth         *prometheus.GaugeVec
	relayFramesTotal   prometheus.Counter
	reconnectsTotal    prometheus.Counter
	fallbackPairsCount prometheus.Gauge
}

func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)

	return &PrometheusCollector{
		socketsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "jamlink_sockets_open",
			Help: "Number of open signaling sockets",
		}),

		peersConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "jamlink_peers_connected",
			Help: "Number of peers with at least one open socket",
		}),

		roomsTracked: factory.NewGauge(prometheus.GaugeOpts{
			Name: "jamlink_rooms_tracked",
			Help: "Number of rooms with a live stats entry",
		}),

		messagesEnqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jamlink_messages_enqueued_total",
			Help: "Signaling messages enqueued, by type",
		}, []string{"type"}),

		candidatesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "jamlink_candidates_dropped_total",
			Help: "ICE candidates dropped under queue backpressure",
		}),

		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "jamlink_queue_depth",
			Help: "Pending signaling messages per room",
		}, []string{"room_id"}),

		relayFramesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "jamlink_relay_frames_total",
			Help: "Relay data frames forwarded in websocket fallback mode",
		}),

		reconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "jamlink_reconnects_requested_total",
			Help: "Reconnect-needed dispatches to peers",
		}),

		fallbackPairsCount: factory.NewGauge(prometheus.GaugeOpts{
			Name: "jamlink_fallback_pairs",
			Help: "Pairs currently in websocket fallback mode",
		}),
	}
}

func (p *PrometheusCollector) SocketOpened() { p.socketsOpen.Inc() }

func (p *PrometheusCollector) SocketClosed() { p.socketsOpen.Dec() }

func (p *PrometheusCollector) PeerOnline() { p.peersConnected.Inc() }

func (p *PrometheusCollector) PeerOffline() { p.peersConnected.Dec() }

func (p *PrometheusCollector) SetRoomsTracked(n int) {
	p.roomsTracked.Set(float64(n))
}

func (p *PrometheusCollector) RecordEnqueued(msgType string) {
	p.messagesEnqueued.WithLabelValues(msgType).Inc()
}

func (p *PrometheusCollector) RecordDroppedCandidates(count int) {
	p.candidatesDropped.Add(float64(count))
}

func (p *PrometheusCollector) RecordQueueDepth(roomID string, depth int) {
	p.queueDepth.WithLabelValues(roomID).Set(float64(depth))
}

func (p *PrometheusCollector) RecordRelayFrame() {
	p.relayFramesTotal.Inc()
}

func (p *PrometheusCollector) RecordReconnectRequested() {
	p.reconnectsTotal.Inc()
}

func (p *PrometheusCollector) SetFallbackPairs(count int) {
	p.fallbackPairsCount.Set(float64(count))
}
