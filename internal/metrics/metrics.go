package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PendingRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_client_pending_requests",
		Help: "Number of signaling requests awaiting a response",
	})

	SignalRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_signal_requests_total",
		Help: "Total number of signaling requests by command type and outcome",
	}, []string{"type", "outcome"}) // "ok" | "protocol_error" | "closed" | "canceled" | "send_failed"

	SignalEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_signal_events_total",
		Help: "Total number of unsolicited signaling frames by type",
	}, []string{"type"})

	SignalConnectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_signal_connections_total",
		Help: "Total number of signaling connection attempts by result",
	}, []string{"result"}) // "open" | "error"

	SignalClosesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_signal_closes_total",
		Help: "Total number of signaling connection closes by close code",
	}, []string{"code"})

	// ActivePeerConnections tracks open peer connections by role
	ActivePeerConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_client_active_peer_connections",
		Help: "Number of open WebRTC peer connections",
	}, []string{"role"}) // "publisher" | "subscriber"

	NegotiationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_negotiations_total",
		Help: "Total number of completed negotiation rounds by role",
	}, []string{"role"})

	NegotiationFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_negotiation_failures_total",
		Help: "Total number of failed negotiation rounds by role and stage",
	}, []string{"role", "stage"})

	CandidatesBufferedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_candidates_buffered_total",
		Help: "Total number of remote ICE candidates buffered before a remote description",
	}, []string{"role"})

	ICERestartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_ice_restarts_total",
		Help: "Total number of ICE restarts requested by role",
	}, []string{"role"})

	RemoteTracks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_client_remote_tracks",
		Help: "Number of remote tracks currently received",
	})

	Participants = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_client_participants",
		Help: "Number of known room participants",
	})
)
