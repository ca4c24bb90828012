package httpapi

import "time"

// Stats is the payload of GET /api/stats.
type Stats struct {
	ClientCount    int            `json:"client_count"`
	UpstreamState  string         `json:"upstream_state"`
	QueueDepths    map[string]int `json:"queue_depths"`
	WriteTimeStats WriteTimeStats `json:"write_time"`
	MessageRates   MessageRates   `json:"message_rates"`

	// Filtered* count keywords dropped by the elevation/traffic/
	// flight-control filters (spec §4.2 rule 3, "Filtered keyword:
	// dropped; counted").
	FilteredElevation      int64 `json:"filtered_elevation"`
	FilteredTraffic        int64 `json:"filtered_traffic"`
	FilteredFlightControls int64 `json:"filtered_flight_controls"`
}

// WriteTimeStats summarises observed per-write latency, per spec §6
// ("write-time statistics (max/median/mean/stdev)").
type WriteTimeStats struct {
	MaxMicros    int64   `json:"max_micros"`
	MedianMicros int64   `json:"median_micros"`
	MeanMicros   float64 `json:"mean_micros"`
	StdDevMicros float64 `json:"stddev_micros"`
}

// MessageRates is a coarse per-second throughput snapshot.
type MessageRates struct {
	InboundPerSecond  float64 `json:"inbound_per_second"`
	OutboundPerSecond float64 `json:"outbound_per_second"`
}

// ClientSummary is one entry of GET /api/clients, matching spec §6's
// field list exactly.
type ClientSummary struct {
	ID                        int64  `json:"id"`
	IP                        string `json:"ip"`
	Port                      int    `json:"port"`
	DisplayName               string `json:"display_name"`
	MessagesSent              int64  `json:"messages_sent"`
	MessagesReceived          int64  `json:"messages_received"`
	ClientProvidedID          string `json:"client_provided_id"`
	ClientProvidedDisplayName string `json:"client_provided_display_name"`
}

// RouterInfoView is one entry of GET /api/routerinfo.
type RouterInfoView struct {
	Payload  map[string]interface{} `json:"payload"`
	Received time.Time              `json:"received"`
}

// UpstreamView is the payload of GET /api/upstream.
type UpstreamView struct {
	Host  string `json:"host"`
	Port  int    `json:"port"`
	State string `json:"state"`
}

// SetUpstreamRequest is the form body of POST /api/upstream.
type SetUpstreamRequest struct {
	Host     string `form:"host" binding:"required"`
	Port     int    `form:"port" binding:"required"`
	Password string `form:"password"`
}

// BlocklistEntry is a runtime-added entry ahead of the configured
// [[access]] rules, for operators reacting to a live incident without a
// restart.
type BlocklistEntry struct {
	DisplayName string `json:"display_name" form:"display_name" binding:"required"`
	MatchIPv4   string `json:"match_ipv4" form:"match_ipv4" binding:"required"`
	Reason      string `json:"reason" form:"reason"`
}

// Core is the subset of router.Router the HTTP API needs. Defined here
// (the consumer) rather than in package router, so router never has to
// import httpapi.
type Core interface {
	Stats() Stats
	Clients() []ClientSummary
	Disconnect(clientID int64) bool

	RouterInfos() map[string]RouterInfoView
	SharedInfos() map[string]RouterInfoView

	Upstream() UpstreamView
	SetUpstream(req SetUpstreamRequest) error

	SetFilter(name string, enabled bool) error

	Blocklist() []BlocklistEntry
	AddBlock(entry BlocklistEntry) error
	RemoveBlock(displayName string) error

	VPilotPrint(message string) error
}
