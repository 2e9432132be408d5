// Package metrics exposes Prometheus collectors for the acoustic stack:
// PHY frame outcomes, MAC retries/link failures, and NAT translation
// activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the modem registers with Prometheus.
type Metrics struct {
	framesDecoded      *prometheus.CounterVec // by outcome: ok, uncorrectable, crc_mismatch, length_invalid
	framesTransmitted  prometheus.Counter
	correctedSymbols   prometheus.Histogram

	macSendAttempts    prometheus.Counter
	macSendSuccesses   prometheus.Counter
	macLinkFailures    prometheus.Counter
	macBackoffSeconds  prometheus.Histogram
	macDuplicateFrames prometheus.Counter

	natTableSize       prometheus.Gauge
	natEchoTranslated  prometheus.Counter
	natPacketsDropped  *prometheus.CounterVec // by reason: not_ipv4, not_icmp, no_mapping
}

// New registers and returns the acoustic stack's metric collectors.
func New() *Metrics {
	return &Metrics{
		framesDecoded: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acoustic_phy_frames_decoded_total",
				Help: "PHY frame decode attempts by outcome",
			},
			[]string{"outcome"},
		),
		framesTransmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "acoustic_phy_frames_transmitted_total",
			Help: "PHY frames modulated and played on air",
		}),
		correctedSymbols: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "acoustic_phy_corrected_symbols",
			Help:    "Number of RS symbol errors corrected per successfully decoded frame",
			Buckets: prometheus.LinearBuckets(0, 1, 7),
		}),
		macSendAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "acoustic_mac_send_attempts_total",
			Help: "MAC frame transmission attempts, including retries",
		}),
		macSendSuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "acoustic_mac_send_successes_total",
			Help: "MAC frames acknowledged successfully",
		}),
		macLinkFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "acoustic_mac_link_failures_total",
			Help: "MAC sends abandoned after exhausting MAX_SEND retries",
		}),
		macBackoffSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "acoustic_mac_backoff_seconds",
			Help:    "Backoff durations inserted before retransmission",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 8),
		}),
		macDuplicateFrames: promauto.NewCounter(prometheus.CounterOpts{
			Name: "acoustic_mac_duplicate_frames_total",
			Help: "DATA frames dropped as duplicates by the dedup window",
		}),
		natTableSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "acoustic_nat_table_entries",
			Help: "Current number of live ICMP echo translations",
		}),
		natEchoTranslated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "acoustic_nat_echo_translated_total",
			Help: "ICMP echo packets translated by the NAT bridge",
		}),
		natPacketsDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acoustic_nat_packets_dropped_total",
				Help: "Packets dropped by the NAT bridge by reason",
			},
			[]string{"reason"},
		),
	}
}

func (m *Metrics) FrameDecoded(outcome string) {
	m.framesDecoded.WithLabelValues(outcome).Inc()
}

func (m *Metrics) FrameTransmitted() {
	m.framesTransmitted.Inc()
}

func (m *Metrics) CorrectedSymbols(n int) {
	m.correctedSymbols.Observe(float64(n))
}

func (m *Metrics) MACSendAttempt() {
	m.macSendAttempts.Inc()
}

func (m *Metrics) MACSendSuccess() {
	m.macSendSuccesses.Inc()
}

func (m *Metrics) MACLinkFailure() {
	m.macLinkFailures.Inc()
}

func (m *Metrics) MACBackoff(seconds float64) {
	m.macBackoffSeconds.Observe(seconds)
}

func (m *Metrics) MACDuplicateFrame() {
	m.macDuplicateFrames.Inc()
}

func (m *Metrics) NATTableSize(n int) {
	m.natTableSize.Set(float64(n))
}

func (m *Metrics) NATEchoTranslated() {
	m.natEchoTranslated.Inc()
}

func (m *Metrics) NATPacketDropped(reason string) {
	m.natPacketsDropped.WithLabelValues(reason).Inc()
}
