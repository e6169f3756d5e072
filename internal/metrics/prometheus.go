package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all the Prometheus metrics for our service
type Metrics struct {
	// Request counters
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight *prometheus.GaugeVec

	// Auction metrics
	AuctionsTotal   *prometheus.CounterVec
	AuctionWinners  *prometheus.CounterVec
	AuctionDuration *prometheus.HistogramVec
	BidsSkipped     *prometheus.CounterVec

	// Budget and event metrics
	ChargesTotal    *prometheus.CounterVec
	AlertsTotal     *prometheus.CounterVec
	AutoPausesTotal prometheus.Counter
	LedgerErrors    *prometheus.CounterVec
	EventsTotal     *prometheus.CounterVec
	Reconciliations *prometheus.CounterVec

	// Bid index metrics
	IndexBids      prometheus.Gauge
	IndexRefreshes *prometheus.CounterVec

	// Storage metrics
	DatabaseQueries *prometheus.CounterVec
	DatabaseErrors  *prometheus.CounterVec

	// Health check metrics
	HealthCheckStatus *prometheus.GaugeVec
}

// NewPrometheusMetrics creates and registers all metrics on the default registry
func NewPrometheusMetrics() *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer)
}

// NewMetrics creates all metrics and registers them on reg. Tests pass a
// fresh prometheus.NewRegistry().
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	metrics := &Metrics{
		// HTTP request metrics
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bidbeacon_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bidbeacon_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPRequestsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bidbeacon_http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
			[]string{"method", "endpoint"},
		),

		// Auction metrics
		AuctionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bidbeacon_auctions_total",
				Help: "Total number of auctions run",
			},
			[]string{"placement", "outcome"},
		),

		AuctionWinners: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bidbeacon_auction_winners_total",
				Help: "Total number of slots filled",
			},
			[]string{"placement"},
		),

		AuctionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bidbeacon_auction_duration_seconds",
				Help:    "Auction duration in seconds",
				Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
			},
			[]string{"placement"},
		),

		BidsSkipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bidbeacon_bids_skipped_total",
				Help: "Bids left out of auctions",
			},
			[]string{"reason"},
		),

		// Budget and event metrics
		ChargesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bidbeacon_charges_total",
				Help: "Ledger charge attempts by outcome",
			},
			[]string{"outcome"},
		),

		AlertsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bidbeacon_budget_alerts_total",
				Help: "Budget threshold alerts emitted",
			},
			[]string{"threshold"},
		),

		AutoPausesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bidbeacon_campaign_auto_pauses_total",
				Help: "Campaigns paused for budget exhaustion",
			},
		),

		LedgerErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bidbeacon_ledger_errors_total",
				Help: "Ledger operation failures",
			},
			[]string{"operation"},
		),

		EventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bidbeacon_events_total",
				Help: "Tracked events by type and charge status",
			},
			[]string{"type", "charge_status"},
		),

		Reconciliations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bidbeacon_reconciliations_total",
				Help: "Unconfirmed click charges reconciled by outcome",
			},
			[]string{"outcome"},
		),

		// Bid index metrics
		IndexBids: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "bidbeacon_index_bids",
				Help: "Bids currently held in the bid index",
			},
		),

		IndexRefreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bidbeacon_index_refreshes_total",
				Help: "Bid index refreshes by result",
			},
			[]string{"result"},
		),

		DatabaseQueries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bidbeacon_database_queries_total",
				Help: "Total number of database queries",
			},
			[]string{"operation", "table"},
		),

		DatabaseErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bidbeacon_database_errors_total",
				Help: "Total number of database errors",
			},
			[]string{"operation", "error_type"},
		),

		// Health check metrics
		HealthCheckStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bidbeacon_health_check_status",
				Help: "Health check status (1 = healthy, 0 = unhealthy)",
			},
			[]string{"check_type"},
		),
	}

	return metrics
}

// RecordHTTPRequest records an HTTP request with its duration and status
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration float64) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordAuction records one auction with the number of slots it filled
func (m *Metrics) RecordAuction(placement string, winners int, duration float64) {
	if placement == "" {
		placement = "any"
	}
	outcome := "filled"
	if winners == 0 {
		outcome = "empty"
	}
	m.AuctionsTotal.WithLabelValues(placement, outcome).Inc()
	m.AuctionWinners.WithLabelValues(placement).Add(float64(winners))
	m.AuctionDuration.WithLabelValues(placement).Observe(duration)
}

// RecordBidSkipped records a bid left out of an auction
func (m *Metrics) RecordBidSkipped(reason string) {
	m.BidsSkipped.WithLabelValues(reason).Inc()
}

// RecordCharge records a charge attempt outcome
func (m *Metrics) RecordCharge(outcome string) {
	m.ChargesTotal.WithLabelValues(outcome).Inc()
}

// RecordAlert records an emitted budget alert
func (m *Metrics) RecordAlert(threshold int) {
	m.AlertsTotal.WithLabelValues(strconv.Itoa(threshold)).Inc()
}

// RecordAutoPause records a budget auto-pause
func (m *Metrics) RecordAutoPause() {
	m.AutoPausesTotal.Inc()
}

// RecordLedgerError records a failed ledger operation
func (m *Metrics) RecordLedgerError(operation string) {
	m.LedgerErrors.WithLabelValues(operation).Inc()
}

// RecordEvent records a tracked event
func (m *Metrics) RecordEvent(eventType, chargeStatus string) {
	m.EventsTotal.WithLabelValues(eventType, chargeStatus).Inc()
}

// RecordReconciliation records the outcome of one reconciled click
func (m *Metrics) RecordReconciliation(outcome string) {
	m.Reconciliations.WithLabelValues(outcome).Inc()
}

// SetIndexSize sets the number of bids in the index
func (m *Metrics) SetIndexSize(bids int) {
	m.IndexBids.Set(float64(bids))
}

// RecordIndexRefresh records an index refresh result
func (m *Metrics) RecordIndexRefresh(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.IndexRefreshes.WithLabelValues(result).Inc()
}

// RecordDatabaseQuery records a database query
func (m *Metrics) RecordDatabaseQuery(operation, table string) {
	m.DatabaseQueries.WithLabelValues(operation, table).Inc()
}

// RecordDatabaseError records a database error
func (m *Metrics) RecordDatabaseError(operation, errorType string) {
	m.DatabaseErrors.WithLabelValues(operation, errorType).Inc()
}

// SetHealthCheckStatus sets the health check status
func (m *Metrics) SetHealthCheckStatus(checkType string, healthy bool) {
	status := 0.0
	if healthy {
		status = 1.0
	}
	m.HealthCheckStatus.WithLabelValues(checkType).Set(status)
}

// IncRequestsInFlight increments the in-flight requests counter
func (m *Metrics) IncRequestsInFlight(method, endpoint string) {
	m.HTTPRequestsInFlight.WithLabelValues(method, endpoint).Inc()
}

// DecRequestsInFlight decrements the in-flight requests counter
func (m *Metrics) DecRequestsInFlight(method, endpoint string) {
	m.HTTPRequestsInFlight.WithLabelValues(method, endpoint).Dec()
}
