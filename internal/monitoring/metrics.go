package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	ResponseTimeHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_time_seconds",
			Help:    "Histogram of response times",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	LedgerTransactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_transactions_total",
			Help: "Ledger transactions appended, by type",
		},
		[]string{"type"},
	)

	InsufficientCreditsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_insufficient_credits_total",
			Help: "Debit attempts rejected for insufficient balance",
		},
	)

	DuplicatePaymentsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_duplicate_payments_total",
			Help: "Payment webhook deliveries dropped as duplicates",
		},
	)

	InvoicesRenderedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "invoices_rendered_total",
			Help: "Invoice documents rendered",
		},
	)
)
