package monitoring

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

const occupiedKeyPrefix = "raffle:occupied:"

var (
	occupiedTickets = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "raffle_occupied_tickets",
			Help: "Cached number of taken tickets per raffle",
		},
		[]string{"raffle_id"},
	)

	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "checkout_sessions_active",
			Help: "Current number of open checkout sessions",
		},
	)

	drawOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draw_operations_total",
			Help: "Random draws by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_submissions_total",
			Help: "Checkout submissions by outcome",
		},
		[]string{"raffle_id", "outcome"},
	)

	submitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "checkout_submit_duration_seconds",
			Help:    "Duration of checkout submissions including receipt upload",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"outcome"},
	)

	realtimeEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_ticket_events_total",
			Help: "Ticket change events dispatched to sessions",
		},
		[]string{"kind", "keyed"},
	)

	receiptUploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "receipt_uploads_total",
			Help: "Receipt uploads by location and outcome",
		},
		[]string{"location", "outcome"},
	)

	rateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "antibot_rejections_total",
			Help: "Requests rejected by the anti-bot middleware",
		},
		[]string{"reason"},
	)
)

// Monitor records raffle metrics. A nil *Monitor is valid and records nothing.
type Monitor struct {
	redis redis.UniversalClient
}

func NewMonitor(redisClient redis.UniversalClient) *Monitor {
	return &Monitor{redis: redisClient}
}

// Run samples the occupied-number cache every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.collectOccupiedMetrics(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) collectOccupiedMetrics(ctx context.Context) {
	if m == nil || m.redis == nil {
		return
	}

	iter := m.redis.Scan(ctx, 0, occupiedKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		length, err := m.redis.HLen(ctx, key).Result()
		if err != nil {
			continue
		}
		// one field is the completeness marker
		if length > 0 {
			length--
		}
		occupiedTickets.WithLabelValues(strings.TrimPrefix(key, occupiedKeyPrefix)).Set(float64(length))
	}
	if err := iter.Err(); err != nil {
		slog.Warn("occupied metrics scan failed", "error", err)
	}
}

func (m *Monitor) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	activeSessions.Set(float64(n))
}

func (m *Monitor) TrackDraw(mode, outcome string) {
	if m == nil {
		return
	}
	drawOperations.WithLabelValues(mode, outcome).Inc()
}

func (m *Monitor) TrackSubmission(raffleID, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	submissions.WithLabelValues(raffleID, outcome).Inc()
	submitDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (m *Monitor) TrackRealtimeEvent(kind string, keyed bool) {
	if m == nil {
		return
	}
	label := "false"
	if keyed {
		label = "true"
	}
	realtimeEvents.WithLabelValues(kind, label).Inc()
}

func (m *Monitor) TrackReceiptUpload(location, outcome string) {
	if m == nil {
		return
	}
	receiptUploads.WithLabelValues(location, outcome).Inc()
}

func (m *Monitor) TrackRejection(reason string) {
	if m == nil {
		return
	}
	rateLimited.WithLabelValues(reason).Inc()
}
