package core

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/edvin/pacgate/internal/metrics"
	"github.com/edvin/pacgate/internal/model"
	"github.com/edvin/pacgate/internal/platform"
)

// UsageService records PAC fetches asynchronously and serves read-side
// aggregation for the monitoring dashboard. Recording never blocks or fails
// the request path: entries go through a buffered channel and are dropped
// (with a log line and a counter bump) when the buffer is full.
type UsageService struct {
	db     DB
	logger zerolog.Logger
	ch     chan usageEntry
	done   chan struct{}
}

type usageEntry struct {
	DeviceID  *string
	IP        string
	UserAgent *string
	Outcome   model.Outcome
	Reason    string
}

func NewUsageService(db DB, logger zerolog.Logger, buffer int) *UsageService {
	if buffer <= 0 {
		buffer = 1024
	}
	s := &UsageService{
		db:     db,
		logger: logger,
		ch:     make(chan usageEntry, buffer),
		done:   make(chan struct{}),
	}
	go s.drain()
	return s
}

func (s *UsageService) drain() {
	defer close(s.done)
	for entry := range s.ch {
		_, err := s.db.Exec(
			// context.Background since this runs outside any request.
			context.Background(),
			`INSERT INTO usage_records (id, device_id, ip, user_agent, outcome, reason, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, now())`,
			platform.NewID(), entry.DeviceID, entry.IP, entry.UserAgent, entry.Outcome, entry.Reason,
		)
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to write usage record")
		}
	}
}

// Record enqueues a usage record. Fire-and-forget: a full buffer drops the
// entry rather than delaying the PAC response.
func (s *UsageService) Record(deviceID *string, ip string, userAgent *string, outcome model.Outcome, reason string) {
	select {
	case s.ch <- usageEntry{DeviceID: deviceID, IP: ip, UserAgent: userAgent, Outcome: outcome, Reason: reason}:
	default:
		metrics.UsageRecordsDropped.Inc()
		s.logger.Warn().Msg("usage record buffer full, dropping entry")
	}
}

// Close stops accepting records and waits for queued entries to be written.
func (s *UsageService) Close() {
	close(s.ch)
	<-s.done
}

// ListRecords retrieves usage records, newest first, with cursor-based
// pagination and optional device/outcome filters.
func (s *UsageService) ListRecords(ctx context.Context, limit int, cursor, deviceID string, outcome model.Outcome) ([]model.UsageRecord, bool, error) {
	query := `SELECT id, device_id, ip, user_agent, outcome, reason, created_at FROM usage_records WHERE 1=1`
	args := []any{}
	argIdx := 1

	if cursor != "" {
		query += fmt.Sprintf(` AND id < $%d`, argIdx)
		args = append(args, cursor)
		argIdx++
	}
	if deviceID != "" {
		query += fmt.Sprintf(` AND device_id = $%d`, argIdx)
		args = append(args, deviceID)
		argIdx++
	}
	if outcome != "" {
		query += fmt.Sprintf(` AND outcome = $%d`, argIdx)
		args = append(args, outcome)
		argIdx++
	}

	query += fmt.Sprintf(` ORDER BY id DESC LIMIT $%d`, argIdx)
	args = append(args, limit+1)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list usage records: %w", err)
	}
	defer rows.Close()

	var records []model.UsageRecord
	for rows.Next() {
		var r model.UsageRecord
		if err := rows.Scan(&r.ID, &r.DeviceID, &r.IP, &r.UserAgent, &r.Outcome, &r.Reason, &r.CreatedAt); err != nil {
			return nil, false, fmt.Errorf("scan usage record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate usage records: %w", err)
	}

	hasMore := len(records) > limit
	if hasMore {
		records = records[:limit]
	}
	return records, hasMore, nil
}

var validBuckets = map[string]bool{"minute": true, "hour": true, "day": true}

// Stats aggregates usage since the given time, bucketed by minute, hour, or
// day. The four aggregation queries fan out concurrently.
func (s *UsageService) Stats(ctx context.Context, since time.Time, bucket string) (*model.UsageStats, error) {
	if !validBuckets[bucket] {
		return nil, fmt.Errorf("invalid bucket %q: must be minute, hour, or day", bucket)
	}

	stats := &model.UsageStats{ByReason: map[string]int64{}}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		rows, err := s.db.Query(ctx,
			`SELECT outcome, count(*) FROM usage_records WHERE created_at >= $1 GROUP BY outcome`, since)
		if err != nil {
			return fmt.Errorf("count outcomes: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var outcome model.Outcome
			var count int64
			if err := rows.Scan(&outcome, &count); err != nil {
				return fmt.Errorf("scan outcome count: %w", err)
			}
			switch outcome {
			case model.OutcomeServed:
				stats.Served = count
			case model.OutcomeDenied:
				stats.Denied = count
			}
		}
		return rows.Err()
	})

	g.Go(func() error {
		rows, err := s.db.Query(ctx,
			`SELECT reason, count(*) FROM usage_records
			 WHERE created_at >= $1 AND outcome = 'denied' GROUP BY reason`, since)
		if err != nil {
			return fmt.Errorf("count denial reasons: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var reason string
			var count int64
			if err := rows.Scan(&reason, &count); err != nil {
				return fmt.Errorf("scan reason count: %w", err)
			}
			stats.ByReason[reason] = count
		}
		return rows.Err()
	})

	g.Go(func() error {
		rows, err := s.db.Query(ctx,
			`SELECT u.device_id, d.name, count(*) AS c FROM usage_records u
			 JOIN devices d ON d.id = u.device_id
			 WHERE u.created_at >= $1 AND u.device_id IS NOT NULL
			 GROUP BY u.device_id, d.name ORDER BY c DESC LIMIT 5`, since)
		if err != nil {
			return fmt.Errorf("count top devices: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var dc model.DeviceCount
			if err := rows.Scan(&dc.DeviceID, &dc.Name, &dc.Count); err != nil {
				return fmt.Errorf("scan device count: %w", err)
			}
			stats.TopDevices = append(stats.TopDevices, dc)
		}
		return rows.Err()
	})

	g.Go(func() error {
		rows, err := s.db.Query(ctx,
			`SELECT date_trunc($1, created_at) AS bucket,
			        count(*) FILTER (WHERE outcome = 'served'),
			        count(*) FILTER (WHERE outcome = 'denied')
			 FROM usage_records WHERE created_at >= $2
			 GROUP BY bucket ORDER BY bucket`, bucket, since)
		if err != nil {
			return fmt.Errorf("bucket counts: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var tb model.TimeBucket
			if err := rows.Scan(&tb.Bucket, &tb.Served, &tb.Denied); err != nil {
				return fmt.Errorf("scan bucket count: %w", err)
			}
			stats.Buckets = append(stats.Buckets, tb)
		}
		return rows.Err()
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stats, nil
}
