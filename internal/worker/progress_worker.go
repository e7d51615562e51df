package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/examdesk/examdesk-backend/internal/config"
	"github.com/examdesk/examdesk-backend/internal/progress"
)

const (
	ProgressBatchSize    = 50
	ProgressBatchTimeout = 2 * time.Second
	ProgressPollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// ProgressWorker drains the persist queue and flushes in-flight session state
// to the durable rows. The version guard in the update keeps replays and
// out-of-order deliveries from rolling a row backwards.
type ProgressWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewProgressWorker creates a new ProgressWorker.
func NewProgressWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *ProgressWorker {
	return &ProgressWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "progress_worker").Logger(),
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *ProgressWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	batch := make([]*progress.FlushPayload, 0, ProgressBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= ProgressBatchSize || time.Since(lastFlush) >= ProgressBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			w.flushSafe(shutdownCtx, batch)
			cancel()
			return

		default:
			item, err := w.rdb.BLPop(ctx, ProgressPollTimeout, config.WorkerKey.PersistProgressQueue).Result()
			if err != nil {
				if err == redis.Nil {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
				time.Sleep(3 * time.Second)
				continue
			}

			if len(item) < 2 {
				continue
			}

			var p progress.FlushPayload
			if err := json.Unmarshal([]byte(item[1]), &p); err != nil {
				w.log.Error().Err(err).Str("data", item[1]).Msg("Discarding malformed JSON")
				continue
			}

			batch = append(batch, &p)
		}
	}
}

// flushSafe collapses the batch to the latest version per session, attempts
// the bulk update, then recovers row-by-row on failure.
func (w *ProgressWorker) flushSafe(ctx context.Context, batch []*progress.FlushPayload) {
	if len(batch) == 0 {
		return
	}

	latest := make(map[string]*progress.FlushPayload, len(batch))
	for _, p := range batch {
		if cur, ok := latest[p.SessionID]; !ok || p.Version > cur.Version {
			latest[p.SessionID] = p
		}
	}
	deduped := make([]*progress.FlushPayload, 0, len(latest))
	for _, p := range latest {
		deduped = append(deduped, p)
	}

	if err := w.bulkUpdate(ctx, deduped); err != nil {
		w.log.Warn().Err(err).Int("count", len(deduped)).
			Msg("Bulk progress update failed, attempting row-by-row recovery")
		w.fallbackUpdate(ctx, deduped)
	}
}

func (w *ProgressWorker) bulkUpdate(ctx context.Context, batch []*progress.FlushPayload) error {
	n := len(batch)

	ids := make([]uuid.UUID, 0, n)
	answers := make([][]byte, 0, n)
	elapsed := make([]int, 0, n)
	violations := make([]int, 0, n)
	versions := make([]int64, 0, n)

	for _, p := range batch {
		id, err := uuid.Parse(p.SessionID)
		if err != nil {
			return err
		}
		ab, _ := json.Marshal(p.Answers)

		ids = append(ids, id)
		answers = append(answers, ab)
		elapsed = append(elapsed, p.ElapsedSeconds)
		violations = append(violations, p.ViolationCount)
		versions = append(versions, p.Version)
	}

	query := `
		UPDATE exam_sessions AS s
		SET answers = t.answers,
		    elapsed_seconds = t.elapsed,
		    violation_count = t.violations,
		    progress_version = t.version
		FROM (
			SELECT u.id, u.answers, u.elapsed, u.violations, u.version
			FROM UNNEST(
				$1::uuid[],
				$2::jsonb[],
				$3::int[],
				$4::int[],
				$5::bigint[]
			) AS u (id, answers, elapsed, violations, version)
		) AS t
		WHERE s.id = t.id
		  AND s.status = 'IN_PROGRESS'
		  AND s.progress_version < t.version
	`

	_, err := w.pool.Exec(ctx, query, ids, answers, elapsed, violations, versions)
	return err
}

func (w *ProgressWorker) fallbackUpdate(ctx context.Context, batch []*progress.FlushPayload) {
	requeueList := make([]*progress.FlushPayload, 0)

	for _, p := range batch {
		id, err := uuid.Parse(p.SessionID)
		if err != nil {
			w.log.Error().Str("session_id", p.SessionID).Msg("Dropping progress with invalid UUID")
			continue
		}
		ab, _ := json.Marshal(p.Answers)

		_, err = w.pool.Exec(ctx,
			`UPDATE exam_sessions
			 SET answers = $1, elapsed_seconds = $2, violation_count = $3, progress_version = $4
			 WHERE id = $5 AND status = 'IN_PROGRESS' AND progress_version < $4`,
			ab, p.ElapsedSeconds, p.ViolationCount, p.Version, id,
		)
		if err != nil {
			w.log.Error().Err(err).Str("session_id", p.SessionID).Msg("Update failed, requeueing")
			requeueList = append(requeueList, p)
		}
	}

	if len(requeueList) > 0 {
		w.requeue(ctx, requeueList)
	}
}

func (w *ProgressWorker) requeue(ctx context.Context, items []*progress.FlushPayload) {
	pipe := w.rdb.Pipeline()
	for _, p := range items {
		data, _ := json.Marshal(p)
		pipe.RPush(ctx, config.WorkerKey.PersistProgressQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Msg("CRITICAL: Failed to requeue items to Redis. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed items back to Redis")
	time.Sleep(2 * time.Second)
}
