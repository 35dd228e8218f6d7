package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/haloedu/ujianku-backend/internal/config"
	"github.com/haloedu/ujianku-backend/internal/model"
)

const (
	AttemptBatchSize    = 50
	AttemptBatchTimeout = 2 * time.Second
	AttemptPollTimeout  = 1 * time.Second
)

// AttemptWorker consumes finalized attempts from the persistence queue and
// freezes them in PostgreSQL. Submission latency never depends on the
// database: the session only pays the cost of an RPush.
type AttemptWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewAttemptWorker creates a new AttemptWorker.
func NewAttemptWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *AttemptWorker {
	return &AttemptWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "attempt_worker").Logger(),
	}
}

// Start begins the worker loop with time/size batching. Call in a goroutine.
func (w *AttemptWorker) Start(ctx context.Context) {
	w.log.Info().Msg("AttemptWorker started")

	batch := make([]*model.ExamAttempt, 0, AttemptBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= AttemptBatchSize || time.Since(lastFlush) >= AttemptBatchTimeout) {

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
			item, err := w.rdb.BLPop(ctx, AttemptPollTimeout, config.WorkerKey.PersistAttemptsQueue).Result()
			if err != nil {
				if err != redis.Nil && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			var a model.ExamAttempt
			if err := json.Unmarshal([]byte(item[1]), &a); err != nil {
				w.log.Error().Err(err).Str("data", item[1]).Msg("Discarding malformed JSON")
				continue
			}

			batch = append(batch, &a)
		}
	}
}

// flushSafe attempts a bulk update, falls back to row-by-row, and requeues
// what still fails.
func (w *AttemptWorker) flushSafe(ctx context.Context, batch []*model.ExamAttempt) {
	if len(batch) == 0 {
		return
	}

	if err := w.bulkFinalize(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk finalize failed, attempting row-by-row recovery")

		for _, a := range batch {
			if err := w.finalizeSingle(ctx, a); err != nil {
				w.log.Error().Err(err).Str("attempt_id", a.ID.String()).Msg("Finalize failed, requeueing")
				raw, _ := json.Marshal(a)
				w.rdb.RPush(ctx, config.WorkerKey.PersistAttemptsQueue, raw)
			}
		}
		return
	}

	// Frozen in PostgreSQL. The autosave buffers are no longer needed.
	w.bulkClearAutosavedAnswers(ctx, batch)
}

// bulkFinalize freezes a whole batch with a single UNNEST update.
func (w *AttemptWorker) bulkFinalize(ctx context.Context, batch []*model.ExamAttempt) error {
	n := len(batch)

	ids := make([]uuid.UUID, 0, n)
	answers := make([][]byte, 0, n)
	scores := make([]int, 0, n)
	totals := make([]int, 0, n)
	percentages := make([]float64, 0, n)
	passed := make([]bool, 0, n)
	elapsed := make([]int, 0, n)
	causes := make([]string, 0, n)
	submittedAts := make([]time.Time, 0, n)

	now := time.Now()
	for _, a := range batch {
		raw, err := json.Marshal(a.Answers)
		if err != nil {
			return err
		}
		submittedAt := now
		if a.SubmittedAt != nil {
			submittedAt = *a.SubmittedAt
		}
		ids = append(ids, a.ID)
		answers = append(answers, raw)
		scores = append(scores, a.Score)
		totals = append(totals, a.TotalPoints)
		percentages = append(percentages, a.Percentage)
		passed = append(passed, a.Passed)
		elapsed = append(elapsed, a.ElapsedMinutes)
		causes = append(causes, string(a.Cause))
		submittedAts = append(submittedAts, submittedAt)
	}

	query := `
		UPDATE exam_attempts AS a
		SET status = 'COMPLETED',
		    answers = t.answers,
		    score = t.score,
		    total_points = t.total_points,
		    percentage = t.percentage,
		    passed = t.passed,
		    elapsed_minutes = t.elapsed_minutes,
		    cause = t.cause,
		    submitted_at = t.submitted_at
		FROM (
			SELECT
				u.id,
				u.answers,
				u.score,
				u.total_points,
				u.percentage,
				u.passed,
				u.elapsed_minutes,
				u.cause,
				u.submitted_at
			FROM UNNEST(
				$1::uuid[],
				$2::jsonb[],
				$3::int[],
				$4::int[],
				$5::float8[],
				$6::bool[],
				$7::int[],
				$8::text[],
				$9::timestamptz[]
			) AS u (id, answers, score, total_points, percentage, passed, elapsed_minutes, cause, submitted_at)
		) AS t
		WHERE a.id = t.id
	`

	_, err := w.pool.Exec(ctx, query,
		ids, answers, scores, totals, percentages, passed, elapsed, causes, submittedAts)
	return err
}

// finalizeSingle is the fallback path for one attempt.
func (w *AttemptWorker) finalizeSingle(ctx context.Context, a *model.ExamAttempt) error {
	submittedAt := time.Now()
	if a.SubmittedAt != nil {
		submittedAt = *a.SubmittedAt
	}

	_, err := w.pool.Exec(ctx,
		`UPDATE exam_attempts
		 SET status = 'COMPLETED',
		     answers = $1,
		     score = $2,
		     total_points = $3,
		     percentage = $4,
		     passed = $5,
		     elapsed_minutes = $6,
		     cause = $7,
		     submitted_at = $8
		 WHERE id = $9`,
		a.Answers, a.Score, a.TotalPoints, a.Percentage,
		a.Passed, a.ElapsedMinutes, a.Cause, submittedAt, a.ID,
	)
	return err
}

// bulkClearAutosavedAnswers drops the Redis answer mirrors for finalized
// attempts.
func (w *AttemptWorker) bulkClearAutosavedAnswers(ctx context.Context, batch []*model.ExamAttempt) {
	pipe := w.rdb.Pipeline()

	for _, a := range batch {
		pipe.Del(ctx, config.CacheKey.StudentAnswersKey(a.ExamID.String(), a.StudentID))
		pipe.Del(ctx, config.CacheKey.AttemptStartKey(a.ExamID.String(), a.StudentID))
	}

	_, _ = pipe.Exec(ctx)
}
