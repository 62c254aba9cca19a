package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jscheidtmann/BadWeatherMountTester/internal/metrics"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/session"
)

// insertTimeout bounds a single run insert.
const insertTimeout = 5 * time.Second

// Recorder writes completed runs to the store off the simulation loop.
type Recorder struct {
	store  *Store
	logger *slog.Logger
}

// NewRecorder creates a recorder writing to s.
func NewRecorder(s *Store, logger *slog.Logger) *Recorder {
	return &Recorder{store: s, logger: logger}
}

// Run inserts every record received from records. When ctx is cancelled it
// flushes what is already buffered and returns.
func (r *Recorder) Run(ctx context.Context, records <-chan session.RunRecord) {
	for {
		select {
		case <-ctx.Done():
			r.drain(records)
			r.logger.Info("run recorder stopped")
			return
		case rec, ok := <-records:
			if !ok {
				return
			}
			r.insert(rec)
		}
	}
}

func (r *Recorder) drain(records <-chan session.RunRecord) {
	for {
		select {
		case rec, ok := <-records:
			if !ok {
				return
			}
			r.insert(rec)
		default:
			return
		}
	}
}

func (r *Recorder) insert(rec session.RunRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()

	id, err := r.store.InsertRun(ctx, rec)
	if err != nil {
		metrics.IncRunRecordErrors()
		r.logger.Warn("run record insert failed",
			"session_id", rec.SessionID,
			"run", rec.Run,
			"error", err,
		)
		return
	}
	metrics.IncRunsRecorded()
	r.logger.Debug("run recorded", "id", id, "session_id", rec.SessionID, "run", rec.Run)
}
