package alert

import (
	"context"

	"github.com/andresmejia3/lenswatch/internal/monitoring"
	"github.com/andresmejia3/lenswatch/internal/types"
	"github.com/google/uuid"
)

// AlertStore is the slice of *store.Store the recorder needs.
type AlertStore interface {
	InsertAlert(ctx context.Context, sessionID uuid.UUID, r types.DetectionResult) (int64, error)
}

// Recorder persists every alert with its spots.
type Recorder struct {
	Store     AlertStore
	SessionID uuid.UUID
}

func (rec *Recorder) Dispatch(ctx context.Context, r types.DetectionResult) error {
	id, err := rec.Store.InsertAlert(ctx, rec.SessionID, r)
	if err != nil {
		return err
	}
	monitoring.Logf("alert: recorded tick %d as alert %d", r.Tick, id)
	return nil
}
