package server

import (
	"context"
	"database/sql"
	"errors"

	"PLPLedger/internal/persistence"
	"PLPLedger/internal/projection"

	"github.com/rs/zerolog"
)

// SnapshotFunc takes, stores and verifies a snapshot and returns its
// sequence.
type SnapshotFunc func(ctx context.Context) (int64, error)

// LedgerAdmin implements Admin over the event log.
type LedgerAdmin struct {
	db       *sql.DB
	snapMgr  *persistence.SnapshotManager
	snapshot SnapshotFunc
	log      zerolog.Logger
}

func NewLedgerAdmin(db *sql.DB, snapMgr *persistence.SnapshotManager, snapshot SnapshotFunc, logger zerolog.Logger) *LedgerAdmin {
	return &LedgerAdmin{db: db, snapMgr: snapMgr, snapshot: snapshot, log: logger}
}

func (a *LedgerAdmin) LatestSequence(ctx context.Context) (int64, error) {
	return a.snapMgr.GetLatestSequence(ctx)
}

func (a *LedgerAdmin) TakeSnapshot(ctx context.Context) (int64, error) {
	if a.snapshot == nil {
		return 0, errors.New("snapshots are not enabled")
	}
	return a.snapshot(ctx)
}

func (a *LedgerAdmin) RebuildProjections(ctx context.Context) error {
	a.log.Warn().Msg("rebuilding balance projection from journal")
	return projection.RebuildProjections(ctx, a.db, a.log)
}
