package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"
)

// SnapshotStore 行程快照的持久化。每次保存写一行 (trip_id, revision, payload)，
// 加载取最大 revision 的那行。重复保存同一版本静默成功（幂等）。
type SnapshotStore struct{ db *sql.DB }

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

func (s *SnapshotStore) SaveTripSnapshot(ctx context.Context, tripID string, rev uint64, payload string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trip_snapshots (trip_id, revision, payload)
		VALUES (?, ?, ?)`,
		tripID,
		rev,
		payload,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			// (trip_id, revision) 唯一键冲突：同版本已经存过，视为成功
			return nil
		}
		return err
	}
	return nil
}

// LoadTripSnapshot 取该行程最新的快照。没存过时返回 (0, "", nil)，
// 调用方从空文档起步。
func (s *SnapshotStore) LoadTripSnapshot(ctx context.Context, tripID string) (uint64, string, error) {
	var rev uint64
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT revision, payload FROM trip_snapshots
		WHERE trip_id = ? ORDER BY revision DESC LIMIT 1`,
		tripID,
	).Scan(&rev, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", err
	}
	return rev, payload, nil
}
