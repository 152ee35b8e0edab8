package repository

import (
	"context"
	"fmt"

	"github.com/langchou/waygazer/internal/models"
)

// SessionRepository 追踪会话数据仓库
type SessionRepository struct {
	db *DB
}

// NewSessionRepository 创建会话仓库
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// CreateSession 记录会话开始
func (r *SessionRepository) CreateSession(ctx context.Context, s *models.TrackingSession) error {
	query := `
		INSERT INTO tracking_sessions (id, mode, background_on, interval_ms, started_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		s.ID,
		s.Mode,
		s.BackgroundOn,
		s.IntervalMs,
		s.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert tracking session: %w", err)
	}
	return nil
}

// FinishSession 记录会话结束与计数
func (r *SessionRepository) FinishSession(ctx context.Context, s *models.TrackingSession) error {
	query := `
		UPDATE tracking_sessions SET
			ended_at = $1,
			accepted_fixes = $2,
			dropped_fixes = $3
		WHERE id = $4
	`
	_, err := r.db.Pool.Exec(ctx, query,
		s.EndedAt,
		s.AcceptedFixes,
		s.DroppedFixes,
		s.ID,
	)
	if err != nil {
		return fmt.Errorf("finish tracking session: %w", err)
	}
	return nil
}

// GetByID 按 ID 查询会话
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.TrackingSession, error) {
	query := `
		SELECT id, mode, background_on, interval_ms, started_at, ended_at, accepted_fixes, dropped_fixes
		FROM tracking_sessions
		WHERE id = $1
	`
	var s models.TrackingSession
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&s.ID,
		&s.Mode,
		&s.BackgroundOn,
		&s.IntervalMs,
		&s.StartedAt,
		&s.EndedAt,
		&s.AcceptedFixes,
		&s.DroppedFixes,
	)
	if err != nil {
		return nil, fmt.Errorf("query tracking session: %w", err)
	}
	return &s, nil
}

// List 按开始时间倒序列出会话
func (r *SessionRepository) List(ctx context.Context, limit int) ([]*models.TrackingSession, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query := `
		SELECT id, mode, background_on, interval_ms, started_at, ended_at, accepted_fixes, dropped_fixes
		FROM tracking_sessions
		ORDER BY started_at DESC
		LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query tracking sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.TrackingSession
	for rows.Next() {
		var s models.TrackingSession
		if err := rows.Scan(
			&s.ID,
			&s.Mode,
			&s.BackgroundOn,
			&s.IntervalMs,
			&s.StartedAt,
			&s.EndedAt,
			&s.AcceptedFixes,
			&s.DroppedFixes,
		); err != nil {
			return nil, fmt.Errorf("scan tracking session: %w", err)
		}
		sessions = append(sessions, &s)
	}
	return sessions, rows.Err()
}
