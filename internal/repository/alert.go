package repository

import (
	"context"
	"fmt"

	"github.com/langchou/waygazer/internal/models"
)

// AlertRepository 限速事件数据仓库
type AlertRepository struct {
	db *DB
}

// NewAlertRepository 创建限速事件仓库
func NewAlertRepository(db *DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// InsertEvent 写入限速事件
func (r *AlertRepository) InsertEvent(ctx context.Context, e *models.SpeedLimitEvent) error {
	query := `
		INSERT INTO speed_limit_events (session_id, kind, limit_kph, segment_id, latitude, longitude, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	err := r.db.Pool.QueryRow(ctx, query,
		e.SessionID,
		e.Kind,
		e.LimitKph,
		e.SegmentID,
		e.Latitude,
		e.Longitude,
		e.OccurredAt,
	).Scan(&e.ID)

	if err != nil {
		return fmt.Errorf("insert speed limit event: %w", err)
	}
	return nil
}

// ListBySession 按会话查询限速事件，时间正序
func (r *AlertRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]*models.SpeedLimitEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	query := `
		SELECT id, session_id, kind, limit_kph, segment_id, latitude, longitude, occurred_at
		FROM speed_limit_events
		WHERE session_id = $1
		ORDER BY occurred_at ASC
		LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query speed limit events: %w", err)
	}
	defer rows.Close()

	var events []*models.SpeedLimitEvent
	for rows.Next() {
		var e models.SpeedLimitEvent
		if err := rows.Scan(
			&e.ID,
			&e.SessionID,
			&e.Kind,
			&e.LimitKph,
			&e.SegmentID,
			&e.Latitude,
			&e.Longitude,
			&e.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("scan speed limit event: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
