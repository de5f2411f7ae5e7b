package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/greenbasket/gatehouse/internal/database"
	"github.com/greenbasket/gatehouse/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SecurityEventRepository persists the security audit trail
type SecurityEventRepository struct {
	pool *pgxpool.Pool
}

func NewSecurityEventRepository(db *database.DB) *SecurityEventRepository {
	return &SecurityEventRepository{pool: db.Pool}
}

func (r *SecurityEventRepository) Record(ctx context.Context, event *models.SecurityEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO security_events (id, user_id, event_type, operation_class, reason, ip_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.pool.Exec(ctx, query,
		event.ID, event.UserID, event.EventType, string(event.OperationClass),
		event.Reason, event.IPAddress, event.CreatedAt,
	)
	return database.MapPostgresError(err)
}

func (r *SecurityEventRepository) GetRecentByEventType(ctx context.Context, eventType string, limit int) ([]*models.SecurityEvent, error) {
	query := `
		SELECT id, user_id, event_type, operation_class, reason, ip_address, created_at
		FROM security_events
		WHERE event_type = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, eventType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query security events: %w", err)
	}
	defer rows.Close()

	events := make([]*models.SecurityEvent, 0, limit)
	for rows.Next() {
		var event models.SecurityEvent
		var opClass string
		err := rows.Scan(
			&event.ID, &event.UserID, &event.EventType, &opClass,
			&event.Reason, &event.IPAddress, &event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}
		event.OperationClass = models.OperationClass(opClass)
		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return events, nil
}

func (r *SecurityEventRepository) CountTodayByEventType(ctx context.Context, eventType string) (int64, error) {
	query := `
		SELECT COUNT(*) FROM security_events
		WHERE event_type = $1 AND created_at >= date_trunc('day', NOW() AT TIME ZONE 'utc')
	`

	var count int64
	err := r.pool.QueryRow(ctx, query, eventType).Scan(&count)
	return count, database.MapPostgresError(err)
}

// CleanupOlderThan trims the audit trail; events are operational telemetry,
// not a compliance record.
func (r *SecurityEventRepository) CleanupOlderThan(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM security_events WHERE created_at < $1`

	result, err := r.pool.Exec(ctx, query, before)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
