package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ridesafe/fraud-engine/internal/models"
)

// AuditRepository records pipeline, training, and assessment events for
// operator review.
type AuditRepository struct {
	db *Database
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *Database) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create inserts an audit log entry.
func (r *AuditRepository) Create(ctx context.Context, entry *models.AuditLog) error {
	query := `
		INSERT INTO audit_logs (id, event_type, entity_id, action, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	entry.ID = uuid.New()
	entry.CreatedAt = time.Now().UTC()

	payloadBytes, _ := entry.Payload.Value()

	_, err := r.db.Pool.Exec(ctx, query,
		entry.ID,
		entry.EventType,
		entry.EntityID,
		entry.Action,
		payloadBytes,
		entry.CreatedAt,
	)
	return err
}

// List retrieves audit entries newest first, optionally filtered by event
// type. An empty eventType matches everything.
func (r *AuditRepository) List(ctx context.Context, eventType string, page, pageSize int) ([]*models.AuditLog, int, error) {
	offset := (page - 1) * pageSize

	countQuery := `
		SELECT COUNT(*) FROM audit_logs
		WHERE ($1 = '' OR event_type = $1)
	`
	var total int
	if err := r.db.Pool.QueryRow(ctx, countQuery, eventType).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, event_type, entity_id, action, payload, created_at
		FROM audit_logs
		WHERE ($1 = '' OR event_type = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool.Query(ctx, query, eventType, pageSize, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []*models.AuditLog
	for rows.Next() {
		entry := &models.AuditLog{}
		var payloadBytes []byte

		if err := rows.Scan(
			&entry.ID,
			&entry.EventType,
			&entry.EntityID,
			&entry.Action,
			&payloadBytes,
			&entry.CreatedAt,
		); err != nil {
			return nil, 0, err
		}

		entry.Payload.Scan(payloadBytes)
		entries = append(entries, entry)
	}
	return entries, total, rows.Err()
}
