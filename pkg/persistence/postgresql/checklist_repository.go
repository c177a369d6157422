package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/portal-processes/pkg/models"
)

// ChecklistRepository handles checklist entry database operations.
type ChecklistRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewChecklistRepository creates a new checklist repository.
func NewChecklistRepository(db *sql.DB, logger *slog.Logger) *ChecklistRepository {
	return &ChecklistRepository{db: db, logger: logger}
}

// ChecklistEntries returns the checklist entries of the business entity.
func (r *ChecklistRepository) ChecklistEntries(ctx context.Context, externalID string) ([]models.ChecklistEntry, error) {
	query := `
		SELECT external_id, entry_type, status, comment, date_created, date_last_changed
		FROM checklist_entries
		WHERE external_id = $1
		ORDER BY date_created, entry_type
	`

	rows, err := r.db.QueryContext(ctx, query, externalID)
	if err != nil {
		return nil, fmt.Errorf("failed to query checklist entries: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	var entries []models.ChecklistEntry

	for rows.Next() {
		var entry models.ChecklistEntry

		err := rows.Scan(&entry.ExternalID, &entry.Type, &entry.Status, &entry.Comment, &entry.DateCreated, &entry.DateLastChanged)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checklist entry: %w", err)
		}

		entries = append(entries, entry)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate checklist entries: %w", err)
	}

	return entries, nil
}

func upsertChecklistEntries(ctx context.Context, transaction *sql.Tx, entries []models.ChecklistEntry, now time.Time) error {
	query := `
		INSERT INTO checklist_entries (external_id, entry_type, status, comment, date_created, date_last_changed)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (external_id, entry_type) DO UPDATE SET
			status = EXCLUDED.status,
			comment = EXCLUDED.comment,
			date_last_changed = EXCLUDED.date_last_changed
	`

	for _, entry := range entries {
		_, err := transaction.ExecContext(ctx, query, entry.ExternalID, entry.Type, entry.Status, entry.Comment, now)
		if err != nil {
			return fmt.Errorf("failed to upsert checklist entry %s: %w", entry.Type, err)
		}
	}

	return nil
}
