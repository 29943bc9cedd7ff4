package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/chamaledger/internal/models"
	"github.com/mmynk/chamaledger/internal/storage"
)

const groupColumns = `id, name, description, contribution_amount, frequency, min_members, max_members,
	status, wallet_address, created_by, created_at, start_date, end_date`

// CreateGroup persists a new group to the database.
func (r *repo) CreateGroup(ctx context.Context, group *models.Group) error {
	// Generate ID if not set
	if group.ID == "" {
		group.ID = uuid.New().String()
	}
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now().UTC()
	}
	if group.Status == "" {
		group.Status = models.GroupActive
	}

	_, err := r.q.ExecContext(ctx,
		`INSERT INTO chama_groups (`+groupColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		group.ID, group.Name, group.Description, group.ContributionAmount.String(), string(group.Frequency),
		group.MinMembers, group.MaxMembers, string(group.Status), group.WalletAddress, group.CreatedBy,
		millis(group.CreatedAt), millis(group.StartDate), millis(group.EndDate),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("group name %q: %w", group.Name, storage.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert group: %w", err)
	}

	return nil
}

// GetGroup retrieves a group by ID.
func (r *repo) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	group, err := scanGroup(r.q.QueryRowContext(ctx,
		`SELECT `+groupColumns+` FROM chama_groups WHERE id = ?`, groupID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("group %s: %w", groupID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return group, nil
}

// ListGroups retrieves groups, optionally filtered by status.
func (r *repo) ListGroups(ctx context.Context, status models.GroupStatus) ([]*models.Group, error) {
	query := `SELECT ` + groupColumns + ` FROM chama_groups`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []*models.Group
	for rows.Next() {
		group, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, group)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate groups: %w", err)
	}

	return groups, nil
}

// UpdateGroupStatus sets the lifecycle status of a group.
func (r *repo) UpdateGroupStatus(ctx context.Context, groupID string, status models.GroupStatus) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE chama_groups SET status = ? WHERE id = ?`, string(status), groupID)
	if err != nil {
		return fmt.Errorf("failed to update group status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("group %s: %w", groupID, storage.ErrNotFound)
	}
	return nil
}

// rowScanner is implemented by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanGroup(s rowScanner) (*models.Group, error) {
	group := &models.Group{}
	var frequency, status string
	var createdAt, startDate, endDate int64

	if err := s.Scan(&group.ID, &group.Name, &group.Description, &group.ContributionAmount, &frequency,
		&group.MinMembers, &group.MaxMembers, &status, &group.WalletAddress, &group.CreatedBy,
		&createdAt, &startDate, &endDate); err != nil {
		return nil, err
	}

	group.Frequency = models.Frequency(frequency)
	group.Status = models.GroupStatus(status)
	group.CreatedAt = fromMillis(createdAt)
	group.StartDate = fromMillis(startDate)
	group.EndDate = fromMillis(endDate)
	return group, nil
}
