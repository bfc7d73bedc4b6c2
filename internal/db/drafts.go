package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ameliade/crosspost/internal/models"
)

// ErrDraftNotFound is returned when a requested draft cannot be found.
var ErrDraftNotFound = errors.New("draft not found")

// execer is the subset of pgxpool.Pool and pgx.Tx the draft writes need, so
// SaveGroup can reuse the insert inside its transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// SaveDraft creates or updates one draft. A new draft gets a generated id;
// a re-save keeps its id and overwrites every field, including the pending
// account list.
func (s *Store) SaveDraft(ctx context.Context, draft *models.SavedSubmission) error {
	return saveDraft(ctx, s.pool, draft)
}

func saveDraft(ctx context.Context, q execer, draft *models.SavedSubmission) error {
	if draft.ID == "" {
		draft.ID = uuid.NewString()
	}

	extras, err := json.Marshal(draft.Extras)
	if err != nil {
		return fmt.Errorf("failed to encode draft extras: %w", err)
	}

	var groupID *string
	if draft.GroupID != "" {
		groupID = &draft.GroupID
	}

	_, err = q.Exec(ctx, `
		INSERT INTO drafts (
			id,
			user_id,
			group_id,
			master,
			title,
			description,
			raw_tags,
			rating,
			image_name,
			accounts,
			extras
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			raw_tags = EXCLUDED.raw_tags,
			rating = EXCLUDED.rating,
			image_name = EXCLUDED.image_name,
			accounts = EXCLUDED.accounts,
			extras = EXCLUDED.extras,
			updated_at = NOW()
	`,
		draft.ID,
		draft.UserID,
		groupID,
		draft.Master,
		draft.Title,
		draft.Description,
		draft.RawTags,
		string(draft.Rating),
		draft.ImageName,
		draft.Accounts,
		extras,
	)

	if err != nil {
		return fmt.Errorf("failed to save draft: %w", err)
	}

	return nil
}

// GetDraft returns one draft owned by the given user.
func (s *Store) GetDraft(ctx context.Context, userID, draftID string) (*models.SavedSubmission, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT
			id,
			user_id,
			group_id,
			master,
			title,
			description,
			raw_tags,
			rating,
			image_name,
			accounts,
			extras,
			created_at,
			updated_at
		FROM drafts
		WHERE id = $1 AND user_id = $2
	`, draftID, userID)

	draft, err := scanDraft(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDraftNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get draft: %w", err)
	}

	return draft, nil
}

// GetDrafts returns all of the user's drafts, newest first.
func (s *Store) GetDrafts(ctx context.Context, userID string) ([]*models.SavedSubmission, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			id,
			user_id,
			group_id,
			master,
			title,
			description,
			raw_tags,
			rating,
			image_name,
			accounts,
			extras,
			created_at,
			updated_at
		FROM drafts
		WHERE user_id = $1
		ORDER BY updated_at DESC
	`, userID)

	if err != nil {
		return nil, fmt.Errorf("failed to get drafts: %w", err)
	}
	defer rows.Close()

	var drafts []*models.SavedSubmission
	for rows.Next() {
		draft, err := scanDraft(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan draft: %w", err)
		}
		drafts = append(drafts, draft)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read drafts: %w", err)
	}

	return drafts, nil
}

func scanDraft(row pgx.Row) (*models.SavedSubmission, error) {
	var draft models.SavedSubmission
	var groupID *string
	var rating string
	var extras []byte

	if err := row.Scan(
		&draft.ID,
		&draft.UserID,
		&groupID,
		&draft.Master,
		&draft.Title,
		&draft.Description,
		&draft.RawTags,
		&rating,
		&draft.ImageName,
		&draft.Accounts,
		&extras,
		&draft.CreatedAt,
		&draft.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if groupID != nil {
		draft.GroupID = *groupID
	}
	draft.Rating = models.Rating(rating)
	if len(extras) > 0 {
		if err := json.Unmarshal(extras, &draft.Extras); err != nil {
			return nil, fmt.Errorf("failed to decode draft extras: %w", err)
		}
	}

	return &draft, nil
}

// UpdateDraftAccounts narrows a draft's pending account list after a
// partially failed batch.
func (s *Store) UpdateDraftAccounts(ctx context.Context, draftID string, accounts []string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE drafts
		SET accounts = $2, updated_at = NOW()
		WHERE id = $1
	`, draftID, accounts)

	if err != nil {
		return fmt.Errorf("failed to update draft accounts: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDraftNotFound
	}

	return nil
}

// DeleteDraft removes one draft and returns its stored image name so the
// caller can clean up the image store.
func (s *Store) DeleteDraft(ctx context.Context, userID, draftID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		DELETE FROM drafts WHERE id = $1 AND user_id = $2
		RETURNING image_name
	`, draftID, userID)

	if err != nil {
		return nil, fmt.Errorf("failed to delete draft: %w", err)
	}

	names, err := collectImageNames(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to delete draft: %w", err)
	}
	if len(names) == 0 {
		return nil, ErrDraftNotFound
	}

	return names, nil
}

// SaveGroup saves a master draft and its variants under one shared group id
// in a single transaction.
func (s *Store) SaveGroup(ctx context.Context, group *models.SubmissionGroup) error {
	if group.ID == "" {
		group.ID = uuid.NewString()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	group.Master.UserID = group.UserID
	group.Master.GroupID = group.ID
	group.Master.Master = true
	if err := saveDraft(ctx, tx, group.Master); err != nil {
		return err
	}

	for _, variant := range group.Variants {
		variant.UserID = group.UserID
		variant.GroupID = group.ID
		variant.Master = false
		if err := saveDraft(ctx, tx, variant); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit group save: %w", err)
	}

	return nil
}

// GetGroup assembles a submission group from its drafts: the master row plus
// every variant, variants in creation order.
func (s *Store) GetGroup(ctx context.Context, userID, groupID string) (*models.SubmissionGroup, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			id,
			user_id,
			group_id,
			master,
			title,
			description,
			raw_tags,
			rating,
			image_name,
			accounts,
			extras,
			created_at,
			updated_at
		FROM drafts
		WHERE group_id = $1 AND user_id = $2
		ORDER BY master DESC, created_at
	`, groupID, userID)

	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	defer rows.Close()

	group := &models.SubmissionGroup{ID: groupID, UserID: userID}
	for rows.Next() {
		draft, err := scanDraft(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan group draft: %w", err)
		}
		if draft.Master {
			group.Master = draft
			group.CreatedAt = draft.CreatedAt
		} else {
			group.Variants = append(group.Variants, draft)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read group drafts: %w", err)
	}

	if group.Master == nil {
		return nil, ErrDraftNotFound
	}

	return group, nil
}

// DeleteGroup removes a group's master and variant drafts together and
// returns every stored image name they carried.
func (s *Store) DeleteGroup(ctx context.Context, userID, groupID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		DELETE FROM drafts WHERE group_id = $1 AND user_id = $2
		RETURNING image_name
	`, groupID, userID)

	if err != nil {
		return nil, fmt.Errorf("failed to delete group: %w", err)
	}

	names, err := collectImageNames(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to delete group: %w", err)
	}
	if len(names) == 0 {
		return nil, ErrDraftNotFound
	}

	return names, nil
}

func collectImageNames(rows pgx.Rows) ([]string, error) {
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}

	return names, rows.Err()
}
