package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ameliade/crosspost/internal/models"
)

// ErrAccountNotFound is returned when a requested account cannot be found.
var ErrAccountNotFound = errors.New("account not found")

// CreateAccount inserts a newly linked account and fills in its generated id.
func (s *Store) CreateAccount(ctx context.Context, account *models.Account) error {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (
			id,
			user_id,
			site,
			username,
			encrypted_credentials
		) VALUES ($1, $2, $3, $4, $5)
	`,
		account.ID,
		account.UserID,
		int(account.Site),
		account.Username,
		account.EncryptedCredentials,
	)

	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	return nil
}

// AccountExists reports whether the user already linked this identity.
func (s *Store) AccountExists(ctx context.Context, userID string, site models.Site, username string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM accounts
			WHERE user_id = $1 AND site = $2 AND username = $3
		)
	`, userID, int(site), username).Scan(&exists)

	if err != nil {
		return false, fmt.Errorf("failed to check account existence: %w", err)
	}

	return exists, nil
}

// GetAccount returns one account owned by the given user.
func (s *Store) GetAccount(ctx context.Context, userID, accountID string) (*models.Account, error) {
	var account models.Account
	var site int

	err := s.pool.QueryRow(ctx, `
		SELECT
			id,
			user_id,
			site,
			username,
			encrypted_credentials,
			used_last,
			created_at,
			updated_at
		FROM accounts
		WHERE id = $1 AND user_id = $2
	`, accountID, userID).Scan(
		&account.ID,
		&account.UserID,
		&site,
		&account.Username,
		&account.EncryptedCredentials,
		&account.UsedLast,
		&account.CreatedAt,
		&account.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	account.Site = models.Site(site)
	return &account, nil
}

// GetAccounts returns all accounts linked by the user, ordered by site id
// then username.
func (s *Store) GetAccounts(ctx context.Context, userID string) ([]*models.Account, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			id,
			user_id,
			site,
			username,
			encrypted_credentials,
			used_last,
			created_at,
			updated_at
		FROM accounts
		WHERE user_id = $1
		ORDER BY site, username
	`, userID)

	if err != nil {
		return nil, fmt.Errorf("failed to get accounts: %w", err)
	}
	defer rows.Close()

	return scanAccounts(rows)
}

// GetAccountsByIDs returns the subset of the user's accounts with the given
// ids, ordered by site id then username. Ids belonging to other users are
// silently absent from the result.
func (s *Store) GetAccountsByIDs(ctx context.Context, userID string, ids []string) ([]*models.Account, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			id,
			user_id,
			site,
			username,
			encrypted_credentials,
			used_last,
			created_at,
			updated_at
		FROM accounts
		WHERE user_id = $1 AND id = ANY($2)
		ORDER BY site, username
	`, userID, ids)

	if err != nil {
		return nil, fmt.Errorf("failed to get accounts by ids: %w", err)
	}
	defer rows.Close()

	return scanAccounts(rows)
}

func scanAccounts(rows pgx.Rows) ([]*models.Account, error) {
	var accounts []*models.Account
	for rows.Next() {
		var account models.Account
		var site int
		if err := rows.Scan(
			&account.ID,
			&account.UserID,
			&site,
			&account.Username,
			&account.EncryptedCredentials,
			&account.UsedLast,
			&account.CreatedAt,
			&account.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		account.Site = models.Site(site)
		accounts = append(accounts, &account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read accounts: %w", err)
	}

	return accounts, nil
}

// UpdateAccountCredentials replaces the encrypted credential blob, used on
// token rotation and on vault re-wrap after a password change.
func (s *Store) UpdateAccountCredentials(ctx context.Context, accountID string, encrypted []byte) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts
		SET encrypted_credentials = $2, updated_at = NOW()
		WHERE id = $1
	`, accountID, encrypted)

	if err != nil {
		return fmt.Errorf("failed to update account credentials: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}

	return nil
}

// MarkAccountsUsed flags the accounts selected for the latest upload and
// clears the flag on the rest, so the next submission form can preselect
// them.
func (s *Store) MarkAccountsUsed(ctx context.Context, userID string, ids []string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE accounts
		SET used_last = (id = ANY($2))
		WHERE user_id = $1
	`, userID, ids)

	if err != nil {
		return fmt.Errorf("failed to mark accounts used: %w", err)
	}

	return nil
}

// DeleteAccount removes an account together with its cached data and
// settings.
func (s *Store) DeleteAccount(ctx context.Context, userID, accountID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		DELETE FROM account_data WHERE account_id = $1
	`, accountID); err != nil {
		return fmt.Errorf("failed to delete account data: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM account_config WHERE account_id = $1
	`, accountID); err != nil {
		return fmt.Errorf("failed to delete account config: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		DELETE FROM accounts WHERE id = $1 AND user_id = $2
	`, accountID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit account deletion: %w", err)
	}

	return nil
}
