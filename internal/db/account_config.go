package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GetAccountConfig returns one per-account setting, or the fallback when the
// key was never set.
func (s *Store) GetAccountConfig(ctx context.Context, accountID, key, fallback string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, `
		SELECT value FROM account_config
		WHERE account_id = $1 AND key = $2
	`, accountID, key).Scan(&value)

	if errors.Is(err, pgx.ErrNoRows) {
		return fallback, nil
	}

	if err != nil {
		return "", fmt.Errorf("failed to get account config: %w", err)
	}

	return value, nil
}

// SetAccountConfig creates or overwrites one per-account setting.
func (s *Store) SetAccountConfig(ctx context.Context, accountID, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO account_config (account_id, key, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id, key) DO UPDATE SET
			value = EXCLUDED.value
	`, accountID, key, value)

	if err != nil {
		return fmt.Errorf("failed to set account config: %w", err)
	}

	return nil
}

// GetAllAccountConfig returns every setting for an account as a key→value
// map.
func (s *Store) GetAllAccountConfig(ctx context.Context, accountID string) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT key, value FROM account_config
		WHERE account_id = $1
	`, accountID)

	if err != nil {
		return nil, fmt.Errorf("failed to get account config: %w", err)
	}
	defer rows.Close()

	config := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan account config: %w", err)
		}
		config[key] = value
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read account config: %w", err)
	}

	return config, nil
}
