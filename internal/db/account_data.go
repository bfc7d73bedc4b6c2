package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GetAccountData returns one cached metadata payload for an account. The
// second return value is false when nothing is cached under the key.
func (s *Store) GetAccountData(ctx context.Context, accountID, key string) ([]byte, bool, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `
		SELECT payload FROM account_data
		WHERE account_id = $1 AND key = $2
	`, accountID, key).Scan(&payload)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("failed to get account data: %w", err)
	}

	return payload, true, nil
}

// SetAccountData creates or overwrites one cached metadata payload.
func (s *Store) SetAccountData(ctx context.Context, accountID, key string, payload []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO account_data (account_id, key, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id, key) DO UPDATE SET
			payload = EXCLUDED.payload,
			updated_at = NOW()
	`, accountID, key, payload)

	if err != nil {
		return fmt.Errorf("failed to set account data: %w", err)
	}

	return nil
}
