package db

import (
	"context"
	"testing"

	"github.com/ameliade/crosspost/internal/models"
	"github.com/ameliade/crosspost/internal/testutil"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	pool := testutil.NewTestDB(t)
	t.Cleanup(pool.Close)
	return NewStore(pool)
}

func createTestUser(t *testing.T, store *Store, email string) *models.User {
	t.Helper()
	user := &models.User{
		Email:        email,
		Username:     "tester",
		PasswordHash: []byte("bcrypt-hash"),
	}
	if err := store.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	return user
}

func createTestAccount(t *testing.T, store *Store, userID string, site models.Site, username string) *models.Account {
	t.Helper()
	account := &models.Account{
		UserID:               userID,
		Site:                 site,
		Username:             username,
		EncryptedCredentials: []byte("sealed-" + username),
	}
	if err := store.CreateAccount(context.Background(), account); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	return account
}
