package db

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/ameliade/crosspost/internal/models"
)

func TestAccountLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user := createTestUser(t, store, "amy@example.com")
	account := createTestAccount(t, store, user.ID, models.SiteWeasyl, "amy")

	exists, err := store.AccountExists(ctx, user.ID, models.SiteWeasyl, "amy")
	assert.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.AccountExists(ctx, user.ID, models.SiteFurAffinity, "amy")
	assert.NoError(t, err)
	assert.False(t, exists)

	got, err := store.GetAccount(ctx, user.ID, account.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.SiteWeasyl, got.Site)
	assert.Equal(t, "amy", got.Username)
	assert.Equal(t, []byte("sealed-amy"), got.EncryptedCredentials)
	assert.False(t, got.UsedLast)

	// Another user cannot reach the account.
	other := createTestUser(t, store, "other@example.com")
	_, err = store.GetAccount(ctx, other.ID, account.ID)
	assert.ErrorIs(t, err, ErrAccountNotFound)

	err = store.DeleteAccount(ctx, other.ID, account.ID)
	assert.ErrorIs(t, err, ErrAccountNotFound)

	err = store.DeleteAccount(ctx, user.ID, account.ID)
	assert.NoError(t, err)

	_, err = store.GetAccount(ctx, user.ID, account.ID)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestGetAccountsOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user := createTestUser(t, store, "amy@example.com")
	createTestAccount(t, store, user.ID, models.SiteTwitter, "amy")
	createTestAccount(t, store, user.ID, models.SiteFurAffinity, "zoe")
	createTestAccount(t, store, user.ID, models.SiteFurAffinity, "amy")

	accounts, err := store.GetAccounts(ctx, user.ID)
	assert.NoError(t, err)
	if assert.Len(t, accounts, 3) {
		assert.Equal(t, "amy", accounts[0].Username)
		assert.Equal(t, models.SiteFurAffinity, accounts[0].Site)
		assert.Equal(t, "zoe", accounts[1].Username)
		assert.Equal(t, models.SiteTwitter, accounts[2].Site)
	}
}

func TestGetAccountsByIDsScopedToUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user := createTestUser(t, store, "amy@example.com")
	other := createTestUser(t, store, "other@example.com")

	mine := createTestAccount(t, store, user.ID, models.SiteWeasyl, "amy")
	theirs := createTestAccount(t, store, other.ID, models.SiteWeasyl, "other")

	accounts, err := store.GetAccountsByIDs(ctx, user.ID, []string{mine.ID, theirs.ID})
	assert.NoError(t, err)
	if assert.Len(t, accounts, 1) {
		assert.Equal(t, mine.ID, accounts[0].ID)
	}
}

func TestUpdateAccountCredentials(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user := createTestUser(t, store, "amy@example.com")
	account := createTestAccount(t, store, user.ID, models.SiteTwitter, "amy")

	err := store.UpdateAccountCredentials(ctx, account.ID, []byte("rotated-blob"))
	assert.NoError(t, err)

	got, err := store.GetAccount(ctx, user.ID, account.ID)
	assert.NoError(t, err)
	assert.Equal(t, []byte("rotated-blob"), got.EncryptedCredentials)

	err = store.UpdateAccountCredentials(ctx, uuid.NewString(), []byte("blob"))
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestMarkAccountsUsed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user := createTestUser(t, store, "amy@example.com")
	a := createTestAccount(t, store, user.ID, models.SiteFurAffinity, "a")
	b := createTestAccount(t, store, user.ID, models.SiteWeasyl, "b")
	c := createTestAccount(t, store, user.ID, models.SiteSoFurry, "c")

	err := store.MarkAccountsUsed(ctx, user.ID, []string{a.ID, c.ID})
	assert.NoError(t, err)

	usedLast := func() map[string]bool {
		accounts, err := store.GetAccounts(ctx, user.ID)
		assert.NoError(t, err)
		flags := make(map[string]bool, len(accounts))
		for _, account := range accounts {
			flags[account.ID] = account.UsedLast
		}
		return flags
	}

	flags := usedLast()
	assert.True(t, flags[a.ID])
	assert.False(t, flags[b.ID])
	assert.True(t, flags[c.ID])

	// The next batch's selection replaces the previous one.
	err = store.MarkAccountsUsed(ctx, user.ID, []string{b.ID})
	assert.NoError(t, err)

	flags = usedLast()
	assert.False(t, flags[a.ID])
	assert.True(t, flags[b.ID])
	assert.False(t, flags[c.ID])
}

func TestAccountConfigRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user := createTestUser(t, store, "amy@example.com")
	account := createTestAccount(t, store, user.ID, models.SiteMastodon, "amy")

	value, err := store.GetAccountConfig(ctx, account.ID, "resize", "no")
	assert.NoError(t, err)
	assert.Equal(t, "no", value)

	err = store.SetAccountConfig(ctx, account.ID, "resize", "yes")
	assert.NoError(t, err)

	value, err = store.GetAccountConfig(ctx, account.ID, "resize", "no")
	assert.NoError(t, err)
	assert.Equal(t, "yes", value)

	err = store.SetAccountConfig(ctx, account.ID, "instance", "mastodon.example")
	assert.NoError(t, err)

	config, err := store.GetAllAccountConfig(ctx, account.ID)
	assert.NoError(t, err)
	assert.Equal(t, map[string]string{
		"resize":   "yes",
		"instance": "mastodon.example",
	}, config)
}

func TestAccountDataRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user := createTestUser(t, store, "amy@example.com")
	account := createTestAccount(t, store, user.ID, models.SiteFurAffinity, "amy")

	_, found, err := store.GetAccountData(ctx, account.ID, "folders")
	assert.NoError(t, err)
	assert.False(t, found)

	err = store.SetAccountData(ctx, account.ID, "folders", []byte(`[{"name":"Sketches","id":"1"}]`))
	assert.NoError(t, err)

	payload, found, err := store.GetAccountData(ctx, account.ID, "folders")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte(`[{"name":"Sketches","id":"1"}]`), payload)

	// A refetch overwrites the cached payload in place.
	err = store.SetAccountData(ctx, account.ID, "folders", []byte(`[]`))
	assert.NoError(t, err)

	payload, found, err = store.GetAccountData(ctx, account.ID, "folders")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte(`[]`), payload)
}

func TestDeleteAccountCascadesConfigAndData(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user := createTestUser(t, store, "amy@example.com")
	account := createTestAccount(t, store, user.ID, models.SiteWeasyl, "amy")

	assert.NoError(t, store.SetAccountConfig(ctx, account.ID, "resize", "yes"))
	assert.NoError(t, store.SetAccountData(ctx, account.ID, "folders", []byte(`[]`)))

	err := store.DeleteAccount(ctx, user.ID, account.ID)
	assert.NoError(t, err)

	config, err := store.GetAllAccountConfig(ctx, account.ID)
	assert.NoError(t, err)
	assert.Empty(t, config)

	_, found, err := store.GetAccountData(ctx, account.ID, "folders")
	assert.NoError(t, err)
	assert.False(t, found)
}
