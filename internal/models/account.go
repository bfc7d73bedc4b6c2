package models

import (
	"time"
)

// Account is one linked destination-site login owned by exactly one user.
// EncryptedCredentials is opaque outside the vault+adapter pair for that
// site: the plaintext may be a single token or a small JSON object of
// several tokens/cookies, and only the adapter for Site knows which.
type Account struct {
	ID                   string    `json:"id"`
	UserID               string    `json:"user_id"`
	Site                 Site      `json:"site"`
	Username             string    `json:"username"`
	EncryptedCredentials []byte    `json:"-"`
	UsedLast             bool      `json:"used_last"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// AccountConfig is one key→value setting scoped to an account, e.g.
// "resize" = "yes". Absence of a key means the adapter-defined default.
type AccountConfig struct {
	AccountID string `json:"account_id"`
	Key       string `json:"key"`
	Value     string `json:"value"`
}

// AccountData is one cached metadata entry for an account, keyed by a
// cache key such as "folders". The payload is site-shaped JSON; it is
// created on first fetch, overwritten in place on refresh, and deleted
// with the owning account.
type AccountData struct {
	AccountID string    `json:"account_id"`
	Key       string    `json:"key"`
	Payload   []byte    `json:"payload"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AccountResponse is the API shape of a linked account (credentials are
// never included).
type AccountResponse struct {
	ID       string `json:"id"`
	Site     Site   `json:"site"`
	SiteName string `json:"site_name"`
	Username string `json:"username"`
	UsedLast bool   `json:"used_last"`
}

// ToResponse converts an Account to its API shape.
func (a *Account) ToResponse() AccountResponse {
	return AccountResponse{
		ID:       a.ID,
		Site:     a.Site,
		SiteName: a.Site.String(),
		Username: a.Username,
		UsedLast: a.UsedLast,
	}
}
