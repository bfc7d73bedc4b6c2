package models

import (
	"time"
)

// User is one crosspost user. PasswordHash is a bcrypt hash used only for
// login verification; the plaintext password doubles as the live session
// secret that keys the credential vault and is never persisted.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	PasswordHash []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
