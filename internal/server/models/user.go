package models

import "time"

// User is an authenticated principal. Verifier is the argon2id hash of the
// password derived with Salt.
type User struct {
	ID        string
	UserName  string
	Salt      []byte
	Verifier  []byte
	CreatedAt time.Time
}
