package models

import (
	"time"

	"github.com/google/uuid"
)

// Secret is a key vault entry. Ciphertext is the sealed value; the plaintext
// is never stored.
type Secret struct {
	ID           uuid.UUID  `db:"id"`
	Name         string     `db:"name"`
	Ciphertext   []byte     `db:"ciphertext"`
	CreatedBy    string     `db:"created_by"`
	CreatedAt    time.Time  `db:"created_at"`
	LastAccessed *time.Time `db:"last_accessed"`
}
