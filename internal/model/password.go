package model

// PasswordHasher is a one-way salted password hashing capability.
type PasswordHasher interface {
	Hash(password string) (string, error)
	// Verify returns (false, nil) on mismatch and an error only for a
	// malformed encoded hash.
	Verify(password, encoded string) (bool, error)
}
