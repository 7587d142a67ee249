package auth

import (
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

const bcryptCost = 12

var (
	dummyOnce   sync.Once
	dummyDigest string
)

// HashPassword hashes a plaintext password using bcrypt.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword compares a plaintext password against a stored digest.
// A malformed digest is a non-match, never an error.
func CheckPassword(digest, password string) bool {
	if digest == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
}

// checkDummyPassword burns a bcrypt comparison so that login takes the same
// time whether or not the handle exists.
func checkDummyPassword(password string) {
	dummyOnce.Do(func() {
		h, err := bcrypt.GenerateFromPassword([]byte("flextraff-dummy"), bcryptCost)
		if err == nil {
			dummyDigest = string(h)
		}
	})
	_ = bcrypt.CompareHashAndPassword([]byte(dummyDigest), []byte(password))
}
