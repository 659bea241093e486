package crypto

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

const MinPasswordLength = 8

var ErrPasswordTooShort = errors.New("password too short")

// DummyHash is compared against when a username does not exist, so that a
// failed lookup costs a full bcrypt comparison like a real one.
var DummyHash = func() string {
	hash, err := HashPassword("0b12d5b8e0-not-a-real-password")
	if err != nil {
		panic(err)
	}
	return hash
}()

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	return nil
}
