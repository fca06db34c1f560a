package apperrors

import (
	"errors"
)

var (
	// Missing or malformed encryption key is a configuration error and must
	// stop the process instead of degrading to weaker crypto
	ErrMissingEncryptionKey = errors.New("encryption key is missing or not 32 bytes")

	ErrEmptyPlaintext       = errors.New("plaintext is empty")
	ErrInvalidCiphertext    = errors.New("ciphertext format is invalid")
	ErrCiphertextAuthFailed = errors.New("ciphertext authentication failed")

	ErrCredentialNotFound = errors.New("credential not found")
	ErrInvalidIdentity    = errors.New("identity is invalid")

	ErrMissingClientCredentials = errors.New("oauth client id or secret is not configured")
	ErrNoRefreshToken           = errors.New("provider response contains no refresh token")
	ErrNoAuthorizationCode      = errors.New("authorization code is missing")
	ErrProviderDenied           = errors.New("provider reported an authorization error")
)
