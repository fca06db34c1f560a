package onboarding

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultStateTTL    = 15 * time.Minute
	stateSigningMethod = "HS256"
)

type stateClaims struct {
	jwt.RegisteredClaims

	// Identity hint carried through the provider redirect, informational
	IdentityHint string `json:"hint,omitempty"`
}

// StateCodec signs and verifies the opaque state blob carried through the
// consent redirect. The state correlates callback with start (CSRF) and
// carries an optional identity hint.
type StateCodec struct {
	key string
	alg jwt.SigningMethod
	ttl time.Duration
}

func NewStateCodec(secretKey string, ttl time.Duration) (*StateCodec, error) {
	if secretKey == "" {
		return nil, errors.New("state secret key must not be empty")
	}
	if ttl == 0 {
		ttl = defaultStateTTL
	}

	return &StateCodec{
		key: secretKey,
		alg: jwt.GetSigningMethod(stateSigningMethod),
		ttl: ttl,
	}, nil
}

func (c *StateCodec) Encode(identityHint string) (string, error) {
	now := time.Now()

	token := jwt.NewWithClaims(
		c.alg,
		stateClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        uuid.NewString(),
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
			},
			IdentityHint: identityHint,
		},
	)

	state, err := token.SignedString([]byte(c.key))
	if err != nil {
		return "", fmt.Errorf("error while signing state token: %w", err)
	}

	return state, nil
}

// Decode verifies a state token and returns the identity hint.
// Callers treat any error here as non-fatal: a stale or mangled state only
// loses the hint, it does not abort the callback.
func (c *StateCodec) Decode(state string) (string, error) {
	claims := &stateClaims{}

	_, err := jwt.ParseWithClaims(
		state,
		claims,
		func(t *jwt.Token) (any, error) {
			return []byte(c.key), nil
		},
		jwt.WithValidMethods([]string{c.alg.Alg()}),
	)
	if err != nil {
		return "", fmt.Errorf("error while parsing or validating state: %w", err)
	}

	return claims.IdentityHint, nil
}
