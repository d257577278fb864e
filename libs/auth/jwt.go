package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

const (
	RoleProvider = "provider"
	RoleSubject  = "subject"
	RoleAdmin    = "admin"
)

// Claims carried by scheduling access tokens. Subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	Role       string `json:"role"`
	ProviderID string `json:"provider_id,omitempty"`
	SubjectID  string `json:"subject_id,omitempty"`
}

func SignHS256(claims Claims, secret string) (string, error) {
	if secret == "" {
		return "", errors.New("empty signing secret")
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func ParseAndVerifyHS256(token, secret string) (*Claims, error) {
	if secret == "" {
		return nil, ErrInvalidToken
	}
	return parse(token, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.SigningMethodHS256.Alg())
}

func VerifyRS256(token string, pubKey *rsa.PublicKey) (*Claims, error) {
	if pubKey == nil {
		return nil, ErrInvalidToken
	}
	return parse(token, func(t *jwt.Token) (any, error) {
		return pubKey, nil
	}, jwt.SigningMethodRS256.Alg())
}

// Verifier accepts HS256 tokens signed with Secret and RS256 tokens whose
// kid resolves through JWKS. Either may be left unset.
type Verifier struct {
	Secret string
	JWKS   *JWKSClient
}

func (v Verifier) Verify(ctx context.Context, token string) (*Claims, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return nil, ErrInvalidToken
	}
	algs := make([]string, 0, 2)
	if v.Secret != "" {
		algs = append(algs, jwt.SigningMethodHS256.Alg())
	}
	if v.JWKS != nil {
		algs = append(algs, jwt.SigningMethodRS256.Alg())
	}
	if len(algs) == 0 {
		return nil, ErrInvalidToken
	}
	return parse(token, func(t *jwt.Token) (any, error) {
		switch t.Method.Alg() {
		case jwt.SigningMethodHS256.Alg():
			return []byte(v.Secret), nil
		case jwt.SigningMethodRS256.Alg():
			kid, _ := t.Header["kid"].(string)
			return v.JWKS.Key(ctx, kid)
		default:
			return nil, ErrInvalidToken
		}
	}, algs...)
}

func parse(token string, keyFunc jwt.Keyfunc, algs ...string) (*Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, keyFunc,
		jwt.WithValidMethods(algs),
		jwt.WithLeeway(30*time.Second),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}
