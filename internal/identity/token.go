package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"pkt.systems/pinwire/schema"
)

// TokenProvider verifies HMAC-signed bearer tokens. The token carries the
// account in its sub, email, and name claims.
type TokenProvider struct {
	secret []byte
	issuer string
}

// NewTokenProvider builds a provider for tokens signed with secret. A
// non-empty issuer is enforced against the iss claim.
func NewTokenProvider(secret, issuer string) (*TokenProvider, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("token secret is required")
	}
	return &TokenProvider{secret: []byte(secret), issuer: issuer}, nil
}

// Connect implements Provider. Token verification needs no setup.
func (p *TokenProvider) Connect(ctx context.Context) error { return nil }

// SignOut implements Provider. Tokens hold no provider-side session.
func (p *TokenProvider) SignOut(ctx context.Context) error { return nil }

// Exchange parses and verifies the credential token.
func (p *TokenProvider) Exchange(ctx context.Context, cred schema.Credential) (schema.Identity, error) {
	if strings.TrimSpace(cred.Token) == "" {
		return schema.Identity{}, fmt.Errorf("%w: token is required", schema.ErrInvalidRequest)
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
	}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}
	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(cred.Token, claims, p.key, opts...); err != nil {
		return schema.Identity{}, fmt.Errorf("verify token: %w", err)
	}
	sub, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)
	if sub == "" || email == "" {
		return schema.Identity{}, errors.New("token is missing sub or email claim")
	}
	if name == "" {
		name = email
	}
	return schema.Identity{
		UID:         schema.UserID(sub),
		Email:       strings.ToLower(email),
		DisplayName: name,
	}, nil
}

func (p *TokenProvider) key(token *jwt.Token) (any, error) {
	return p.secret, nil
}
