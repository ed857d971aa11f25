// Package auth resolves the caller's identity from a bearer token at the transport edge.
// Handlers read it once with FromContext and pass it explicitly into the core.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vadim/dealroom/internal/domain/identity"
)

// Claims carried by dealroom access tokens. Subject is the account id.
type Claims struct {
	Role      identity.Role `json:"role"`
	ProfileID string        `json:"profile_id,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator issues and verifies HS256 access tokens
type Authenticator struct {
	secret []byte
	issuer string
	logger *slog.Logger
	now    func() time.Time
}

// NewAuthenticator creates an authenticator
func NewAuthenticator(secret, issuer string, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		secret: []byte(secret),
		issuer: issuer,
		logger: logger,
		now:    time.Now,
	}
}

// Issue signs a token for id valid for ttl
func (a *Authenticator) Issue(id identity.Identity, ttl time.Duration) (string, error) {
	if err := id.Validate(); err != nil {
		return "", err
	}
	now := a.now()
	claims := Claims{
		Role:      id.Role,
		ProfileID: id.ProfileID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.AccountID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Parse verifies a token and returns the identity it carries
func (a *Authenticator) Parse(token string) (*identity.Identity, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return a.secret, nil
		},
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}

	id := &identity.Identity{
		Role:      claims.Role,
		AccountID: claims.Subject,
		ProfileID: claims.ProfileID,
	}
	if err := id.Validate(); err != nil {
		return nil, err
	}
	return id, nil
}

var errNoToken = errors.New("no bearer token")

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errNoToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errors.New("malformed authorization header")
	}
	return strings.TrimSpace(token), nil
}

type ctxKey struct{}

// Middleware attaches the identity of a valid bearer token to the request context.
// Requests without one pass through unauthenticated; the core rejects them.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err != nil {
			if !errors.Is(err, errNoToken) {
				a.logger.Debug("rejected authorization header", "error", err)
			}
			next.ServeHTTP(w, r)
			return
		}

		id, err := a.Parse(token)
		if err != nil {
			a.logger.Debug("rejected bearer token", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// WithIdentity returns ctx carrying id
func WithIdentity(ctx context.Context, id *identity.Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the resolved identity, nil when the caller is unauthenticated
func FromContext(ctx context.Context) *identity.Identity {
	id, _ := ctx.Value(ctxKey{}).(*identity.Identity)
	return id
}
