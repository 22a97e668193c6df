package api

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/signalsfoundry/across/model"
)

// ScopeScheduleWrite is required to ingest schedules.
const ScopeScheduleWrite = "schedule:write"

const principalKey = "across.principal"

// Claims are the bearer token claims. Subject is the principal id.
type Claims struct {
	Scopes []string `json:"scopes,omitempty"`

	jwt.RegisteredClaims
}

// Principal is the authenticated caller of a request.
type Principal struct {
	ID     uuid.UUID
	Scopes []string
}

func (p Principal) Has(scope string) bool { return slices.Contains(p.Scopes, scope) }

// Authenticator signs and verifies HS256 bearer tokens.
type Authenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// Sign issues a token for subject valid for ttl.
func (a *Authenticator) Sign(subject uuid.UUID, scopes []string, ttl time.Duration) (string, error) {
	now := a.now().UTC()
	claims := Claims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject.String(),
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify parses token and returns its principal. Every failure wraps
// model.ErrUnauthorized.
func (a *Authenticator) Verify(token string) (Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", model.ErrUnauthorized, err)
	}
	if !parsed.Valid {
		return Principal{}, fmt.Errorf("%w: invalid token", model.ErrUnauthorized)
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: subject is not a uuid", model.ErrUnauthorized)
	}
	return Principal{ID: id, Scopes: claims.Scopes}, nil
}

// requireScope authenticates the bearer token and checks scope. With no
// authenticator every request runs as the nil principal.
func (s *Server) requireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.auth == nil {
			c.Set(principalKey, Principal{ID: uuid.Nil, Scopes: []string{scope}})
			c.Next()
			return
		}
		tok := bearerToken(c.GetHeader("Authorization"))
		if tok == "" {
			c.Header("WWW-Authenticate", "Bearer")
			s.fail(c, fmt.Errorf("%w: missing bearer token", model.ErrUnauthorized))
			return
		}
		p, err := s.auth.Verify(tok)
		if err != nil {
			c.Header("WWW-Authenticate", "Bearer")
			s.fail(c, err)
			return
		}
		if !p.Has(scope) {
			s.fail(c, fmt.Errorf("%w: scope %s required", ErrForbidden, scope))
			return
		}
		c.Set(principalKey, p)
		c.Next()
	}
}

func principal(c *gin.Context) (Principal, error) {
	v, ok := c.Get(principalKey)
	if !ok {
		return Principal{}, errors.New("no principal on request")
	}
	return v.(Principal), nil
}

func bearerToken(v string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(v), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
