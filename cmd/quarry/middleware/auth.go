// Package middleware provides net/http middleware for the quarry API.
package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/TFMV/quarry/cmd/quarry/config"
	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/handlers"
)

// AuthMiddleware provides authentication middleware.
type AuthMiddleware struct {
	config config.AuthConfig
	logger zerolog.Logger

	// HS256 verification settings, populated for jwt auth.
	HSKey []byte
	Iss   string
	Aud   string

	exempt map[string]bool
}

// NewAuthMiddleware creates a new authentication middleware. /health is never
// authenticated.
func NewAuthMiddleware(cfg config.AuthConfig, logger zerolog.Logger) *AuthMiddleware {
	m := &AuthMiddleware{
		config: cfg,
		logger: logger,
		exempt: map[string]bool{"/health": true},
	}
	if cfg.Type == "jwt" {
		m.HSKey = []byte(cfg.JWTAuth.Secret)
		m.Iss = cfg.JWTAuth.Issuer
		m.Aud = cfg.JWTAuth.Audience
	}
	return m
}

// Handler wraps next with authentication.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.exempt[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		ctx, err := m.authenticate(r)
		if err != nil {
			m.logger.Warn().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("Authentication failed")
			if m.config.Type == "basic" {
				w.Header().Set("WWW-Authenticate", `Basic realm="quarry"`)
			}
			handlers.WriteError(w, err)
			return
		}

		if user, ok := GetUser(ctx); ok {
			if rec, ok := w.(*responseRecorder); ok {
				rec.user = user
			}
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authenticate performs authentication based on configured type.
func (m *AuthMiddleware) authenticate(r *http.Request) (context.Context, error) {
	if !m.config.Enabled {
		return r.Context(), nil
	}

	switch m.config.Type {
	case "basic":
		return m.authenticateBasic(r)
	case "bearer":
		return m.authenticateBearer(r)
	case "jwt":
		return m.authenticateJWT(r)
	default:
		return nil, errors.Newf(errors.CodeInternal, "unsupported auth type: %s", m.config.Type)
	}
}

func unauthenticated(msg string) error {
	return errors.New(errors.CodeUnauthorized, msg)
}

// authenticateBasic performs basic authentication.
func (m *AuthMiddleware) authenticateBasic(r *http.Request) (context.Context, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, unauthenticated("missing authorization header")
	}
	if !strings.HasPrefix(header, "Basic ") {
		return nil, unauthenticated("invalid authorization header")
	}

	username, password, ok := r.BasicAuth()
	if !ok {
		return nil, unauthenticated("invalid credentials encoding")
	}

	userInfo, ok := m.config.BasicAuth.Users[username]
	if !ok {
		return nil, unauthenticated("invalid credentials")
	}
	if subtle.ConstantTimeCompare([]byte(password), []byte(userInfo.Password)) != 1 {
		return nil, unauthenticated("invalid credentials")
	}

	ctx := context.WithValue(r.Context(), contextKeyUser, username)
	ctx = context.WithValue(ctx, contextKeyRoles, userInfo.Roles)
	return ctx, nil
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", unauthenticated("missing authorization header")
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", unauthenticated("invalid authorization header")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", unauthenticated("empty bearer token")
	}
	return token, nil
}

// authenticateBearer performs static bearer token authentication.
func (m *AuthMiddleware) authenticateBearer(r *http.Request) (context.Context, error) {
	token, err := bearerToken(r)
	if err != nil {
		return nil, err
	}

	var username string
	for known, user := range m.config.BearerAuth.Tokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(known)) == 1 {
			username = user
		}
	}
	if username == "" {
		return nil, unauthenticated("invalid token")
	}

	return context.WithValue(r.Context(), contextKeyUser, username), nil
}

// authenticateJWT verifies an HS256 token and its issuer and audience.
func (m *AuthMiddleware) authenticateJWT(r *http.Request) (context.Context, error) {
	raw, err := bearerToken(r)
	if err != nil {
		return nil, err
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if m.Iss != "" {
		opts = append(opts, jwt.WithIssuer(m.Iss))
	}
	if m.Aud != "" {
		opts = append(opts, jwt.WithAudience(m.Aud))
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return m.HSKey, nil
	}, opts...)
	if err != nil || !token.Valid {
		m.logger.Debug().Err(err).Msg("JWT rejected")
		return nil, unauthenticated("invalid token")
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, unauthenticated("token has no subject")
	}

	ctx := context.WithValue(r.Context(), contextKeyUser, sub)
	if list, ok := claims["roles"].([]interface{}); ok {
		roles := make([]string, 0, len(list))
		for _, v := range list {
			if s, ok := v.(string); ok {
				roles = append(roles, s)
			}
		}
		ctx = context.WithValue(ctx, contextKeyRoles, roles)
	}
	return ctx, nil
}

// Context keys for authentication
type contextKey string

const (
	contextKeyUser  contextKey = "user"
	contextKeyRoles contextKey = "roles"
)

// GetUser extracts the authenticated user from context.
func GetUser(ctx context.Context) (string, bool) {
	user, ok := ctx.Value(contextKeyUser).(string)
	return user, ok
}

// GetRoles extracts the user's roles from context.
func GetRoles(ctx context.Context) ([]string, bool) {
	roles, ok := ctx.Value(contextKeyRoles).([]string)
	return roles, ok
}
