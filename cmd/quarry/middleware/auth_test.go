package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/quarry/cmd/quarry/config"
	"github.com/TFMV/quarry/pkg/errors"
)

func setupTestAuthMiddleware(t *testing.T, authType string) (*AuthMiddleware, config.AuthConfig) {
	logger := zerolog.New(zerolog.NewTestWriter(t))
	cfg := config.AuthConfig{
		Enabled: true,
		Type:    authType,
	}

	switch authType {
	case "basic":
		cfg.BasicAuth.Users = map[string]config.UserInfo{
			"testuser": {
				Password: "testpass",
				Roles:    []string{"admin"},
			},
		}
	case "bearer":
		cfg.BearerAuth.Tokens = map[string]string{
			"test-token": "testuser",
		}
	case "jwt":
		cfg.JWTAuth = config.JWTAuthConfig{
			Secret:   "test-secret",
			Issuer:   "test-issuer",
			Audience: "test-audience",
		}
	}

	middleware := NewAuthMiddleware(cfg, logger)
	return middleware, cfg
}

func requestWithAuth(header string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/db/snapshot", nil)
	if header != "" {
		r.Header.Set("Authorization", header)
	}
	return r
}

func signHS256(t *testing.T, key []byte, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub": "testuser",
		"exp": time.Now().Add(time.Hour).Unix(),
		"iss": "test-issuer",
		"aud": "test-audience",
	}
}

func TestNewAuthMiddleware(t *testing.T) {
	t.Run("basic auth", func(t *testing.T) {
		middleware, _ := setupTestAuthMiddleware(t, "basic")
		assert.NotNil(t, middleware)
		assert.True(t, middleware.config.Enabled)
		assert.Equal(t, "basic", middleware.config.Type)
		assert.Nil(t, middleware.HSKey)
	})

	t.Run("jwt auth", func(t *testing.T) {
		middleware, _ := setupTestAuthMiddleware(t, "jwt")
		assert.Equal(t, "test-secret", string(middleware.HSKey))
		assert.Equal(t, "test-issuer", middleware.Iss)
		assert.Equal(t, "test-audience", middleware.Aud)
	})
}

func TestAuthMiddleware_AuthenticateBasic(t *testing.T) {
	middleware, _ := setupTestAuthMiddleware(t, "basic")
	encode := func(s string) string { return "Basic " + base64.StdEncoding.EncodeToString([]byte(s)) }

	t.Run("successful authentication", func(t *testing.T) {
		authCtx, err := middleware.authenticateBasic(requestWithAuth(encode("testuser:testpass")))
		require.NoError(t, err)

		user, ok := GetUser(authCtx)
		assert.True(t, ok)
		assert.Equal(t, "testuser", user)

		roles, ok := GetRoles(authCtx)
		assert.True(t, ok)
		assert.Equal(t, []string{"admin"}, roles)
	})

	failures := []struct {
		name   string
		header string
	}{
		{"missing authorization header", ""},
		{"invalid authorization header", "Invalid test"},
		{"invalid encoding", "Basic %%%"},
		{"invalid credentials", encode("testuser:wrongpass")},
		{"unknown user", encode("nobody:testpass")},
	}
	for _, tc := range failures {
		t.Run(tc.name, func(t *testing.T) {
			_, err := middleware.authenticateBasic(requestWithAuth(tc.header))
			require.Error(t, err)
			assert.Equal(t, errors.CodeUnauthorized, errors.GetCode(err))
		})
	}
}

func TestAuthMiddleware_AuthenticateBearer(t *testing.T) {
	middleware, _ := setupTestAuthMiddleware(t, "bearer")

	t.Run("successful authentication", func(t *testing.T) {
		authCtx, err := middleware.authenticateBearer(requestWithAuth("Bearer test-token"))
		require.NoError(t, err)

		user, ok := GetUser(authCtx)
		assert.True(t, ok)
		assert.Equal(t, "testuser", user)
	})

	for name, header := range map[string]string{
		"missing authorization header": "",
		"basic scheme":                 "Basic dGVzdA==",
		"empty token":                  "Bearer ",
		"invalid token":                "Bearer invalid-token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := middleware.authenticateBearer(requestWithAuth(header))
			require.Error(t, err)
			assert.Equal(t, errors.CodeUnauthorized, errors.GetCode(err))
		})
	}
}

func TestAuthMiddleware_AuthenticateJWT(t *testing.T) {
	middleware, _ := setupTestAuthMiddleware(t, "jwt")

	t.Run("successful authentication with HMAC", func(t *testing.T) {
		claims := validClaims()
		claims["roles"] = []string{"reader"}
		token := signHS256(t, middleware.HSKey, claims)

		authCtx, err := middleware.authenticateJWT(requestWithAuth("Bearer " + token))
		require.NoError(t, err)

		user, _ := GetUser(authCtx)
		assert.Equal(t, "testuser", user)
		roles, ok := GetRoles(authCtx)
		assert.True(t, ok)
		assert.Equal(t, []string{"reader"}, roles)
	})

	t.Run("RSA signed token is rejected", func(t *testing.T) {
		privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims()).SignedString(privateKey)
		require.NoError(t, err)

		_, err = middleware.authenticateJWT(requestWithAuth("Bearer " + token))
		assert.Equal(t, errors.CodeUnauthorized, errors.GetCode(err))
	})

	t.Run("unsigned token is rejected", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, validClaims()).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = middleware.authenticateJWT(requestWithAuth("Bearer " + token))
		assert.Equal(t, errors.CodeUnauthorized, errors.GetCode(err))
	})

	mutate := func(key string, value interface{}) jwt.MapClaims {
		c := validClaims()
		if value == nil {
			delete(c, key)
		} else {
			c[key] = value
		}
		return c
	}
	rejected := []struct {
		name   string
		claims jwt.MapClaims
		key    []byte
	}{
		{"expired token", mutate("exp", time.Now().Add(-time.Hour).Unix()), nil},
		{"missing expiry", mutate("exp", nil), nil},
		{"invalid issuer", mutate("iss", "wrong-issuer"), nil},
		{"invalid audience", mutate("aud", "wrong-audience"), nil},
		{"missing subject", mutate("sub", nil), nil},
		{"wrong secret", validClaims(), []byte("other-secret")},
	}
	for _, tc := range rejected {
		t.Run(tc.name, func(t *testing.T) {
			key := tc.key
			if key == nil {
				key = middleware.HSKey
			}
			_, err := middleware.authenticateJWT(requestWithAuth("Bearer " + signHS256(t, key, tc.claims)))
			require.Error(t, err)
			assert.Equal(t, errors.CodeUnauthorized, errors.GetCode(err))
		})
	}

	t.Run("malformed token", func(t *testing.T) {
		_, err := middleware.authenticateJWT(requestWithAuth("Bearer invalid.token.here"))
		assert.Equal(t, errors.CodeUnauthorized, errors.GetCode(err))
	})
}

func TestAuthMiddleware_Handler(t *testing.T) {
	var seenUser string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenUser, _ = GetUser(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("health is exempt", func(t *testing.T) {
		middleware, _ := setupTestAuthMiddleware(t, "bearer")
		w := httptest.NewRecorder()
		middleware.Handler(next).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("disabled auth passes through", func(t *testing.T) {
		middleware := NewAuthMiddleware(config.AuthConfig{Enabled: false}, zerolog.Nop())
		w := httptest.NewRecorder()
		middleware.Handler(next).ServeHTTP(w, requestWithAuth(""))
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("rejects with a JSON error", func(t *testing.T) {
		middleware, _ := setupTestAuthMiddleware(t, "basic")
		w := httptest.NewRecorder()
		middleware.Handler(next).ServeHTTP(w, requestWithAuth(""))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, `Basic realm="quarry"`, w.Header().Get("WWW-Authenticate"))

		var body struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, errors.CodeUnauthorized, body.Error.Code)
		assert.Equal(t, "missing authorization header", body.Error.Message)
	})

	t.Run("passes the user downstream", func(t *testing.T) {
		middleware, _ := setupTestAuthMiddleware(t, "bearer")
		w := httptest.NewRecorder()
		middleware.Handler(next).ServeHTTP(w, requestWithAuth("Bearer test-token"))
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "testuser", seenUser)
	})
}
