package services

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-jwt-signing-32-chars"

// createTestTokenService creates a token service for testing with symmetric key
func createTestTokenService(t *testing.T) TokenService {
	t.Helper()
	service, err := NewTokenService(15*time.Minute, "test-issuer", "test-audience", false, "", "", testSecret)
	require.NoError(t, err)
	return service
}

func generateRSAPEM(t *testing.T) (string, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return string(privPEM), string(pubPEM)
}

func TestNewTokenService(t *testing.T) {
	tests := []struct {
		name        string
		ttl         time.Duration
		useRSAKeys  bool
		privateKey  string
		publicKey   string
		secretKey   string
		expectError bool
	}{
		{name: "valid symmetric key configuration", ttl: time.Minute, secretKey: testSecret},
		{name: "missing secret key", ttl: time.Minute, expectError: true},
		{name: "non-positive ttl", ttl: 0, secretKey: testSecret, expectError: true},
		{name: "rsa without keys", ttl: time.Minute, useRSAKeys: true, expectError: true},
		{name: "rsa with garbage keys", ttl: time.Minute, useRSAKeys: true, privateKey: "x", publicKey: "y", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, err := NewTokenService(tt.ttl, "iss", "aud", tt.useRSAKeys, tt.privateKey, tt.publicKey, tt.secretKey)
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, service)
				return
			}
			assert.NoError(t, err)
			assert.NotNil(t, service)
		})
	}
}

func TestGenerateAndValidateAdminToken(t *testing.T) {
	service := createTestTokenService(t)

	token, expiresAt, err := service.GenerateAdminToken(7)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), expiresAt, 5*time.Second)

	claims, err := service.ValidateAdminToken(token)
	require.NoError(t, err)
	assert.Equal(t, uint(7), claims.AdminID)
	assert.Equal(t, adminTokenType, claims.TokenType)
	assert.NotEmpty(t, claims.TokenID)
	assert.Equal(t, expiresAt.Unix(), claims.ExpiresAt.Unix())

	_, _, err = service.GenerateAdminToken(0)
	assert.Error(t, err)
}

func TestRSAAdminToken(t *testing.T) {
	privPEM, pubPEM := generateRSAPEM(t)
	service, err := NewTokenService(time.Minute, "iss", "aud", true, privPEM, pubPEM, "")
	require.NoError(t, err)

	token, _, err := service.GenerateAdminToken(3)
	require.NoError(t, err)

	claims, err := service.ValidateAdminToken(token)
	require.NoError(t, err)
	assert.Equal(t, uint(3), claims.AdminID)

	// an HMAC token must not pass an RSA verifier
	hmacService := createTestTokenService(t)
	hmacToken, _, err := hmacService.GenerateAdminToken(3)
	require.NoError(t, err)
	_, err = service.ValidateAdminToken(hmacToken)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestValidateAdminTokenRejects(t *testing.T) {
	service := createTestTokenService(t)
	now := time.Now()

	sign := func(claims jwt.MapClaims, secret string) string {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		require.NoError(t, err)
		return token
	}
	baseClaims := func() jwt.MapClaims {
		return jwt.MapClaims{
			"admin_id":   1,
			"token_type": adminTokenType,
			"jti":        "abc",
			"iat":        now.Unix(),
			"exp":        now.Add(time.Minute).Unix(),
			"iss":        "test-issuer",
			"aud":        "test-audience",
		}
	}

	tests := []struct {
		name   string
		token  func() string
		expect error
	}{
		{"garbage", func() string { return "not.a.token" }, ErrTokenInvalid},
		{"empty", func() string { return "" }, ErrTokenInvalid},
		{"wrong secret", func() string { return sign(baseClaims(), "another-secret-key-with-32-characters") }, ErrTokenInvalid},
		{"expired", func() string {
			c := baseClaims()
			c["exp"] = now.Add(-time.Minute).Unix()
			return sign(c, testSecret)
		}, ErrTokenExpired},
		{"wrong issuer", func() string {
			c := baseClaims()
			c["iss"] = "someone-else"
			return sign(c, testSecret)
		}, ErrTokenInvalid},
		{"wrong audience", func() string {
			c := baseClaims()
			c["aud"] = "other-api"
			return sign(c, testSecret)
		}, ErrTokenInvalid},
		{"wrong token type", func() string {
			c := baseClaims()
			c["token_type"] = "refresh"
			return sign(c, testSecret)
		}, ErrTokenInvalid},
		{"missing admin id", func() string {
			c := baseClaims()
			delete(c, "admin_id")
			return sign(c, testSecret)
		}, ErrTokenInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.ValidateAdminToken(tt.token())
			assert.ErrorIs(t, err, tt.expect)
		})
	}

	t.Run("well formed", func(t *testing.T) {
		_, err := service.ValidateAdminToken(sign(baseClaims(), testSecret))
		assert.NoError(t, err)
	})
}

func TestConcurrentTokenGeneration(t *testing.T) {
	service := createTestTokenService(t)

	const workers = 20
	ids := make(chan string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(adminID uint) {
			defer wg.Done()
			token, _, err := service.GenerateAdminToken(adminID)
			assert.NoError(t, err)
			claims, err := service.ValidateAdminToken(token)
			assert.NoError(t, err)
			ids <- claims.TokenID
		}(uint(i + 1))
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func BenchmarkValidateAdminToken(b *testing.B) {
	service, err := NewTokenService(15*time.Minute, "iss", "aud", false, "", "", testSecret)
	if err != nil {
		b.Fatal(err)
	}
	token, _, err := service.GenerateAdminToken(1)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = service.ValidateAdminToken(token)
	}
}
