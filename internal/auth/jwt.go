// Package auth - jwt.go mints and verifies the directory's HS256 bearer tokens.
// A token names one user and the scopes that user holds; the secret is read
// once from the environment.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// JWTSecretEnv names the environment variable holding the signing secret
	JWTSecretEnv = "ORGDIR_JWT_SECRET"
	// DevModeEnv set to true or 1 lets the server start without a secret
	DevModeEnv = "ORGDIR_DEV_MODE"

	tokenIssuer       = "orgdirectory"
	defaultTokenTTL   = time.Hour
	minSecretLength   = 32
	allowedClockSkew  = 30 * time.Second
	signingMethodName = "HS256"
)

// ErrInvalidToken wraps every reason ValidateJWT rejects a token
var ErrInvalidToken = errors.New("invalid token")

var (
	jwtSecret     string
	jwtSecretOnce sync.Once
	jwtSecretErr  error
)

// Claims identifies the caller of a directory request
type Claims struct {
	UserID string   `json:"user_id"`
	Login  string   `json:"login,omitempty"`
	Scopes []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

func isDevMode() bool {
	switch os.Getenv(DevModeEnv) {
	case "true", "1":
		return true
	}
	return os.Getenv("GIN_MODE") == "debug"
}

func generateRandomSecret() string {
	b := make([]byte, minSecretLength)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("dev-fallback-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// ValidateJWTSecret loads the signing secret from ORGDIR_JWT_SECRET. Without
// it the server refuses to start, unless running in dev mode, where a random
// secret is generated and tokens die with the process. Call it at startup.
func ValidateJWTSecret() error {
	jwtSecretOnce.Do(func() {
		secret := os.Getenv(JWTSecretEnv)
		switch {
		case secret != "":
			if len(secret) < minSecretLength {
				slog.Warn("jwt secret is shorter than recommended", "env", JWTSecretEnv,
					"length", len(secret), "recommended", minSecretLength)
			}
			jwtSecret = secret
		case isDevMode():
			jwtSecret = generateRandomSecret()
			slog.Warn("jwt secret not set, using a random development secret; tokens will not survive a restart",
				"env", JWTSecretEnv)
		default:
			jwtSecretErr = fmt.Errorf("%s is required outside dev mode (generate one with: openssl rand -hex 32)",
				JWTSecretEnv)
		}
	})
	return jwtSecretErr
}

// GetJWTSecret returns the signing secret, loading it on first use.
// Panics when no secret can be loaded.
func GetJWTSecret() string {
	if jwtSecret == "" {
		if err := ValidateJWTSecret(); err != nil {
			panic(err)
		}
	}
	return jwtSecret
}

// GenerateJWT mints a token for userID carrying scopes, valid for expiresIn
// (one hour when zero). Only directory scopes can be granted.
func GenerateJWT(userID, login string, scopes []string, expiresIn time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("user id is required")
	}
	if err := ValidateScopes(scopes); err != nil {
		return "", err
	}
	if expiresIn == 0 {
		expiresIn = defaultTokenTTL
	}

	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Login:  login,
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   userID,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(GetJWTSecret()))
}

// ValidateJWT verifies signature, issuer and expiry of tokenString and returns
// its claims. Up to allowedClockSkew of drift between the minting host and
// this one is tolerated.
func ValidateJWT(tokenString string) (*Claims, error) {
	secret := []byte(GetJWTSecret())

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (interface{}, error) { return secret, nil },
		jwt.WithValidMethods([]string{signingMethodName}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(allowedClockSkew),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: no user id", ErrInvalidToken)
	}
	return claims, nil
}
