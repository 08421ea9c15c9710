package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default validity periods for issued tokens.
const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 14 * 24 * time.Hour
)

// TokenConfig bundles the configuration required to build a TokenService.
type TokenConfig struct {
	Secret          string
	Issuer          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	Clock           func() time.Time
}

// TokenService issues and validates the signed bearer tokens carrying Claims.
type TokenService struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenService constructs a TokenService from the provided configuration.
func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if cfg.Secret == "" {
		return nil, errors.New("token service: secret must be provided")
	}

	accessTTL := cfg.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTokenTTL
	}

	refreshTTL := cfg.RefreshTokenTTL
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTokenTTL
	}

	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &TokenService{
		secret:     []byte(cfg.Secret),
		issuer:     cfg.Issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        now,
	}, nil
}

// TokenInput holds the parameters used when generating a token pair.
type TokenInput struct {
	Subject string
	Groups  []string
	Admin   bool
}

// IssueAccessToken signs a short-lived access token for the principal.
func (s *TokenService) IssueAccessToken(input TokenInput) (string, error) {
	return s.issue(input, false, s.accessTTL)
}

// IssueRefreshToken signs a long-lived refresh token for the principal.
// Refresh tokens carry no group list; groups are re-resolved on refresh.
func (s *TokenService) IssueRefreshToken(input TokenInput) (string, error) {
	return s.issue(TokenInput{Subject: input.Subject, Admin: input.Admin}, true, s.refreshTTL)
}

func (s *TokenService) issue(input TokenInput, refresh bool, ttl time.Duration) (string, error) {
	if input.Subject == "" {
		return "", errors.New("token service: subject is required")
	}

	now := s.now()

	claims := &Claims{
		Groups:  input.Groups,
		Admin:   input.Admin,
		Refresh: refresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   input.Subject,
			Issuer:    s.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("token service: sign token: %w", err)
	}

	return signed, nil
}

// VerifyAccessToken parses a bearer token and rejects refresh tokens offered
// in place of access tokens.
func (s *TokenService) VerifyAccessToken(tokenString string) (*Claims, error) {
	claims, err := s.verify(tokenString)
	if err != nil {
		return nil, err
	}

	if claims.Refresh {
		return nil, errors.New("token service: expected access token, got refresh token")
	}

	return claims, nil
}

// VerifyRefreshToken parses a refresh token, rejecting access tokens.
func (s *TokenService) VerifyRefreshToken(tokenString string) (*Claims, error) {
	claims, err := s.verify(tokenString)
	if err != nil {
		return nil, err
	}

	if !claims.Refresh {
		return nil, errors.New("token service: expected refresh token, got access token")
	}

	return claims, nil
}

func (s *TokenService) verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.New("token service: token string is empty")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)

	var claims Claims
	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("token service: parse token: %w", err)
	}

	if s.issuer != "" && claims.Issuer != s.issuer {
		return nil, errors.New("token service: invalid issuer")
	}

	if claims.Subject == "" {
		return nil, errors.New("token service: missing subject claim")
	}

	return &claims, nil
}
