package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Service signs and verifies the HS256 access tokens the platform
// trusts. Token subjects are user IDs; admin tokens carry an extra
// audience so user tokens can never reach the admin surface.
type Service struct {
	issuer string
	secret []byte
	ttl    time.Duration
}

const adminAudience = "admin"

func NewService(issuer string, secret []byte, ttl time.Duration) *Service {
	return &Service{issuer: issuer, secret: secret, ttl: ttl}
}

func (s *Service) SignToken(userID string) (string, error) {
	return s.sign(userID, nil)
}

func (s *Service) SignAdminToken(adminID string) (string, error) {
	return s.sign(adminID, jwt.ClaimStrings{adminAudience})
}

func (s *Service) sign(subject string, audience jwt.ClaimStrings) (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   subject,
		Audience:  audience,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(s.secret)
}

func (s *Service) ParseToken(token string) (string, error) {
	claims, err := s.parse(token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func (s *Service) ParseAdminToken(token string) (string, error) {
	claims, err := s.parse(token)
	if err != nil {
		return "", err
	}
	admin := false
	for _, aud := range claims.Audience {
		if aud == adminAudience {
			admin = true
		}
	}
	if !admin {
		return "", errors.New("not an admin token")
	}
	return claims.Subject, nil
}

func (s *Service) parse(token string) (*jwt.RegisteredClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Issuer != s.issuer {
		return nil, errors.New("invalid issuer")
	}
	if claims.Subject == "" {
		return nil, errors.New("invalid subject")
	}
	return claims, nil
}
