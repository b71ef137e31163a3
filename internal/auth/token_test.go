package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef0123456789abcdef"

func TestIssueVerifyRoundTrip(t *testing.T) {
	s, err := NewSigner(secret, time.Hour)
	require.NoError(t, err)

	raw, exp, err := s.Issue(Actor{UserID: 42, Admin: true})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	actor, err := s.Verify(" " + raw + " ")
	require.NoError(t, err)
	assert.Equal(t, Actor{UserID: 42, Admin: true}, actor)

	raw, _, err = s.Issue(Actor{UserID: 7})
	require.NoError(t, err)
	actor, err = s.Verify(raw)
	require.NoError(t, err)
	assert.False(t, actor.Admin)
}

func TestNewSignerRejectsShortSecret(t *testing.T) {
	_, err := NewSigner("short", time.Hour)
	require.Error(t, err)

	s, err := NewSigner(secret, 0)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, s.ttl)
}

func TestVerifyRejects(t *testing.T) {
	s, err := NewSigner(secret, time.Minute)
	require.NoError(t, err)
	good, _, err := s.Issue(Actor{UserID: 5})
	require.NoError(t, err)

	other, err := NewSigner(strings.Repeat("z", 32), time.Minute)
	require.NoError(t, err)
	foreign, _, err := other.Issue(Actor{UserID: 5})
	require.NoError(t, err)

	parts := strings.Split(good, ".")
	require.Len(t, parts, 3)
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	noExp := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer, Subject: "5"},
	})
	noExpRaw, err := noExp.SignedString([]byte(secret))
	require.NoError(t, err)

	badSubject := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	})
	badSubjectRaw, err := badSubject.SignedString([]byte(secret))
	require.NoError(t, err)

	wrongIssuer := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			Subject:   "5",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	})
	wrongIssuerRaw, err := wrongIssuer.SignedString([]byte(secret))
	require.NoError(t, err)

	tests := map[string]string{
		"empty":        "",
		"garbage":      "not-a-token",
		"wrong secret": foreign,
		"tampered":     tampered,
		"no expiry":    noExpRaw,
		"bad subject":  badSubjectRaw,
		"wrong issuer": wrongIssuerRaw,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := s.Verify(raw)
			assert.True(t, errors.Is(err, ErrInvalidToken), "got %v", err)
		})
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	s, err := NewSigner(secret, time.Minute)
	require.NoError(t, err)
	issued := time.Now()
	s.now = func() time.Time { return issued }

	raw, _, err := s.Issue(Actor{UserID: 9})
	require.NoError(t, err)

	s.now = func() time.Time { return issued.Add(2 * time.Minute) }
	_, err = s.Verify(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
