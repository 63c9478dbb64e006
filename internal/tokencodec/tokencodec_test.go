package tokencodec

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func testKeyPair(t *testing.T) (*rsa.PrivateKey, *rsa.PublicKey) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return priv, &priv.PublicKey
}

func TestSignThenVerifyRoundTrip(t *testing.T) {
	priv, pub := testKeyPair(t)
	codec := New(priv, pub)

	entryID := uuid.New()
	laptop := "LT-001"
	signed, err := codec.SignEntry(entryID, "R1", &laptop, nil)
	require.NoError(t, err)

	payload, err := codec.Verify(signed)
	require.NoError(t, err)
	require.Equal(t, entryID, *payload.EntryID)
	require.Equal(t, "R1", payload.Roll)
	require.Equal(t, ActionEntering, payload.Action)
	require.Equal(t, laptop, *payload.Laptop)
	require.WithinDuration(t, time.Now(), payload.IssuedAt, 5*time.Second)
	require.WithinDuration(t, time.Now().Add(EntryTokenTTL), payload.ExpiresAt, 5*time.Second)
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	priv, _ := testKeyPair(t)
	_, otherPub := testKeyPair(t)

	signer := New(priv, nil)
	signed, err := signer.SignEntry(uuid.New(), "R1", nil, nil)
	require.NoError(t, err)

	verifier := New(nil, otherPub)
	_, err = verifier.Verify(signed)
	require.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerifyRejectsExpired(t *testing.T) {
	priv, pub := testKeyPair(t)
	codec := New(priv, pub)

	body := claims{
		Roll:   "R1",
		Action: ActionEntering,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, body)
	signed, err := token.SignedString(priv)
	require.NoError(t, err)

	_, err = codec.Verify(signed)
	require.ErrorIs(t, err, ErrExpired)
}

func TestVerifyExpiredFallbackToleratesExpiry(t *testing.T) {
	priv, pub := testKeyPair(t)
	codec := New(priv, pub)
	entryID := uuid.New()

	body := claims{
		EntryID: &entryID,
		Roll:    "R1",
		Action:  ActionEntering,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, body)
	signed, err := token.SignedString(priv)
	require.NoError(t, err)

	payload, err := codec.VerifyExpiredFallback(signed)
	require.NoError(t, err)
	require.Equal(t, entryID, *payload.EntryID)
}

func TestVerifyExpiredFallbackStillChecksSignature(t *testing.T) {
	priv, _ := testKeyPair(t)
	_, otherPub := testKeyPair(t)

	signer := New(priv, nil)
	body := claims{
		Roll:   "R1",
		Action: ActionEntering,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, body)
	signed, err := token.SignedString(signer.privateKey)
	require.NoError(t, err)

	verifier := New(nil, otherPub)
	_, err = verifier.VerifyExpiredFallback(signed)
	require.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerifyExpiredFallbackStillChecksAudience(t *testing.T) {
	priv, pub := testKeyPair(t)
	codec := New(priv, pub)

	body := claims{
		Roll:   "R1",
		Action: ActionEntering,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{"someone-else"},
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, body)
	signed, err := token.SignedString(priv)
	require.NoError(t, err)

	_, err = codec.VerifyExpiredFallback(signed)
	require.ErrorIs(t, err, ErrAudienceMismatch)
}

func TestVerifyExpiredFallbackStillChecksIssuer(t *testing.T) {
	priv, pub := testKeyPair(t)
	codec := New(priv, pub)

	body := claims{
		Roll:   "R1",
		Action: ActionEntering,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, body)
	signed, err := token.SignedString(priv)
	require.NoError(t, err)

	_, err = codec.VerifyExpiredFallback(signed)
	require.ErrorIs(t, err, ErrIssuerMismatch)
}

func TestVerifyRejectsWrongAudience(t *testing.T) {
	priv, pub := testKeyPair(t)
	codec := New(priv, pub)

	body := claims{
		Roll:   "R1",
		Action: ActionEntering,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{"someone-else"},
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, body)
	signed, err := token.SignedString(priv)
	require.NoError(t, err)

	_, err = codec.Verify(signed)
	require.ErrorIs(t, err, ErrAudienceMismatch)
}
