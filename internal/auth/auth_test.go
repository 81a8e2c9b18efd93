package auth

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"copyrelay/internal/models"
	"copyrelay/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestService_HashAndVerifySecret(t *testing.T) {
	svc := NewService("jwt-secret", time.Hour)

	hash, err := svc.HashSecret("terminal-secret")
	require.NoError(t, err)
	assert.NotEqual(t, "terminal-secret", hash)

	assert.NoError(t, svc.VerifySecret(hash, "terminal-secret"))
	assert.Error(t, svc.VerifySecret(hash, "wrong"))
}

func TestService_TokenRoundtrip(t *testing.T) {
	svc := NewService("jwt-secret", time.Hour)

	token, err := svc.GenerateToken(42, "trader")
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, "trader", claims.Username)
}

func TestService_RejectsForeignToken(t *testing.T) {
	issuer := NewService("secret-a", time.Hour)
	verifier := NewService("secret-b", time.Hour)

	token, err := issuer.GenerateToken(1, "trader")
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	assert.Error(t, err)
}

func TestService_RejectsExpiredToken(t *testing.T) {
	svc := NewService("jwt-secret", -time.Minute)

	token, err := svc.GenerateToken(1, "trader")
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.Error(t, err)
}

func TestTerminalValidator(t *testing.T) {
	st, err := storage.New(":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	svc := NewService("jwt-secret", time.Hour)

	hash, err := svc.HashSecret("terminal-secret")
	require.NoError(t, err)

	require.NoError(t, st.CreateAccountProfile(context.Background(), models.AccountProfile{
		AccountID:  "acc-1",
		UserID:     1,
		Type:       models.AccountTypeMaster,
		Broker:     "test",
		SecretHash: hash,
		CreatedAt:  time.Now(),
	}))

	v := NewTerminalValidator(st, testLogger())

	assert.True(t, v.Validate(context.Background(), "acc-1", "terminal-secret"))
	assert.False(t, v.Validate(context.Background(), "acc-1", "wrong"))
	assert.False(t, v.Validate(context.Background(), "unknown", "terminal-secret"))
}
