package relay

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"copyrelay/internal/models"
	"copyrelay/internal/storage"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStorage(t *testing.T) *storage.Storage {
	t.Helper()

	st, err := storage.New(":memory:", testLogger())
	require.NoError(t, err)

	t.Cleanup(func() { st.Close() })

	return st
}

// okValidator принимает любые учетные данные
type okValidator struct{}

func (okValidator) Validate(context.Context, string, string) bool { return true }

// noValidator отклоняет любые учетные данные
type noValidator struct{}

func (noValidator) Validate(context.Context, string, string) bool { return false }

// fakeSender записывает отправленные сообщения вместо сети
type fakeSender struct {
	mu       sync.Mutex
	sent     []any
	closed   bool
	reason   string
	failSend bool
	delay    time.Duration
}

func (f *fakeSender) Send(ctx context.Context, msg any) error {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failSend {
		return context.DeadlineExceeded
	}

	f.sent = append(f.sent, msg)

	return nil
}

func (f *fakeSender) Close(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	f.reason = reason
}

func (f *fakeSender) messages() []any {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]any, len(f.sent))
	copy(out, f.sent)

	return out
}

func (f *fakeSender) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.closed
}

func provision(t *testing.T, st *storage.Storage, accountID string, accountType models.AccountType, userID int64) {
	t.Helper()

	err := st.CreateAccountProfile(context.Background(), models.AccountProfile{
		AccountID:  accountID,
		UserID:     userID,
		Type:       accountType,
		Broker:     "test-broker",
		SecretHash: "irrelevant",
		CreatedAt:  time.Now(),
	})
	require.NoError(t, err)
}

// connect регистрирует терминал с fake сессией
func connect(t *testing.T, r *Registry, accountID string, accountType models.AccountType) *fakeSender {
	t.Helper()

	sender := &fakeSender{}
	_, err := r.Register(context.Background(), accountID, accountType, "secret", sender)
	require.NoError(t, err)

	return sender
}
