package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/svezina/internal/db"
	"github.com/erazemk/svezina/internal/store"
)

type recorder struct {
	keys []string
	err  error
}

func (r *recorder) Deliver(_ context.Context, title, body, dedupeKey string) error {
	if r.err != nil {
		return r.err
	}
	r.keys = append(r.keys, dedupeKey)
	return nil
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("reminder:7", "Item expiring tomorrow", "Milk expires tomorrow (2025-01-10)")
	b := Fingerprint("reminder:7", "Item expiring tomorrow", "Milk expires tomorrow (2025-01-10)")
	c := Fingerprint("reminder:7", "Item expiring tomorrow", "Milk expires tomorrow (2025-01-15)")
	d := Fingerprint("reminder:8", "Item expiring tomorrow", "Milk expires tomorrow (2025-01-10)")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
	assert.Len(t, a, len("reminder:7:")+16)

	// Title and body boundaries matter.
	assert.NotEqual(t, Fingerprint("k", "ab", "c"), Fingerprint("k", "a", "bc"))
}

func TestMultiTriesAllSinks(t *testing.T) {
	ok1, ok2 := &recorder{}, &recorder{}
	bad := &recorder{err: errors.New("down")}

	err := Multi{ok1, bad, ok2}.Deliver(context.Background(), "t", "b", "expired:1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")
	assert.Equal(t, []string{"expired:1"}, ok1.keys)
	assert.Equal(t, []string{"expired:1"}, ok2.keys)

	assert.NoError(t, Multi{}.Deliver(context.Background(), "t", "b", "k"))
}

func TestLogSink(t *testing.T) {
	assert.NoError(t, Log{}.Deliver(context.Background(), "Item expired", "Milk has expired (2025-01-10)", "expired:1"))
}

func TestInboxDedupes(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	inbox := Inbox{DB: database}

	require.NoError(t, inbox.Deliver(ctx, "Item expired", "Milk has expired (2025-01-10)", "expired:1"))
	require.NoError(t, inbox.Deliver(ctx, "Item expired", "Milk has expired (2025-01-10)", "expired:1"))
	require.NoError(t, inbox.Deliver(ctx, "Item expired", "Milk has expired (2025-01-12)", "expired:1"))

	list, err := store.ListNotifications(ctx, database, false)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestWebhookDelivers(t *testing.T) {
	var got webhookPayload
	var idem string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		idem = r.Header.Get("Idempotency-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, WebhookOptions{})
	require.NoError(t, wh.Deliver(context.Background(), "Item expired", "Milk has expired (2025-01-10)", "expired:7"))

	assert.Equal(t, "Item expired", got.Title)
	assert.Equal(t, "Milk has expired (2025-01-10)", got.Body)
	assert.Equal(t, "expired:7", got.DedupeKey)
	assert.Equal(t, Fingerprint("expired:7", got.Title, got.Body), idem)
	assert.Equal(t, idem, got.Fingerprint)
}

func TestWebhookRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, WebhookOptions{RetryMax: 3, RetryWaitMin: time.Millisecond, RetryWaitMax: 5 * time.Millisecond})
	require.NoError(t, wh.Deliver(context.Background(), "t", "b", "reminder:1"))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhookClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, WebhookOptions{RetryMax: 3, RetryWaitMin: time.Millisecond, RetryWaitMax: 5 * time.Millisecond})
	err := wh.Deliver(context.Background(), "t", "b", "reminder:1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	// 4xx is not retried.
	assert.Equal(t, int32(1), calls.Load())
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestDedupe(t *testing.T) {
	mr, client := newRedis(t)
	next := &recorder{}
	d := NewDedupe(client, next, time.Hour, nil)
	ctx := context.Background()

	require.NoError(t, d.Deliver(ctx, "Item expired", "Milk has expired (2025-01-10)", "expired:7"))
	require.NoError(t, d.Deliver(ctx, "Item expired", "Milk has expired (2025-01-10)", "expired:7"))
	assert.Equal(t, []string{"expired:7"}, next.keys)

	// Changed content is a new notification.
	require.NoError(t, d.Deliver(ctx, "Item expired", "Milk has expired (2025-01-12)", "expired:7"))
	assert.Len(t, next.keys, 2)

	// After the TTL the same notification goes through again.
	mr.FastForward(2 * time.Hour)
	require.NoError(t, d.Deliver(ctx, "Item expired", "Milk has expired (2025-01-10)", "expired:7"))
	assert.Len(t, next.keys, 3)
}

func TestDedupeReleasesOnFailure(t *testing.T) {
	_, client := newRedis(t)
	next := &recorder{err: errors.New("down")}
	d := NewDedupe(client, next, time.Hour, nil)
	ctx := context.Background()

	require.Error(t, d.Deliver(ctx, "t", "b", "reminder:1"))

	next.err = nil
	require.NoError(t, d.Deliver(ctx, "t", "b", "reminder:1"))
	assert.Equal(t, []string{"reminder:1"}, next.keys)
}

func TestDedupeFailsOpen(t *testing.T) {
	mr, client := newRedis(t)
	next := &recorder{}
	d := NewDedupe(client, next, time.Hour, nil)

	mr.Close()
	require.NoError(t, d.Deliver(context.Background(), "t", "b", "reminder:1"))
	assert.Equal(t, []string{"reminder:1"}, next.keys)
}

func TestNewRedisClientUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisClient(context.Background(), addr, "", 0)
	assert.Error(t, err)
}
