package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matti/backend/internal/logging"
)

func TestWebhookNotifierPostsJSON(t *testing.T) {
	var got Notification
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	notifier := NewWebhookNotifier(srv.URL, "secret", 0)
	err := notifier.Notify(context.Background(), Notification{Title: "Follow-up: Sam", Content: "**Actie:** Bel je mentor", Kind: KindFollowUp})
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, "Follow-up: Sam", got.Title)
	assert.Equal(t, KindFollowUp, got.Kind)
}

func TestWebhookNotifierReportsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL, "", 0).Notify(context.Background(), Notification{Title: "x"})
	assert.ErrorContains(t, err, "502")
}

func TestRedisStreamNotifierAppends(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	notifier := NewRedisStreamNotifier(client, "matti:notifications", 1000)
	defer notifier.Close()

	err := notifier.Notify(context.Background(), Notification{
		Title:   "Nieuwe actie gedetecteerd",
		Content: "Praat met je mentor",
		UserID:  "user-1",
		Kind:    KindNewAction,
		Meta:    map[string]string{"theme": "school"},
	})
	require.NoError(t, err)

	entries, err := client.XRange(context.Background(), "matti:notifications", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Nieuwe actie gedetecteerd", entries[0].Values["title"])
	assert.Equal(t, "user-1", entries[0].Values["user_id"])
	assert.JSONEq(t, `{"theme":"school"}`, entries[0].Values["meta"].(string))
}

type failingNotifier struct{ err error }

func (f failingNotifier) Notify(context.Context, Notification) error { return f.err }

func TestMultiJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	multi := Multi{NewLogNotifier(logging.Discard()), failingNotifier{err: boom}}

	err := multi.Notify(context.Background(), Notification{Title: "x"})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, Multi{NewLogNotifier(logging.Discard())}.Notify(context.Background(), Notification{}))
}

func TestNewSelectsMode(t *testing.T) {
	logger := logging.Discard()

	n, closeFn, err := New(Options{}, logger)
	require.NoError(t, err)
	assert.IsType(t, &LogNotifier{}, n)
	assert.NoError(t, closeFn())

	_, _, err = New(Options{Mode: "webhook"}, logger)
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	n, closeFn, err = New(Options{Mode: "redis", RedisURL: "redis://" + mr.Addr(), Stream: "s"}, logger)
	require.NoError(t, err)
	assert.IsType(t, &RedisStreamNotifier{}, n)
	assert.NoError(t, closeFn())

	_, _, err = New(Options{Mode: "pigeon"}, logger)
	assert.Error(t, err)

	n, closeFn, err = New(Options{Mode: "log, redis", RedisURL: "redis://" + mr.Addr(), Stream: "s"}, logger)
	require.NoError(t, err)
	require.IsType(t, Multi{}, n)
	assert.Len(t, n.(Multi), 2)
	assert.NoError(t, closeFn())

	_, _, err = New(Options{Mode: "log,pigeon"}, logger)
	assert.Error(t, err)
}
