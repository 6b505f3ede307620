package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matti/backend/internal/analysis"
	"matti/backend/internal/logging"
	"matti/backend/internal/metrics"
)

func intPtr(v int) *int { return &v }

func TestAgeGroup(t *testing.T) {
	cases := []struct {
		age  *int
		want string
	}{
		{nil, "12-21"},
		{intPtr(12), "12-13"},
		{intPtr(13), "12-13"},
		{intPtr(15), "14-15"},
		{intPtr(16), "16-17"},
		{intPtr(21), "18-21"},
		{intPtr(11), "12-21"},
		{intPtr(30), "12-21"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, AgeGroup(tc.age))
	}
}

func TestPostalPrefix(t *testing.T) {
	require.NotNil(t, PostalPrefix("1234 AB"))
	assert.Equal(t, "1234", *PostalPrefix("1234 AB"))
	assert.Equal(t, "12", *PostalPrefix(" 12 "))
	assert.Nil(t, PostalPrefix("  "))
}

func TestSessionStartBody(t *testing.T) {
	at := time.Date(2025, 5, 1, 12, 30, 0, 0, time.UTC)
	body, err := Body(SessionStart{
		UserID:     "user-1",
		SessionID:  "conv-1",
		Age:        intPtr(15),
		PostalCode: "1234AB",
		IsNewUser:  true,
		Theme:      analysis.ThemeSchool,
	}, at)
	require.NoError(t, err)

	assert.Equal(t, "matti", body["app_type"])
	assert.Equal(t, "SESSION_START", body["event_type"])
	assert.Equal(t, "2025-05-01T12:30:00.000Z", body["timestamp"])
	assert.Equal(t, "14-15", body["leeftijdsgroep"])
	assert.Equal(t, 15, body["leeftijd"])
	assert.Equal(t, true, body["is_new_user"])
	require.IsType(t, (*string)(nil), body["gemeente"])
	assert.Equal(t, "1234", *body["gemeente"].(*string))
}

func TestPayloadValidation(t *testing.T) {
	_, err := SessionEnd{UserID: "u", SessionID: "s", SatisfactionScore: intPtr(6)}.Fields()
	assert.ErrorIs(t, err, ErrInvalidEvent)

	_, err = MessageSent{UserID: "", SessionID: "s"}.Fields()
	assert.ErrorIs(t, err, ErrInvalidEvent)

	_, err = RiskDetected{UserID: "u", SessionID: "s", Level: "extreme", RiskType: analysis.RiskAbuse}.Fields()
	assert.ErrorIs(t, err, ErrInvalidEvent)

	_, err = InterventionOutcome{UserID: "u", SessionID: "s", Outcome: "done"}.Fields()
	assert.ErrorIs(t, err, ErrInvalidEvent)

	fields, err := InterventionOutcome{UserID: "u", SessionID: "s", Outcome: analysis.OutcomeResolved, ActionCompletionRate: 50}.Fields()
	require.NoError(t, err)
	assert.Equal(t, "", fields["resolution"])
	assert.Equal(t, 50, fields["action_completion_rate"])
}

func TestClientPostsFlattenedEvent(t *testing.T) {
	var (
		mu      sync.Mutex
		gotKey  string
		gotBody map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotKey = r.Header.Get("X-API-Key")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "ak_test", time.Second)
	err := client.Send(context.Background(), RiskDetected{
		UserID:      "user-1",
		SessionID:   "conv-1",
		Level:       analysis.SeverityCritical,
		RiskType:    analysis.RiskSuicidality,
		ActionTaken: "Crisis resources provided",
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "ak_test", gotKey)
	assert.Equal(t, "RISK_DETECTED", gotBody["event_type"])
	assert.Equal(t, "critical", gotBody["riskLevel"])
	assert.Equal(t, "Crisis resources provided", gotBody["action_taken"])
	assert.NotContains(t, gotBody, "detected_text")
}

func TestClientReportsCollectorErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "wrong", time.Second).Send(context.Background(), MessageSent{UserID: "u", SessionID: "s", MessageCount: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

type failingSender struct{}

func (failingSender) Send(context.Context, Payload) error { return errors.New("collector down") }

func TestPublisherIsBestEffort(t *testing.T) {
	m := metrics.New()
	publisher := NewPublisher(failingSender{}, logging.Discard(), m)

	err := publisher.Publish(context.Background(), SessionEnd{UserID: "u", SessionID: "s", DurationSeconds: 300, TotalMessages: 10})
	assert.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnalyticsEvents.WithLabelValues("SESSION_END", "failed")))

	err = publisher.Publish(context.Background(), SessionEnd{UserID: "u", SessionID: "s", SatisfactionScore: intPtr(0)})
	assert.ErrorIs(t, err, ErrInvalidEvent)

	disabled := NewPublisher(nil, logging.Discard(), nil)
	assert.False(t, disabled.Enabled())
	assert.NoError(t, disabled.Publish(context.Background(), MessageSent{UserID: "u", SessionID: "s"}))
}
