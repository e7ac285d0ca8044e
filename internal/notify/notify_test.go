package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Canejo/vault-state-plugin/internal/types"
)

func TestFromSummary(t *testing.T) {
	n := FromSummary(&types.RunSummary{
		Outcome:      types.OutcomeDeltaCreated,
		Period:       "2024-01-02",
		Added:        1,
		Modified:     2,
		Removed:      3,
		Consolidated: true,
		DeltaCount:   30,
		ReadErrors:   []string{"a.md"},
	})
	assert.Equal(t, LevelInfo, n.Level)
	assert.Contains(t, n.Message, "1 added, 2 modified, 3 removed")
	assert.Contains(t, n.Message, "consolidated 30 deltas")
	assert.Contains(t, n.Message, "1 unreadable files")
	assert.Equal(t, "a.md", n.Fields["read_errors"])

	failed := FromSummary(&types.RunSummary{Outcome: types.OutcomeFailed, Err: errors.New("disk full")})
	assert.Equal(t, LevelError, failed.Level)
	assert.Equal(t, "disk full", failed.Message)
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	LogNotifier{Logger: log.New(&buf, "", 0)}.Notify(context.Background(), Notification{Level: LevelInfo, Title: "t", Message: "m"})
	assert.Equal(t, "notify: [info] t: m\n", buf.String())
}

func TestSlackNotifierPostsWebhook(t *testing.T) {
	var received slack.WebhookMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &received))
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	notifier := NewSlackNotifier(server.URL, "#vault", nil)
	notifier.Notify(context.Background(), Notification{
		Level:   LevelError,
		Title:   "Vault snapshot failed",
		Message: "boom",
		Fields:  map[string]string{"period": "2024-01-02", "outcome": "failed"},
	})

	assert.Equal(t, "#vault", received.Channel)
	assert.Equal(t, "Vault snapshot failed", received.Text)
	require.Len(t, received.Attachments, 1)
	assert.Equal(t, "danger", received.Attachments[0].Color)
	require.Len(t, received.Attachments[0].Fields, 2)
	assert.Equal(t, "outcome", received.Attachments[0].Fields[0].Title)
}

func TestSlackNotifierFailureIsLogged(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	var buf bytes.Buffer
	NewSlackNotifier(server.URL, "", log.New(&buf, "", 0)).Notify(context.Background(), Notification{Title: "x"})
	assert.Contains(t, buf.String(), "slack webhook failed")
}

func TestSlackNotifierGivesUpOnStalledWebhook(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })

	var buf bytes.Buffer
	notifier := NewSlackNotifier(server.URL, "", log.New(&buf, "", 0), WithSlackTimeout(100*time.Millisecond))

	done := make(chan struct{})
	go func() {
		notifier.Notify(context.Background(), Notification{Title: "x"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Notify blocked on a stalled webhook")
	}
	assert.Contains(t, buf.String(), "slack webhook failed")
}

func TestMultiSkipsNil(t *testing.T) {
	var buf bytes.Buffer
	Multi{nil, LogNotifier{Logger: log.New(&buf, "", 0)}}.Notify(context.Background(), Notification{Title: "x"})
	assert.NotEmpty(t, buf.String())
}
