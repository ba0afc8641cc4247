package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-adblock/pkg/domain"
)

func TestWebhookNotifier_PostsJSON(t *testing.T) {
	var got domain.Notice
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second)
	notice := domain.Notice{Title: "🚫 已屏蔽开屏广告", Subtitle: "闲鱼去广告", Message: "开屏广告已被拦截"}
	require.NoError(t, n.Notify(context.Background(), notice))
	assert.Equal(t, notice, got)
	assert.Equal(t, "webhook", n.Name())
}

func TestWebhookNotifier_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL, 0).Notify(context.Background(), domain.Notice{Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	err = NewWebhookNotifier(slow.URL, 50*time.Millisecond).Notify(context.Background(), domain.Notice{Title: "x"})
	assert.Error(t, err)
}

func TestLogNotifier(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	require.NoError(t, LogNotifier{Logger: logger}.Notify(context.Background(), domain.Notice{Title: "t", Message: "m"}))
	assert.Contains(t, buf.String(), `"title":"t"`)
	assert.Equal(t, "log", LogNotifier{}.Name())
}
