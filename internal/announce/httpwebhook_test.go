package announce

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscordWebhookURL_SplitsIDAndToken(t *testing.T) {
	url, ok := DiscordWebhookURL("123456789:abcDEF-token_value")

	require.True(t, ok)
	assert.Equal(t, "https://discord.com/api/webhooks/123456789/abcDEF-token_value", url)
}

func TestDiscordWebhookURL_RejectsMissingSeparator(t *testing.T) {
	_, ok := DiscordWebhookURL("no-separator-here")
	assert.False(t, ok)
}

func TestDiscordWebhookURL_RejectsEmptyString(t *testing.T) {
	_, ok := DiscordWebhookURL("")
	assert.False(t, ok)
}

func TestHTTPWebhook_Send_Success(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(buf)
		gotBody = string(buf)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	hook := NewHTTPWebhook(func(channelID string) (string, bool) { return srv.URL, true })
	err := hook.Send(context.Background(), "chan-1", Identity{Name: "Beacon Bot"}, "hello squad")

	require.NoError(t, err)
	assert.Contains(t, gotBody, "hello squad")
	assert.Contains(t, gotBody, "Beacon Bot")
}

func TestHTTPWebhook_Send_UnknownChannelReturnsInvalidWebhook(t *testing.T) {
	hook := NewHTTPWebhook(func(channelID string) (string, bool) { return "", false })
	err := hook.Send(context.Background(), "chan-unknown", Identity{}, "hi")

	assert.ErrorIs(t, err, ErrInvalidWebhook)
}

func TestHTTPWebhook_Send_404MapsToInvalidWebhook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	hook := NewHTTPWebhook(func(channelID string) (string, bool) { return srv.URL, true })
	err := hook.Send(context.Background(), "chan-1", Identity{}, "hi")

	assert.ErrorIs(t, err, ErrInvalidWebhook)
}

func TestHTTPWebhook_Send_ServerErrorReturnsGenericError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	hook := NewHTTPWebhook(func(channelID string) (string, bool) { return srv.URL, true })
	err := hook.Send(context.Background(), "chan-1", Identity{}, "hi")

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidWebhook)
}
