package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuredMessageRender(t *testing.T) {
	msg := StructuredMessage{
		Icon:  "⛔",
		Title: "风控拒绝",
		Sections: []MessageSection{
			{Title: "意图", Lines: []string{"BTCUSDT BUY", "  "}},
			{Title: "空段", Lines: nil},
			{Title: "原因", Lines: []string{"RiskBudgetExceeded ```"}},
		},
		Footer:    "aegis",
		Timestamp: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	md := msg.RenderMarkdown()
	assert.True(t, strings.HasPrefix(md, "⛔ 风控拒绝"))
	assert.Contains(t, md, "- BTCUSDT BUY")
	assert.Contains(t, md, "RiskBudgetExceeded '''")
	assert.NotContains(t, md, "空段")
	assert.Contains(t, md, "2025-06-01 00:00:00 UTC")

	plain := msg.RenderPlain()
	assert.Equal(t, "⛔ 风控拒绝 | 意图: BTCUSDT BUY | 原因: RiskBudgetExceeded ``` | aegis", plain)
}

func TestStructuredMessageTruncates(t *testing.T) {
	msg := StructuredMessage{Title: "long", Sections: []MessageSection{{Lines: []string{strings.Repeat("x", 5000)}}}}
	md := msg.RenderMarkdown()
	assert.True(t, strings.HasSuffix(md, "..."))
	assert.Len(t, md, maxStructuredMessageLen+3)
}

func TestTelegramSendText(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg, err := NewTelegram(TelegramOptions{BotToken: "TOKEN", ChatID: "42", BaseURL: srv.URL})
	require.NoError(t, err)
	require.NoError(t, tg.SendText(context.Background(), "hello"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "hello", got["text"])
	assert.Equal(t, "Markdown", got["parse_mode"])
}

func TestTelegramErrors(t *testing.T) {
	_, err := NewTelegram(TelegramOptions{BotToken: "x"})
	assert.Error(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer srv.Close()
	tg, err := NewTelegram(TelegramOptions{BotToken: "T", ChatID: "1", BaseURL: srv.URL})
	require.NoError(t, err)
	err = tg.SendText(context.Background(), "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}
