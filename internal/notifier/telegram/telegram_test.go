package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/listwatch/listwatch/internal/monitor"
)

func TestDeliverSendsMessage(t *testing.T) {
	t.Parallel()

	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		payload, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(payload, &gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	n, err := New(Config{Token: "bot-token", BaseURL: srv.URL})
	require.NoError(t, err)

	listing := monitor.Listing{
		ItemID:     "item-1",
		Title:      "Air Force 1 <new>",
		Price:      "120 EUR",
		SellerName: "alice",
		URL:        "https://market.example/item/1",
	}
	require.NoError(t, n.Deliver(context.Background(), "chat-100", listing))

	require.Equal(t, "/botbot-token/sendMessage", gotPath)
	require.Equal(t, "chat-100", gotBody["chat_id"])
	require.Contains(t, gotBody["text"], "Air Force 1 &lt;new&gt;")
	require.Contains(t, gotBody["text"], "120 EUR")
	require.Equal(t, "HTML", gotBody["parse_mode"])
}

func TestDeliverAPIRejection(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"ok":false,"description":"Too Many Requests"}`))
	}))
	defer srv.Close()

	n, err := New(Config{Token: "bot-token", BaseURL: srv.URL})
	require.NoError(t, err)

	err = n.Deliver(context.Background(), "chat-100", monitor.Listing{ItemID: "item-1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "Too Many Requests")
}

func TestDeliverTransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // refuse connections

	n, err := New(Config{Token: "bot-token", BaseURL: srv.URL})
	require.NoError(t, err)

	err = n.Deliver(context.Background(), "chat-100", monitor.Listing{ItemID: "item-1"})
	require.Error(t, err)
}

func TestDeliverRequiresDestination(t *testing.T) {
	t.Parallel()

	n, err := New(Config{Token: "bot-token"})
	require.NoError(t, err)

	err = n.Deliver(context.Background(), "", monitor.Listing{ItemID: "item-1"})
	require.Error(t, err)
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}
