package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinylog/pkg/record"
)

func TestLogHub_PublishWithoutClientsIsNoop(t *testing.T) {
	hub := NewLogHub()
	hub.Publish([]*record.Record{record.New(record.LevelInfo, "c", "m", "")})

	require.False(t, hub.HasClients())
	require.Empty(t, hub.broadcast)
}

func TestLogHub_LiveTail(t *testing.T) {
	hub := NewLogHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, hub.HasClients, time.Second, 5*time.Millisecond)

	rec := record.New(record.LevelWarning, "billing", "retrying", "")
	require.NoError(t, rec.AssignID(9))
	hub.Publish([]*record.Record{rec})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg LiveTailMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	require.Equal(t, "logs", msg.Type)
	require.Equal(t, 1, msg.Count)
	require.Equal(t, int64(9), msg.Logs[0].ID)
	require.Equal(t, "warning", msg.Logs[0].LevelName)
	require.Equal(t, "retrying", msg.Logs[0].Message)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestLogHub_BroadcastDropsWhenFull(t *testing.T) {
	hub := NewLogHub()
	for i := 0; i < cap(hub.broadcast)+3; i++ {
		require.NoError(t, hub.Broadcast(map[string]int{"i": i}))
	}
	require.Equal(t, uint64(3), hub.Dropped())
}
