package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/auditstream/internal/events"
)

func readSSE(t *testing.T, sc *bufio.Scanner, n int) []string {
	t.Helper()
	var ids []string
	for len(ids) < n && sc.Scan() {
		if id, ok := strings.CutPrefix(sc.Text(), "id: "); ok {
			ids = append(ids, id)
		}
	}
	require.Len(t, ids, n, "stream ended early: %v", sc.Err())
	return ids
}

func TestEventsReplayAndLive(t *testing.T) {
	env := newTestEnv(t)
	env.hub.Publish(events.TypeStreamed, map[string]string{"event_id": "e1"})
	env.hub.Publish(events.TypeFailed, map[string]string{"event_id": "e2"})

	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+readToken)
	req.Header.Set("Last-Event-ID", "1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sc := bufio.NewScanner(resp.Body)
	assert.Equal(t, []string{"2"}, readSSE(t, sc, 1))

	env.hub.Publish(events.TypeRejected, nil)
	assert.Equal(t, []string{"3"}, readSSE(t, sc, 1))
}

func TestEventsRequiresScope(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/events", ingestToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestParseLastEventID(t *testing.T) {
	assert.Equal(t, int64(0), parseLastEventID(""))
	assert.Equal(t, int64(0), parseLastEventID("-4"))
	assert.Equal(t, int64(0), parseLastEventID("abc"))
	assert.Equal(t, int64(42), parseLastEventID("42"))
}
