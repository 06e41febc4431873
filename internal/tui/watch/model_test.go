package watch

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/auditstream/internal/events"
)

func event(id int64, typ string, data string) eventMsg {
	return eventMsg(events.Event{ID: id, Type: typ, At: time.Now(), Data: json.RawMessage(data)})
}

func TestModelCountsOutcomes(t *testing.T) {
	m := New("http://127.0.0.1:1", "key")
	defer m.cancel()

	m.Update(event(1, events.TypeStreamed, `{"event_id":"e1","action":"document.create","destinations":3}`))
	m.Update(event(2, events.TypeFailed, `{"event_id":"e2","action":"document.delete","failed":["a","b"]}`))
	m.Update(event(3, events.TypeFailed, `{"event_id":"e3","action":"document.delete","failed":["a"]}`))
	m.Update(event(4, events.TypeRejected, `{"event_id":"e4","action":"x","error":"limit"}`))
	m.Update(event(5, events.TypeDestinationChanged, `{"scope":"installation"}`))

	c := m.Counters()
	assert.Equal(t, 1, c.Streamed)
	assert.Equal(t, 2, c.Failed)
	assert.Equal(t, 1, c.Rejected)
	assert.Equal(t, map[string]int{"a": 2, "b": 1}, c.ByDestination)
	assert.Equal(t, int64(5), m.lastID)

	rows := m.rows()
	require.Len(t, rows, 5)
	assert.Equal(t, events.TypeDestinationChanged, rows[0][1])
	assert.Equal(t, "3 destination(s)", rows[4][3])
	assert.Equal(t, "failed: a, b", rows[3][3])
}

func TestModelKeepsRecentBounded(t *testing.T) {
	m := New("http://127.0.0.1:1", "key")
	defer m.cancel()
	for i := 1; i <= maxRecent+10; i++ {
		m.Update(event(int64(i), events.TypeStreamed, `{}`))
	}
	assert.Len(t, m.recent, maxRecent)
	assert.Equal(t, int64(maxRecent+10), m.recent[0].ID)
}

func TestModelView(t *testing.T) {
	m := New("http://127.0.0.1:1", "key")
	defer m.cancel()
	assert.Contains(t, m.View(), "Connecting")

	m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m.Update(healthMsg{Status: "ok", InFlight: 2, Limit: 10})
	m.Update(event(1, events.TypeFailed, `{"action":"document.create","failed":["siem"]}`))

	view := m.View()
	assert.Contains(t, view, "AUDITSTREAM WATCH")
	assert.Contains(t, view, "in flight 2/10")
	assert.Contains(t, view, "failed 1")
	assert.Contains(t, view, "FAILING DESTINATIONS")
}

func TestModelDisconnect(t *testing.T) {
	m := New("http://127.0.0.1:1", "key")
	defer m.cancel()

	_, cmd := m.Update(disconnectedMsg{})
	assert.NotNil(t, cmd)
	assert.False(t, m.connected)
	assert.Contains(t, m.lastError, "disconnected")
}

func TestQuitCancelsStream(t *testing.T) {
	m := New("http://127.0.0.1:1", "key")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Error(t, m.ctx.Err())
}

func TestReadStream(t *testing.T) {
	stream := strings.Join([]string{
		": keep-alive",
		"",
		"id: 7",
		"event: audit.streamed",
		`data: {"event_id":"e1"}`,
		"",
		"id: 8",
		"event: audit.failed",
		`data: {"failed":["a"]}`,
		"",
		"",
	}, "\n")

	var got []events.Event
	require.NoError(t, ReadStream(strings.NewReader(stream), func(ev events.Event) {
		got = append(got, ev)
	}))
	require.Len(t, got, 2)
	assert.Equal(t, int64(7), got[0].ID)
	assert.Equal(t, events.TypeStreamed, got[0].Type)
	assert.JSONEq(t, `{"event_id":"e1"}`, string(got[0].Data))
	assert.Equal(t, events.TypeFailed, got[1].Type)
}

func TestReadStreamDropsUnterminatedEvent(t *testing.T) {
	stream := "id: 1\nevent: audit.streamed\ndata: {\"event_id\":\"e1\"}\n\n" +
		"id: 2\nevent: audit.failed\ndata: {\"failed\":[\"a\"]}\n"

	var got []events.Event
	require.NoError(t, ReadStream(strings.NewReader(stream), func(ev events.Event) {
		got = append(got, ev)
	}))
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].ID)
}
