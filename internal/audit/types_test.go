package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventScopes(t *testing.T) {
	tests := []struct {
		name string
		ctx  Context
		want []Scope
	}{
		{"no context", Context{}, []Scope{Installation()}},
		{"empty site id", Context{Site: &SiteContext{}}, []Scope{Installation()}},
		{"site", Context{Site: &SiteContext{ID: "s1"}}, []Scope{Installation(), Site("s1")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := Event{Action: "document.create", Context: tt.ctx}
			assert.Equal(t, tt.want, ev.Scopes())
		})
	}
}

func TestScopeKeyRoundTrip(t *testing.T) {
	for _, s := range []Scope{Installation(), Site("abc")} {
		parsed, ok := ParseScope(s.Key())
		assert.True(t, ok)
		assert.Equal(t, s, parsed)
	}

	_, ok := ParseScope("site:")
	assert.False(t, ok)
	_, ok = ParseScope("team:1")
	assert.False(t, ok)
}

func TestEventNormalized(t *testing.T) {
	ev := Event{Action: "site.update"}.Normalized()
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.Timestamp.IsZero())

	again := ev.Normalized()
	assert.Equal(t, ev.ID, again.ID)
	assert.Equal(t, ev.Timestamp, again.Timestamp)
}

func TestDestinationRedacted(t *testing.T) {
	d := Destination{ID: "1", URL: "https://example.com", Token: "tok", Secret: "sec"}
	r := d.Redacted()
	assert.Equal(t, "********", r.Token)
	assert.Equal(t, "********", r.Secret)
	assert.Equal(t, "tok", d.Token)

	bare := Destination{ID: "2", URL: "https://example.com"}.Redacted()
	assert.Empty(t, bare.Token)
}
