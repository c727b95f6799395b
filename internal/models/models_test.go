package models

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlexIDDecodesStringsAndNumbers(t *testing.T) {
	var out struct {
		A FlexID `json:"a"`
		B FlexID `json:"b"`
		C FlexID `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a": 42, "b": "msg-7", "c": null}`), &out))

	assert.Equal(t, FlexID("42"), out.A)
	assert.Equal(t, FlexID("msg-7"), out.B)
	assert.Equal(t, FlexID(""), out.C)

	var bad FlexID
	assert.Error(t, json.Unmarshal([]byte(`true`), &bad))
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want time.Time
		ok   bool
	}{
		{"rfc3339 zulu", "2024-05-01T10:00:00Z", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), true},
		{"millis", "2024-05-01T10:00:00.250Z", time.Date(2024, 5, 1, 10, 0, 0, 250_000_000, time.UTC), true},
		{"naive micros", "2024-05-01T10:00:00.123456", time.Date(2024, 5, 1, 10, 0, 0, 123_456_000, time.UTC), true},
		{"space separated", "2024-05-01 10:00:00", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), true},
		{"empty", "", time.Time{}, false},
		{"garbage", "yesterday", time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseTimestamp(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.True(t, tt.want.Equal(got), "got %v want %v", got, tt.want)
		})
	}
}

func TestTimestampDecodesEpochAndLenientStrings(t *testing.T) {
	var out struct {
		Seconds Timestamp `json:"s"`
		Millis  Timestamp `json:"ms"`
		Bad     Timestamp `json:"bad"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"s": 1700000000, "ms": 1700000000500, "bad": "not a time"}`), &out))

	assert.Equal(t, int64(1700000000), out.Seconds.Unix())
	assert.Equal(t, int64(1700000000500), out.Millis.UnixMilli())
	assert.True(t, out.Bad.IsZero())
}

func TestInboundEventAccessors(t *testing.T) {
	var ev InboundEvent
	require.NoError(t, json.Unmarshal([]byte(`{"message":"hello","username":"bob","timestamp":"2024-05-01T10:00:00Z"}`), &ev))

	assert.Equal(t, "hello", ev.Body())
	assert.Equal(t, "bob", ev.Author())
	when, ok := ev.ChatTime()
	require.True(t, ok)
	assert.Equal(t, 10, when.Hour())

	ev.Content = "preferred"
	ev.SenderUsername = "alice"
	assert.Equal(t, "preferred", ev.Body())
	assert.Equal(t, "alice", ev.Author())
}

func TestProvisionalMessage(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	m := NewProvisional("general", "alice", "yo", now)

	assert.True(t, m.Provisional())
	assert.Equal(t, KindUser, m.Kind)
	require.NotNil(t, m.ClientSentAt)
	assert.Equal(t, now, *m.ClientSentAt)

	m.ID = "42"
	assert.False(t, m.Provisional())
}

func TestOutgoingMessageTimestampFormat(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 7_000_000, time.UTC)
	out := NewOutgoingMessage("hi", "alice", now)
	assert.Equal(t, "2024-05-01T10:00:00.007Z", out.Timestamp)
}

func TestWithinWindow(t *testing.T) {
	base := time.Now()
	assert.True(t, WithinWindow(base, base.Add(4*time.Second), 5*time.Second))
	assert.True(t, WithinWindow(base.Add(4*time.Second), base, 5*time.Second))
	assert.False(t, WithinWindow(base, base.Add(5*time.Second), 5*time.Second))
}

func TestSessionExpiry(t *testing.T) {
	now := time.Now()
	assert.False(t, Session{Token: "t"}.Expired(now))
	assert.True(t, Session{Token: "t", ExpiresAt: now.Add(-time.Minute)}.Expired(now))
	assert.False(t, Session{}.Authenticated())
}

func TestErrorTaxonomyUnwraps(t *testing.T) {
	cause := errors.New("boom")
	var err error = &DeliveryError{RoomID: "r", Err: cause}
	assert.ErrorIs(t, err, cause)

	var de *DeliveryError
	assert.True(t, errors.As(err, &de))

	err = &TransportError{RoomID: "r", Code: 1006}
	assert.Contains(t, err.Error(), "1006")
}

func TestHTTPErrorMatchesSentinels(t *testing.T) {
	assert.ErrorIs(t, &HTTPError{StatusCode: 404}, ErrNotFound)
	assert.ErrorIs(t, &HTTPError{StatusCode: 401}, ErrUnauthorized)
	assert.ErrorIs(t, &HTTPError{StatusCode: 403}, ErrUnauthorized)
	assert.NotErrorIs(t, &HTTPError{StatusCode: 500}, ErrNotFound)
	assert.Contains(t, (&HTTPError{StatusCode: 400, Detail: "already friends"}).Error(), "already friends")
}

func TestParseErrorTruncatesOnRuneBoundary(t *testing.T) {
	raw := "a" + strings.Repeat("é", 40)
	msg := (&ParseError{Raw: raw, Err: errors.New("bad")}).Error()

	assert.True(t, utf8.ValidString(msg))
	assert.Contains(t, msg, "...")
	assert.Equal(t, "short", truncate("short", 64))
	assert.Equal(t, "aé...", truncate("aéé", 4))
}
