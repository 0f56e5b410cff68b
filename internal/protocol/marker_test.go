package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFormatJoin 加入命令格式
func TestFormatJoin(t *testing.T) {
	assert.Equal(t, "/join 3", FormatJoin(3))
}

// TestFormatProbe 探测消息格式
func TestFormatProbe(t *testing.T) {
	assert.Equal(t, "test_message_42", FormatProbe(42))
}

// TestParseProbeLine 从任意位置的标记提取消息ID
func TestParseProbeLine(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		id   uint64
	}{
		{"bare probe", "test_message_7", 7},
		{"probe with trailing text", "test_message_123 hello world", 123},
		{"marker mid-line", "[client 2] echo: test_message_99", 99},
		{"tab terminated", "test_message_5\textra", 5},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			line, err := ParseLine(tc.raw)
			require.NoError(t, err)
			assert.Equal(t, LineProbe, line.Kind)
			assert.Equal(t, tc.id, line.MessageID)
		})
	}
}

// TestParseJoinConfirmation 加入确认行提取会话ID
func TestParseJoinConfirmation(t *testing.T) {
	line, err := ParseLine("server: joined session:4")
	require.NoError(t, err)
	assert.Equal(t, LineJoined, line.Kind)
	assert.Equal(t, 4, line.SessionID)
}

// TestParseMalformedMarkers 畸形标记返回错误，由调用方记录后丢弃
func TestParseMalformedMarkers(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"non-numeric suffix", "test_message_abc"},
		{"truncated after marker", "test_message_"},
		{"mixed digits and letters", "test_message_12x4"},
		{"truncated join", "joined session:"},
		{"non-numeric join", "joined session:one"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseLine(tc.raw)
			require.Error(t, err)
			assert.NotErrorIs(t, err, ErrNoMarker)
		})
	}
}

// TestParsePlainLine 不含标记的行返回ErrNoMarker
func TestParsePlainLine(t *testing.T) {
	_, err := ParseLine("just some ordinary chat text")
	assert.ErrorIs(t, err, ErrNoMarker)
}

// TestJoinedTakesPrecedence 同一行同时含两种标记时按加入确认处理
func TestJoinedTakesPrecedence(t *testing.T) {
	line, err := ParseLine("joined session:2 after test_message_9")
	require.NoError(t, err)
	assert.Equal(t, LineJoined, line.Kind)
	assert.Equal(t, 2, line.SessionID)
}
