package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// 探测消息标记，后跟十进制消息ID
	ProbeMarker = "test_message_"
	// 会话加入确认行包含的字面标记，后跟会话ID
	JoinedMarker = "joined session:"
)

var (
	ErrNoMarker      = errors.New("line contains no recognized marker")
	ErrMalformedID   = errors.New("marker is not followed by a numeric id")
	ErrTruncatedLine = errors.New("line truncated after marker")
)

// Line 一条已识别的输出行
type Line struct {
	Kind      LineKind
	SessionID int    // Kind == LineJoined 时有效
	MessageID uint64 // Kind == LineProbe 时有效
}

// LineKind 输出行类别
type LineKind int

const (
	LineJoined LineKind = iota + 1
	LineProbe
)

// FormatJoin 构造会话加入命令
func FormatJoin(sessionID int) string {
	return fmt.Sprintf("/join %d", sessionID)
}

// FormatProbe 构造带全局消息ID的探测消息
func FormatProbe(messageID uint64) string {
	return fmt.Sprintf("%s%d", ProbeMarker, messageID)
}

// ParseLine 扫描一条原始输出行中的已知标记
// 标记匹配是子串搜索而非结构化协议，普通聊天内容可能误中标记，
// 因此ID解析失败一律返回错误由调用方记录并丢弃，绝不中断读取流
func ParseLine(raw string) (*Line, error) {
	if idx := strings.Index(raw, JoinedMarker); idx >= 0 {
		sessionID, err := parseDigitRun(raw[idx+len(JoinedMarker):])
		if err != nil {
			return nil, fmt.Errorf("join confirmation %q: %w", raw, err)
		}
		return &Line{Kind: LineJoined, SessionID: int(sessionID)}, nil
	}

	if idx := strings.Index(raw, ProbeMarker); idx >= 0 {
		messageID, err := parseDigitRun(raw[idx+len(ProbeMarker):])
		if err != nil {
			return nil, fmt.Errorf("probe marker %q: %w", raw, err)
		}
		return &Line{Kind: LineProbe, MessageID: messageID}, nil
	}

	return nil, ErrNoMarker
}

// parseDigitRun 解析紧跟在标记后、到下一个空白为止的数字串
func parseDigitRun(s string) (uint64, error) {
	if s == "" {
		return 0, ErrTruncatedLine
	}

	end := len(s)
	for i, r := range s {
		if r == ' ' || r == '\t' {
			end = i
			break
		}
	}

	id, err := strconv.ParseUint(s[:end], 10, 64)
	if err != nil {
		return 0, ErrMalformedID
	}
	return id, nil
}
