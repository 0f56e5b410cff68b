package harness

import (
	"fmt"
	"time"

	"github.com/fatih/color"
)

// 会话按ID轮换使用的颜色，与诊断输出（红色）区分
var sessionColors = []*color.Color{
	color.New(color.FgGreen),
	color.New(color.FgYellow),
	color.New(color.FgBlue),
	color.New(color.FgMagenta),
	color.New(color.FgCyan),
}

var (
	errorColor  = color.New(color.FgRed)
	noticeColor = color.New(color.FgHiWhite)
)

// sessionColor 返回会话对应的颜色
func sessionColor(sessionID int) *color.Color {
	return sessionColors[sessionID%len(sessionColors)]
}

// timestamp 控制台时间戳，毫秒精度
func timestamp() string {
	return time.Now().Format("15:04:05.000")
}

// printSessionLine 按会话颜色打印一行带时间戳的消息
func printSessionLine(sessionID int, format string, args ...interface{}) {
	c := sessionColor(sessionID)
	c.Printf("[%s] %s\n", timestamp(), fmt.Sprintf(format, args...))
}

// printError 打印诊断/错误输出
func printError(format string, args ...interface{}) {
	errorColor.Printf("[%s] %s\n", timestamp(), fmt.Sprintf(format, args...))
}

// printNotice 打印运行级提示
func printNotice(format string, args ...interface{}) {
	noticeColor.Printf("[%s] %s\n", timestamp(), fmt.Sprintf(format, args...))
}
