package logger

import "log"

// Init 初始化全局日志器
func Init() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
}
