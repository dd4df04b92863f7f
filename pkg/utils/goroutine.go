package utils

import (
	"runtime/debug"

	"go.uber.org/zap"
)

// SafeGo 安全地启动一个 goroutine，自动捕获 panic 并记录日志
// 使用方式: utils.SafeGo(log, "echo-loop", func() { ... })
func SafeGo(log *zap.Logger, name string, fn func()) {
	SafeGoWithCallback(log, name, fn, nil)
}

// SafeGoWithCallback 安全地启动一个 goroutine，支持自定义 panic 处理回调
func SafeGoWithCallback(log *zap.Logger, name string, fn func(), onPanic func(r any)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				if log != nil {
					log.Error("goroutine panic recovered",
						zap.String("goroutine", name),
						zap.Any("panic", r),
						zap.ByteString("stack", debug.Stack()))
				}
				if onPanic != nil {
					onPanic(r)
				}
			}
		}()
		fn()
	}()
}
