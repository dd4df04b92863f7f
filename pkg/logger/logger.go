package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	log  *zap.Logger
	once sync.Once
)

// Config 日志配置
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // tag, console, json
	Output     string // stdout, file, both
	FilePath   string
	MaxSize    int // MB
	MaxBackups int
	MaxAge     int // days
}

// Init 初始化全局日志，仅第一次调用生效
func Init(cfg *Config) {
	once.Do(func() {
		log = New(cfg)
	})
}

// New 创建日志实例
func New(cfg *Config) *zap.Logger {
	if cfg == nil {
		cfg = &Config{
			Level:  "info",
			Format: "tag",
			Output: "stdout",
		}
	}

	encoder := newEncoder(cfg.Format)
	level := ParseLevel(cfg.Level)

	var cores []zapcore.Core
	if cfg.Output == "stdout" || cfg.Output == "both" || cfg.Output == "" {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level))
	}
	if cfg.Output == "file" || cfg.Output == "both" {
		if cfg.FilePath != "" {
			writer := &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
			}
			// 文件输出始终使用 JSON，便于检索
			cores = append(cores, zapcore.NewCore(newEncoder("json"), zapcore.AddSync(writer), level))
		}
	}

	return zap.New(zapcore.NewTee(cores...))
}

// ParseLevel 解析日志级别，未知值按 info 处理
func ParseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func newEncoder(format string) zapcore.Encoder {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}

	switch format {
	case "json":
		return zapcore.NewJSONEncoder(encoderConfig)
	case "console":
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(encoderConfig)
	default:
		// 操作员视图：每行以级别标记开头，不输出时间
		encoderConfig.TimeKey = ""
		encoderConfig.CallerKey = ""
		encoderConfig.NameKey = ""
		encoderConfig.EncodeLevel = TagLevelEncoder
		encoderConfig.ConsoleSeparator = " "
		return zapcore.NewConsoleEncoder(encoderConfig)
	}
}

// TagLevelEncoder 将级别编码为简短标记：[#] debug, [+] info, [-] warn, [!] error
func TagLevelEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(Tag(l))
}

// Tag 返回级别对应的标记
func Tag(l zapcore.Level) string {
	switch l {
	case zapcore.DebugLevel:
		return "[#]"
	case zapcore.InfoLevel:
		return "[+]"
	case zapcore.WarnLevel:
		return "[-]"
	default:
		return "[!]"
	}
}

// L 获取全局日志实例
func L() *zap.Logger {
	if log == nil {
		Init(nil)
	}
	return log
}

// Sync 同步日志
func Sync() {
	if log != nil {
		_ = log.Sync()
	}
}
