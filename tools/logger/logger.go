package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	level zap.AtomicLevel
	sugar *zap.SugaredLogger
)

func init() {
	level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = level
	// AddCallerSkip(1)：让日志显示调用方的文件和行号，而不是本封装
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		panic(err)
	}
	sugar = l.Sugar()
	Init("logger init success!")
}

// SetLevel 运行时调整日志级别
func SetLevel(l zapcore.Level) {
	level.SetLevel(l)
}

func Init(v ...any) {
	sugar.Info(v...)
}

func DebugF(fmt string, v ...any) {
	sugar.Debugf(fmt, v...)
}

func Debug(v ...any) {
	sugar.Debug(v...)
}

func WarnF(fmt string, v ...any) {
	sugar.Warnf(fmt, v...)
}

func Warn(v ...any) {
	sugar.Warn(v...)
}

func ErrorF(fmt string, v ...any) {
	sugar.Errorf(fmt, v...)
}

func Error(v ...any) {
	sugar.Error(v...)
}

func InfoF(fmt string, v ...any) {
	sugar.Infof(fmt, v...)
}

func Info(v ...any) {
	sugar.Info(v...)
}

// FatalF 输出诊断后终止进程
func FatalF(fmt string, v ...any) {
	sugar.Fatalf(fmt, v...)
}

// Fatal 输出诊断后终止进程
func Fatal(v ...any) {
	sugar.Fatal(v...)
}
