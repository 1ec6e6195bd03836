// Copyright 2022 OpenRock Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logutil

import (
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig drives the process-wide zap logger.
type LogConfig struct {
	Level    string `toml:"level"`
	Format   string `toml:"format"`
	Filename string `toml:"filename"`

	// rotation, only used when Filename is set
	MaxSize    int `toml:"max-size"`
	MaxDays    int `toml:"max-days"`
	MaxBackups int `toml:"max-backups"`
}

type ZapSink struct {
	Enc zapcore.Encoder
	Out zapcore.WriteSyncer
}

var global atomic.Value

func init() {
	conf := &LogConfig{Level: "info", Format: "console"}
	SetupRockLogger(conf)
}

// SetupRockLogger replaces the global logger according to conf.
func SetupRockLogger(conf *LogConfig) *zap.Logger {
	logger := newZapLogger(conf)
	global.Store(logger)
	return logger
}

// GetGlobalLogger returns the current process logger.
func GetGlobalLogger() *zap.Logger {
	return global.Load().(*zap.Logger)
}

func newZapLogger(conf *LogConfig) *zap.Logger {
	sink := conf.getSink()
	core := zapcore.NewCore(sink.Enc, sink.Out, conf.getLevel())
	return zap.New(core, conf.getOptions()...)
}

func (conf *LogConfig) getLevel() zap.AtomicLevel {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(conf.Level)); err != nil {
		level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	return level
}

func (conf *LogConfig) getOptions() []zap.Option {
	return []zap.Option{
		zap.AddStacktrace(zapcore.FatalLevel),
		zap.AddCaller(),
		zap.AddCallerSkip(1),
	}
}

func (conf *LogConfig) getEncoder() zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if conf.Format == "json" {
		return zapcore.NewJSONEncoder(cfg)
	}
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(cfg)
}

func (conf *LogConfig) getSyncer() zapcore.WriteSyncer {
	if conf.Filename != "" {
		return zapcore.AddSync(&lumberjack.Logger{
			Filename:   conf.Filename,
			MaxSize:    conf.MaxSize,
			MaxAge:     conf.MaxDays,
			MaxBackups: conf.MaxBackups,
		})
	}
	stderr, _, err := zap.Open("stderr")
	if err != nil {
		panic(err)
	}
	return stderr
}

func (conf *LogConfig) getSink() ZapSink {
	return ZapSink{Enc: conf.getEncoder(), Out: conf.getSyncer()}
}

func Debug(msg string, fields ...zap.Field) {
	GetGlobalLogger().Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	GetGlobalLogger().Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	GetGlobalLogger().Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	GetGlobalLogger().Error(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	GetGlobalLogger().Fatal(msg, fields...)
}

func Debugf(msg string, args ...any) {
	GetGlobalLogger().Sugar().Debugf(msg, args...)
}

func Infof(msg string, args ...any) {
	GetGlobalLogger().Sugar().Infof(msg, args...)
}

func Warnf(msg string, args ...any) {
	GetGlobalLogger().Sugar().Warnf(msg, args...)
}

func Errorf(msg string, args ...any) {
	GetGlobalLogger().Sugar().Errorf(msg, args...)
}

func Fatalf(msg string, args ...any) {
	GetGlobalLogger().Sugar().Fatalf(msg, args...)
}
