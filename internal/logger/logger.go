package logger

import (
	"strings"

	"marketplace/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New は設定に合わせてzapのロガーを作る。
// 本番はJSON + ISO8601、それ以外は開発用の見やすい出力。
func New(goEnv string, cfg config.LoggerConfig) (*zap.Logger, error) {
	var zc zap.Config
	if goEnv == "prod" || goEnv == "production" {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "timestamp"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if cfg.Level != "" {
		lvl, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return nil, err
		}
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	if cfg.Encoding != "" {
		zc.Encoding = cfg.Encoding
		if cfg.Encoding == "json" {
			zc.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
		}
	}
	zc.DisableCaller = cfg.DisableCaller
	zc.DisableStacktrace = cfg.DisableStacktrace

	return zc.Build()
}
