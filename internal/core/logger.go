package core

// Logger is the structured logging facade every component depends on.
// Concrete implementations live in internal/logging; keeping the interface
// here (rather than importing zap directly) lets internal/gateway,
// internal/tradingengine etc. stay free of a logging-library dependency.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
}
