package logger

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/iurnickita/unitecon/internal/logger/config"
)

func NewZapLog(cfg config.Config) (*zap.Logger, error) {
	// преобразуем текстовый уровень логирования в zap.AtomicLevel
	lvl, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zapcfg := zap.NewProductionConfig()
	zapcfg.Level = lvl
	return zapcfg.Build()
}

// RequestLogMdlw - middleware-логер для входящих HTTP-запросов.
// Тело ответа не пишется: выгрузки юнитов бывают большими.
func RequestLogMdlw(h http.HandlerFunc, zaplog *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wl := newResponseWriterLogger(w)

		start := time.Now()
		h(wl, r)

		zaplog.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("query", r.URL.RawQuery),
			zap.Int("code", wl.statusCode),
			zap.Int("length", wl.length),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

type responseWriterLogger struct {
	http.ResponseWriter
	statusCode int
	length     int
}

func newResponseWriterLogger(w http.ResponseWriter) *responseWriterLogger {
	return &responseWriterLogger{ResponseWriter: w, statusCode: http.StatusOK}
}

func (wl *responseWriterLogger) WriteHeader(code int) {
	wl.statusCode = code
	wl.ResponseWriter.WriteHeader(code)
}

func (wl *responseWriterLogger) Write(b []byte) (int, error) {
	n, err := wl.ResponseWriter.Write(b)
	wl.length += n
	return n, err
}
