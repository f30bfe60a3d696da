// logging.go — slog-логирование входящих запросов к API реестра заявок.
package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// statusWriter перехватывает статус-код и объём записанного ответа.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	n, err := sw.ResponseWriter.Write(b)
	sw.bytes += int64(n)
	return n, err
}

// Unwrap отдаёт исходный ResponseWriter для http.ResponseController.
func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

// requestLevel — уровень записи лога по статус-коду ответа:
// INFO до 4xx, WARN для 4xx, ERROR для 5xx.
func requestLevel(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// RequestLogger возвращает middleware, пишущий одну запись на каждый
// обработанный запрос: метод, путь, статус, длительность, размер
// ответа и адрес клиента.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r)

			logger.LogAttrs(r.Context(), requestLevel(sw.status), "Запрос обработан",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", sw.status),
				slog.Duration("duration", time.Since(start)),
				slog.Int64("bytes", sw.bytes),
				slog.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}
