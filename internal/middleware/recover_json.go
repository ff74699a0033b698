package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime/debug"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/marketchat/internal/apperr"
	"github.com/marketchat/internal/logger"
)

// RecoverJSON ловит панику обработчика и, если заголовки ещё не ушли, отвечает
// тем же JSON, что и writeAppError для внутренних ошибок.
// http.ErrAbortHandler пробрасывается дальше: это штатный обрыв соединения.
func RecoverJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}
			logger.Errorf("panic in %s %s: %v\n%s", r.Method, r.URL.Path, rec, debug.Stack())
			if ww.Status() != 0 {
				return
			}
			ww.Header().Set("Content-Type", "application/json; charset=utf-8")
			ww.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(ww).Encode(map[string]string{
				"error": "internal server error",
				"code":  apperr.CodeInternal,
			})
		}()
		next.ServeHTTP(ww, r)
	})
}
