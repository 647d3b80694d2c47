package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/akazantsev/walletd/internal/core/logger"
)

func Recovery(log logger.Logger) func(http.Handler) http.Handler {
    return func(next http.Handler) http.Handler {
        return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
            defer func() {
                if rec := recover(); rec != nil {
                    log.Error("panic recovered",
                        logger.StringField("path", r.URL.Path),
                        logger.AnyField("error", rec),
                        logger.StringField("stack", string(debug.Stack())),
                    )
                    w.Header().Set("Content-Type", "application/json")
                    w.WriteHeader(http.StatusInternalServerError)
                    w.Write([]byte(`{"error":"Internal Server Error"}`))
                }
            }()
            next.ServeHTTP(w, r)
        })
    }
}
