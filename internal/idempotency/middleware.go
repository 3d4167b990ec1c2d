package idempotency

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type captureWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Middleware guards a route with the idempotency contract: a missing key
// is rejected, a known key replays the stored response without running
// the handler, and a fresh key reserves the (key, route) pair before the
// handler runs so a concurrent request with the same key cannot reach the
// processor twice.
func Middleware(svc Service, log *zap.Logger, route string) gin.HandlerFunc {
	log = log.Named("idempotency")

	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(Header))
		if key == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": Header + " header is required",
			})
			return
		}

		rec, owned, err := svc.Reserve(c.Request.Context(), key, route)
		if err != nil {
			log.Error("idempotency reservation failed", zap.String("route", route), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "internal server error",
			})
			return
		}
		if !owned {
			if rec == nil || rec.StatusCode == 0 {
				c.AbortWithStatusJSON(http.StatusConflict, gin.H{
					"error": "request with this " + Header + " is already in progress",
				})
				return
			}
			c.Data(rec.StatusCode, "application/json", rec.ResponseBody)
			c.Abort()
			return
		}

		writer := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = writer

		c.Next()

		// 5xx responses are not recorded: the action may not have reached
		// a terminal outcome, and the client is expected to retry with the
		// same key. Declines (402) and precondition failures are terminal
		// outcomes for the key and replay as-is.
		status := writer.Status()
		if status >= http.StatusInternalServerError {
			if err := svc.Release(c.Request.Context(), key, route); err != nil {
				log.Error("failed to release idempotency reservation",
					zap.String("route", route),
					zap.Error(err),
				)
			}
			return
		}
		if err := svc.Complete(c.Request.Context(), key, route, status, writer.body.Bytes()); err != nil {
			log.Error("failed to store idempotency record",
				zap.String("route", route),
				zap.Error(err),
			)
		}
	}
}
