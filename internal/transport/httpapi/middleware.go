package httpapi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/grocer/internal/domain"
	"github.com/vladislavdragonenkov/grocer/internal/metrics"
	"github.com/vladislavdragonenkov/grocer/internal/service/idempotency"
)

// Заголовки, которые выставляет auth-шлюз перед сервисом.
const (
	HeaderUserID         = "X-User-ID"
	HeaderUserRole       = "X-User-Role"
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"

	RoleAdmin = "admin"
)

const (
	ctxUserID   = "grocer.user_id"
	ctxUserRole = "grocer.user_role"
)

// identify читает пользователя из заголовков. Некорректный X-User-ID считается отсутствующим.
func identify() gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw := strings.TrimSpace(c.GetHeader(HeaderUserID)); raw != "" {
			if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 {
				c.Set(ctxUserID, id)
			}
		}
		c.Set(ctxUserRole, strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderUserRole))))
		c.Next()
	}
}

func userID(c *gin.Context) (int64, bool) {
	id, ok := c.Get(ctxUserID)
	if !ok {
		return 0, false
	}
	v, ok := id.(int64)
	return v, ok
}

func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := userID(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user identity is required"})
			return
		}
		c.Next()
	}
}

func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ctxUserRole) != RoleAdmin {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": domain.ErrAdminRequired.Error()})
			return
		}
		c.Next()
	}
}

func routeOf(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}

func observeRequests(m *metrics.HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		m.ObserveRequest(c.Request.Method, routeOf(c), strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

func requestLogger(logger *log.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		entry := logger.WithFields(log.Fields{
			"method":      c.Request.Method,
			"route":       routeOf(c),
			"status":      status,
			"duration_ms": time.Since(start).Milliseconds(),
		})
		if id, ok := userID(c); ok {
			entry = entry.WithField("user_id", id)
		}
		switch {
		case status >= http.StatusInternalServerError:
			entry.Error("request failed")
		case status >= http.StatusBadRequest:
			entry.Info("request rejected")
		default:
			entry.Debug("request served")
		}
	}
}

// responseRecorder дублирует тело ответа, чтобы сохранить его для повторов.
type responseRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *responseRecorder) WriteString(s string) (int, error) {
	r.body.WriteString(s)
	return r.ResponseWriter.WriteString(s)
}

// idempotent включает повтор ответа по заголовку Idempotency-Key. Без заголовка запрос проходит как есть.
func idempotent(guard *idempotency.Guard) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
		if guard == nil || key == "" {
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		uid, _ := userID(c)
		hash := idempotency.RequestHash(uid, c.Request.Method, c.Request.URL.RequestURI(), body)

		outcome, err := guard.Begin(c.Request.Context(), key, hash)
		switch {
		case errors.Is(err, idempotency.ErrRequestInProgress):
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		case errors.Is(err, domain.ErrIdempotencyHashMismatch):
			c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		case err != nil:
			log.WithError(err).WithField("idempotency_key", key).Error("idempotency check failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": internalErrorMessage})
			return
		}

		if outcome.Replay != nil {
			c.Header(HeaderReplayed, "true")
			c.Data(outcome.Replay.HTTPStatus, gin.MIMEJSON+"; charset=utf-8", outcome.Replay.ResponseBody)
			c.Abort()
			return
		}

		recorder := &responseRecorder{ResponseWriter: c.Writer}
		c.Writer = recorder
		c.Next()

		guard.Complete(context.WithoutCancel(c.Request.Context()), key, recorder.Status(), recorder.body.Bytes())
	}
}
