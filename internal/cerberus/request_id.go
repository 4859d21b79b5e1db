package cerberus

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Wikid82/cerberus/internal/logger"
)

const (
	RequestIDKey    = "requestID"
	RequestIDHeader = "X-Request-ID"
	requestLogKey   = "logger"
)

// RequestID tags each request with an ID, echoed in the response header and
// stored on every ThreatEvent the request produces. Install it before
// Middleware. A well-formed incoming X-Request-ID is kept.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(rid); err != nil {
			rid = uuid.NewString()
		}
		c.Set(RequestIDKey, rid)
		c.Writer.Header().Set(RequestIDHeader, rid)
		c.Set(requestLogKey, logger.WithFields(logrus.Fields{"request_id": rid}))
		c.Next()
	}
}

// RequestLogger returns the request-scoped logger set by RequestID, or the
// global one.
func RequestLogger(c *gin.Context) *logrus.Entry {
	if v, ok := c.Get(requestLogKey); ok {
		if entry, ok := v.(*logrus.Entry); ok {
			return entry
		}
	}
	return logger.Log()
}
