package cerberus

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Wikid82/cerberus/internal/matcher"
	"github.com/Wikid82/cerberus/internal/models"
	"github.com/Wikid82/cerberus/internal/util"
)

// CountryResolver maps a client address to an ISO country code. It returns
// an empty string when the country is unknown.
type CountryResolver interface {
	Country(ip string) string
}

// SetCountryResolver installs the resolver used by Middleware.
func (e *Engine) SetCountryResolver(r CountryResolver) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resolver = r
}

// Middleware returns a Gin middleware that validates every request and
// rejects blocked ones with 403. The response never says which check failed.
func (e *Engine) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if !e.IsEnabled() {
			ctx.Next()
			return
		}

		req, err := e.requestFromContext(ctx)
		if err != nil {
			RequestLogger(ctx).WithField("source", "waf").WithError(err).Warn("Failed to read request body for inspection")
		}
		result := e.ValidateRequest(ctx.Request.Context(), req)
		if !result.Allowed {
			RequestLogger(ctx).WithField("source", "waf").WithFields(map[string]interface{}{
				"decision": "block",
				"reason":   result.Reason,
				"ip":       util.SanitizeForLog(req.SourceIP),
				"method":   req.Method,
				"path":     util.SanitizeForLog(req.Path),
			}).Info("Request rejected")
			ctx.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Request blocked"})
			return
		}
		ctx.Next()
	}
}

// requestFromContext builds a ValidationRequest from a Gin context. The body
// is read up to the inspection limit and put back for downstream handlers.
func (e *Engine) requestFromContext(ctx *gin.Context) (models.ValidationRequest, error) {
	r := ctx.Request
	req := models.ValidationRequest{
		SourceIP:  ctx.ClientIP(),
		Method:    r.Method,
		Path:      r.URL.Path,
		Query:     r.URL.RawQuery,
		UserAgent: r.UserAgent(),
		Headers:   make(map[string]string, len(r.Header)),
		Timestamp: e.now(),
	}
	for name, values := range r.Header {
		if name == "User-Agent" {
			continue
		}
		req.Headers[name] = strings.Join(values, ", ")
	}
	if v, ok := ctx.Get("userID"); ok {
		req.UserID = fmt.Sprint(v)
	}
	req.RequestID = ctx.GetString(RequestIDKey)

	e.mu.RLock()
	resolver := e.resolver
	e.mu.RUnlock()
	if resolver != nil {
		req.CountryCode = resolver.Country(req.SourceIP)
	}

	if r.Body == nil || r.Body == http.NoBody {
		return req, nil
	}
	limit := e.cfg.MaxInspectBytes
	if limit <= 0 {
		limit = matcher.DefaultMaxInspectBytes
	}
	head, err := io.ReadAll(io.LimitReader(r.Body, int64(limit)))
	r.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(head), r.Body), Closer: r.Body}
	req.Body = string(head)
	return req, err
}

type readCloser struct {
	io.Reader
	io.Closer
}
