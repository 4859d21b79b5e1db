package cerberus_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wikid82/cerberus/internal/models"
)

type staticResolver map[string]string

func (r staticResolver) Country(ip string) string { return r[ip] }

func newRouter(h *harness) (*gin.Engine, *string) {
	gin.SetMode(gin.TestMode)
	var seenBody string
	r := gin.New()
	r.Use(h.engine.Middleware())
	handler := func(c *gin.Context) {
		b, _ := io.ReadAll(c.Request.Body)
		seenBody = string(b)
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
	r.GET("/api/search", handler)
	r.POST("/api/messages", handler)
	return r, &seenBody
}

func TestMiddleware_BlocksSQLInjection(t *testing.T) {
	h := newHarness(t, models.ModeBlock, &countingSource{signatures: defaultSignatures()})
	router, _ := newRouter(h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/search?q=1%20UNION%20SELECT%20password", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t, `{"error":"Request blocked"}`, w.Body.String())
}

func TestMiddleware_DetectModePassesThrough(t *testing.T) {
	h := newHarness(t, models.ModeDetect, &countingSource{signatures: defaultSignatures()})
	router, _ := newRouter(h)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/search?q=1%20UNION%20SELECT%20password", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMiddleware_InspectsBodyAndRestoresIt(t *testing.T) {
	h := newHarness(t, models.ModeBlock, &countingSource{signatures: defaultSignatures()})
	router, seen := newRouter(h)

	body := `{"text":"hello world"}`
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, body, *seen)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(`{"text":"<script>alert(1)</script>"}`)))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestMiddleware_BlockedClientIP(t *testing.T) {
	src := &countingSource{blocked: []models.BlockedIP{{IPAddress: "8.8.8.8", IsPermanent: true}}}
	h := newHarness(t, models.ModeDetect, src)
	router, _ := newRouter(h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/search", nil)
	req.RemoteAddr = "8.8.8.8:1234"
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/search", nil)
	req.RemoteAddr = "8.8.4.4:1234"
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMiddleware_UsesCountryResolver(t *testing.T) {
	src := &countingSource{geo: []models.GeoBlockRule{{CountryCode: "KP", BlockType: models.GeoDeny, Enabled: true}}}
	h := newHarness(t, models.ModeBlock, src)
	h.engine.SetCountryResolver(staticResolver{"175.45.176.1": "KP"})
	router, _ := newRouter(h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/search", nil)
	req.RemoteAddr = "175.45.176.1:5555"
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestMiddleware_OffModeIsNoop(t *testing.T) {
	h := newHarness(t, models.ModeOff, &countingSource{signatures: defaultSignatures()})
	router, _ := newRouter(h)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/search?q=union%20select", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, h.source.loads.Load())
}
