package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rebeca/internal/http/middleware"
)

func newTestRouter(log logrus.FieldLogger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Recovery(log), middleware.Logging(log), middleware.Tenant())
	r.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"tenant": middleware.TenantID(c)})
	})
	r.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})
	return r
}

func TestTenant_MissingHeader(t *testing.T) {
	log, _ := test.NewNullLogger()
	r := newTestRouter(log)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTenant_HeaderPopulatesContext(t *testing.T) {
	log, hook := test.NewNullLogger()
	r := newTestRouter(log)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(middleware.TenantHeader, " t1 ")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"tenant":"t1"}`, w.Body.String())

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, "/test", entry.Data["path"])
	assert.Equal(t, http.StatusOK, entry.Data["status"])
}

func TestRecovery_PanicBecomes500(t *testing.T) {
	log, hook := test.NewNullLogger()
	r := newTestRouter(log)

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	req.Header.Set(middleware.TenantHeader, "t1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var sawPanic bool
	for _, e := range hook.AllEntries() {
		if e.Message == "handler panic" {
			sawPanic = true
			assert.Equal(t, "boom", e.Data["panic"])
		}
	}
	assert.True(t, sawPanic)
}
