package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"jamlink/internal/core/domain"
	apperrors "jamlink/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newErrorRouter(err error) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ErrorHandlerMiddleware(zap.NewNop().Sugar()))
	router.GET("/boom", func(c *gin.Context) {
		c.Error(err)
	})
	return router
}

func statusFor(t *testing.T, err error) int {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	newErrorRouter(err).ServeHTTP(rec, req)
	return rec.Code
}

func TestErrorHandler_DomainErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{domain.ErrUnknownRoom, http.StatusNotFound},
		{domain.ErrUnknownPeer, http.StatusNotFound},
		{domain.ErrConnectionNotFound, http.StatusNotFound},
		{domain.ErrNotRoomOwner, http.StatusForbidden},
		{domain.ErrInvalidRoomRules, http.StatusBadRequest},
		{domain.ErrRoomInactive, http.StatusConflict},
		{domain.ErrRoomFull, http.StatusConflict},
		{domain.ErrAlreadyClosed, http.StatusConflict},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, statusFor(t, tc.err), "error %v", tc.err)
	}
}

func TestErrorHandler_WrappedDomainError(t *testing.T) {
	wrapped := fmt.Errorf("use case: %w", domain.ErrNotRoomOwner)
	assert.Equal(t, http.StatusForbidden, statusFor(t, wrapped))
}

func TestErrorHandler_AppError(t *testing.T) {
	assert.Equal(t, http.StatusTooManyRequests, statusFor(t, apperrors.NewRateLimitError()))
}

func TestErrorHandler_UnknownErrorIs500(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusFor(t, fmt.Errorf("disk on fire")))
}

func TestErrorHandler_NoErrorPassesThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ErrorHandlerMiddleware(zap.NewNop().Sugar()))
	router.GET("/ok", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
