package middleware

import (
	"errors"
	"net/http"

	"jamlink/internal/core/domain"
	apperrors "jamlink/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// domainStatus maps broker domain errors onto HTTP statuses. Handlers push
// service errors into the gin context and this middleware renders them, so
// the admin API has one translation point: missing aggregates are 404,
// ownership violations 403, bad rules 400, refused state transitions 409.
func domainStatus(err error) (int, bool) {
	switch {
	case errors.Is(err, domain.ErrUnknownRoom),
		errors.Is(err, domain.ErrUnknownPeer),
		errors.Is(err, domain.ErrConnectionNotFound):
		return http.StatusNotFound, true
	case errors.Is(err, domain.ErrNotRoomOwner):
		return http.StatusForbidden, true
	case errors.Is(err, domain.ErrInvalidRoomRules):
		return http.StatusBadRequest, true
	case errors.Is(err, domain.ErrRoomInactive),
		errors.Is(err, domain.ErrRoomFull),
		errors.Is(err, domain.ErrAlreadyJoined),
		errors.Is(err, domain.ErrNotAMember),
		errors.Is(err, domain.ErrAlreadyClosed):
		return http.StatusConflict, true
	}
	return 0, false
}

// ErrorHandlerMiddleware renders errors accumulated on the gin context.
// Domain errors get the mapping above; AppErrors carry their own status;
// anything else is a 500 without detail leaking to the caller.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		if status, ok := domainStatus(err); ok {
			logger.Infow("room operation rejected",
				"status", status,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"error", err,
			)
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		if appErr := apperrors.GetAppError(err); appErr != nil {
			logger.Errorw("application error",
				"code", appErr.Code,
				"status", appErr.HTTPStatus,
				"path", c.Request.URL.Path,
				"error", err,
			)
			c.JSON(appErr.HTTPStatus, gin.H{
				"error":   string(appErr.Code),
				"message": appErr.Message,
			})
			return
		}

		logger.Errorw("unhandled error",
			"error", err.Error(),
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   string(apperrors.ErrCodeInternal),
			"message": "Internal server error",
		})
	}
}

// RecoveryMiddleware recovers from panics and returns proper error responses
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorw("panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)

				c.JSON(http.StatusInternalServerError, gin.H{
					"error":   string(apperrors.ErrCodeInternal),
					"message": "Internal server error",
				})
				c.Abort()
			}
		}()
		c.Next()
	}
}
