package common

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "ok",
		"data":    data,
	})
}

func Fail(c *gin.Context, httpStatus int, code int, msg string) {
	c.JSON(httpStatus, gin.H{
		"code":    code,
		"message": msg,
		"data":    nil,
	})
}

// FailErr writes the envelope for a typed error. Untyped errors are reported
// as internal without leaking their text.
func FailErr(c *gin.Context, err error) {
	kind := KindOf(err)
	status, code := statusFor(kind)

	msg := "internal error"
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		msg = e.Msg
	}

	body := gin.H{
		"code":      code,
		"message":   msg,
		"kind":      kind,
		"retryable": Retryable(kind),
		"data":      nil,
	}
	if e != nil && kind == KindRateLimited && !e.ResetAt.IsZero() {
		body["data"] = gin.H{"remaining": 0, "reset_at": e.ResetAt}
	}
	c.JSON(status, body)
}

func statusFor(k Kind) (int, int) {
	switch k {
	case KindValidation:
		return http.StatusBadRequest, 10002
	case KindAuth:
		return http.StatusUnauthorized, 40101
	case KindForbidden:
		return http.StatusForbidden, 40301
	case KindNotFound:
		return http.StatusNotFound, 40004
	case KindConflict:
		return http.StatusConflict, 40901
	case KindRateLimited:
		return http.StatusTooManyRequests, 42901
	case KindGeneration:
		return http.StatusBadGateway, 50201
	case KindGenerationUnconfigured:
		return http.StatusInternalServerError, 50003
	case KindStorageUnavailable:
		return http.StatusServiceUnavailable, 50301
	case KindTransient:
		return http.StatusServiceUnavailable, 50302
	default:
		return http.StatusInternalServerError, 50001
	}
}
