package respond

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

const startTimeKey = "respond_start_time"

// Error codes returned in Response.Error
const (
	CodeInvalidParams   = "invalid_params"
	CodeUnauthorized    = "unauthorized"
	CodeForbidden       = "forbidden"
	CodeNotFound        = "not_found"
	CodeConflict        = "upload_busy"
	CodeTooLarge        = "file_too_large"
	CodeRateLimited     = "rate_limited"
	CodeServerError     = "server_error"
	CodeUnsupportedType = "unsupported_media_type"
)

// Response unified response envelope
type Response struct {
	Code           int         `json:"code" example:"0"`            // 0 on success, HTTP status otherwise
	Message        string      `json:"message" example:"success"`   // Human readable message
	Error          string      `json:"error,omitempty" example:""`  // Machine readable error code
	Data           interface{} `json:"data"`                        // Payload
	ProcessingTime int64       `json:"processingTime" example:"12"` // Milliseconds spent on the request
	Success        bool        `json:"success" example:"true"`      // Convenience flag for clients
}

// TimingMiddleware records the request start so responses carry processingTime
func TimingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(startTimeKey, time.Now())
		c.Next()
	}
}

func processingTime(c *gin.Context) int64 {
	if v, ok := c.Get(startTimeKey); ok {
		if start, ok := v.(time.Time); ok {
			return time.Since(start).Milliseconds()
		}
	}
	return 0
}

// Success 200 with data
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:           0,
		Message:        "success",
		Data:           data,
		ProcessingTime: processingTime(c),
		Success:        true,
	})
}

// Fail writes an error envelope with the given HTTP status
func Fail(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, Response{
		Code:           status,
		Message:        message,
		Error:          code,
		ProcessingTime: processingTime(c),
		Success:        false,
	})
}

func InvalidParam(c *gin.Context, message string) {
	Fail(c, http.StatusBadRequest, CodeInvalidParams, message)
}

func UnsupportedMediaType(c *gin.Context, message string) {
	Fail(c, http.StatusBadRequest, CodeUnsupportedType, message)
}

func Unauthorized(c *gin.Context, message string) {
	Fail(c, http.StatusUnauthorized, CodeUnauthorized, message)
}

func Forbidden(c *gin.Context, message string) {
	Fail(c, http.StatusForbidden, CodeForbidden, message)
}

func NotFound(c *gin.Context, message string) {
	Fail(c, http.StatusNotFound, CodeNotFound, message)
}

func Conflict(c *gin.Context, message string) {
	Fail(c, http.StatusConflict, CodeConflict, message)
}

func TooLarge(c *gin.Context, message string) {
	Fail(c, http.StatusRequestEntityTooLarge, CodeTooLarge, message)
}

// TooManyRequests 429 with a Retry-After header in whole seconds (at least 1)
func TooManyRequests(c *gin.Context, message string, retryAfter time.Duration) {
	seconds := int64((retryAfter + time.Second - 1) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	c.Header("Retry-After", strconv.FormatInt(seconds, 10))
	Fail(c, http.StatusTooManyRequests, CodeRateLimited, message)
}

// ServerError 500. message must not carry internal details.
func ServerError(c *gin.Context, message string) {
	Fail(c, http.StatusInternalServerError, CodeServerError, message)
}
