package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	RequestIDHeader = "X-Request-ID"
	TraceIDHeader   = "X-Trace-Id"

	requestIDKey = "request_id"
	traceIDKey   = "trace_id"
)

// RequestID tags every request with an id, reusing the caller's one when present.
// The trace id defaults to the request id unless the caller sent X-Trace-Id.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		traceID := c.GetHeader(TraceIDHeader)
		if traceID == "" {
			traceID = "trace-" + requestID
		}

		c.Set(requestIDKey, requestID)
		c.Set(traceIDKey, traceID)
		c.Header(RequestIDHeader, requestID)
		c.Next()
	}
}

// GetRequestID returns the id assigned by RequestID, or "".
func GetRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// GetTraceID returns the trace id assigned by RequestID, or "".
func GetTraceID(c *gin.Context) string {
	return c.GetString(traceIDKey)
}
