package server

import (
	"runtime"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

const requestIDHeader = "X-Request-ID"

// Recovery turns a handler panic into a 500 response.
func Recovery(logger types.Logger) Middleware {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			defer func() {
				if rec := recover(); rec != nil {
					buf := make([]byte, 4096)
					n := runtime.Stack(buf, false)

					logger.Error("Recovered from panic",
						zap.Any("panic", rec),
						zap.ByteString("method", ctx.Method()),
						zap.ByteString("path", ctx.Path()),
						zap.ByteString("request_id", ctx.Response.Header.Peek(requestIDHeader)),
						zap.String("stack", string(buf[:n])))

					utils.WriteError(ctx, fasthttp.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred")
				}
			}()

			next(ctx)
		}
	}
}

// RequestID echoes the caller's X-Request-ID or assigns a new one.
func RequestID() Middleware {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			requestID := string(ctx.Request.Header.Peek(requestIDHeader))
			if requestID == "" {
				requestID = uuid.NewString()
				ctx.Request.Header.Set(requestIDHeader, requestID)
			}

			ctx.Response.Header.Set(requestIDHeader, requestID)
			next(ctx)
		}
	}
}

func Logging(logger types.Logger) Middleware {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			start := time.Now()

			next(ctx)

			fields := []zap.Field{
				zap.ByteString("method", ctx.Method()),
				zap.ByteString("path", ctx.Path()),
				zap.Int("status", ctx.Response.StatusCode()),
				zap.Duration("duration", time.Since(start)),
				zap.ByteString("request_id", ctx.Request.Header.Peek(requestIDHeader)),
			}

			switch status := ctx.Response.StatusCode(); {
			case status >= 500:
				logger.Error("Request completed", fields...)
			case status >= 400:
				logger.Warn("Request completed", fields...)
			default:
				logger.Debug("Request completed", fields...)
			}
		}
	}
}

func Metrics(metrics types.MetricsManager) Middleware {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			start := time.Now()

			next(ctx)

			labels := map[string]string{
				"method": string(ctx.Method()),
				"status": strconv.Itoa(ctx.Response.StatusCode()),
			}
			metrics.Counter("http_requests_total", labels).Inc()
			metrics.Histogram("http_request_duration_seconds",
				[]float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
				map[string]string{"method": labels["method"]},
			).ObserveDuration(start)
		}
	}
}
