package middleware

import (
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/bunker-admin/internal/logger"
)

// CtxLogger holds the request-scoped logger.
const CtxLogger = "logger"

// RequestLogger assigns every request an id (reusing an incoming
// X-Request-ID), echoes it back and logs the completed request.
func RequestLogger(log *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get(echo.HeaderXRequestID)
			if id == "" {
				id = uuid.NewString()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, id)
			reqLog := logger.WithRequestID(log, id)
			c.Set(CtxLogger, reqLog)

			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			reqLog.Info("request",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Path()),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.Int64("size", c.Response().Size),
				zap.String("client_ip", c.RealIP()),
				zap.String("admin", AdminPubkey(c)),
			)
			return nil
		}
	}
}

// Logger returns the request logger, or fallback outside RequestLogger.
func Logger(c echo.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := c.Get(CtxLogger).(*zap.Logger); ok {
		return l
	}
	return fallback
}
