package middleware

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/codeak/portal/pkg/logger"
	"github.com/gofiber/fiber/v2"
)

const (
	requestIDHeader = "X-Request-ID"
	maxRequestIDLen = 64
)

// Paths whose trailing segment is a credential. Only the prefix is logged.
var secretPathPrefixes = []string{
	"/auth/reset-password/",
}

// RequestLogger writes one http_request entry per request. The request id is
// taken from X-Request-ID when the client sends a usable one, stored in
// locals and echoed back so log lines can be matched to responses.
func RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		requestID := strings.TrimSpace(c.Get(requestIDHeader))
		if requestID == "" || len(requestID) > maxRequestIDLen {
			requestID = logger.GenerateRequestID()
		}
		c.Locals("requestID", requestID)
		c.Set(requestIDHeader, requestID)

		err := c.Next()

		statusCode := c.Response().StatusCode()
		details := map[string]interface{}{
			"method":        c.Method(),
			"path":          loggedPath(c.Path()),
			"status_code":   statusCode,
			"latency_ms":    time.Since(start).Milliseconds(),
			"user_agent":    c.Get(fiber.HeaderUserAgent),
			"ip":            c.IP(),
			"request_body":  logger.GetRequestBodySummary(c),
			"response_body": logger.GetResponseSizeSummary(c),
			"request_id":    requestID,
		}
		if code := envelopeCode(c); code != "" {
			details["code"] = code
		}

		userID := logger.GetUserIDFromContext(c)
		switch {
		case statusCode >= fiber.StatusInternalServerError:
			if userID != nil {
				logger.ErrorWithUser(*userID, "http_request", err, details)
			} else {
				logger.Error("http_request", err, details)
			}
		case statusCode >= fiber.StatusBadRequest:
			if userID != nil {
				logger.WarnWithUser(*userID, "http_request", details)
			} else {
				logger.Warn("http_request", details)
			}
		default:
			if userID != nil {
				logger.InfoWithUser(*userID, "http_request", details)
			} else {
				logger.Info("http_request", details)
			}
		}

		return err
	}
}

// SecurityLogger records rejected authentication (401) and role denials
// (403) under their own actions, tagged with the envelope's error code.
func SecurityLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()

		var action string
		switch c.Response().StatusCode() {
		case fiber.StatusUnauthorized:
			action = "auth_rejected"
		case fiber.StatusForbidden:
			action = "access_denied"
		default:
			return err
		}

		details := map[string]interface{}{
			"method":     c.Method(),
			"path":       loggedPath(c.Path()),
			"ip":         c.IP(),
			"code":       envelopeCode(c),
			"request_id": c.Locals("requestID"),
		}
		if userID := logger.GetUserIDFromContext(c); userID != nil {
			logger.WarnWithUser(*userID, action, details)
		} else {
			logger.Warn(action, details)
		}
		return err
	}
}

func loggedPath(path string) string {
	for _, prefix := range secretPathPrefixes {
		if strings.HasPrefix(path, prefix) && len(path) > len(prefix) {
			return prefix + "[REDACTED]"
		}
	}
	return path
}

// envelopeCode extracts "code" from an error envelope, or "" when the body is
// not one.
func envelopeCode(c *fiber.Ctx) string {
	if c.Response().StatusCode() < fiber.StatusBadRequest {
		return ""
	}
	body := c.Response().Body()
	if len(body) == 0 || body[0] != '{' {
		return ""
	}
	var envelope struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	return envelope.Code
}
