package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/fathima-sithara/churchconnect/internal/apperr"
	"github.com/fathima-sithara/churchconnect/internal/auth"
)

const localUserID = "user_id"

// RequestLogger logs one line per request.
func RequestLogger(log *zap.SugaredLogger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}
		log.Infow("http request",
			"method", c.Method(),
			"path", c.Path(),
			"status", status,
			"latency", time.Since(start).String(),
			"ip", c.IP(),
		)
		return err
	}
}

// JWTAuthMiddleware requires "Authorization: Bearer <token>" and stores the caller's id
// under c.Locals("user_id").
func JWTAuthMiddleware(v *auth.Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, err := auth.BearerToken(c.Get(fiber.HeaderAuthorization))
		if err != nil {
			return writeError(c, err)
		}
		id, err := v.Verify(token)
		if err != nil {
			return writeError(c, err)
		}
		c.Locals(localUserID, id.UserID)
		return c.Next()
	}
}

func callerID(c *fiber.Ctx) string {
	id, _ := c.Locals(localUserID).(string)
	return id
}

func statusOf(code apperr.Code) int {
	switch code {
	case apperr.CodeUnauthenticated:
		return fiber.StatusUnauthorized
	case apperr.CodeNotAMember, apperr.CodeForbidden:
		return fiber.StatusForbidden
	case apperr.CodeInvalidInput:
		return fiber.StatusBadRequest
	case apperr.CodeNotFound:
		return fiber.StatusNotFound
	case apperr.CodeStoreUnavailable:
		return fiber.StatusServiceUnavailable
	case apperr.CodeRateLimited:
		return fiber.StatusTooManyRequests
	default:
		return fiber.StatusInternalServerError
	}
}

func writeError(c *fiber.Ctx, err error) error {
	code := apperr.CodeOf(err)
	return c.Status(statusOf(code)).JSON(fiber.Map{"error": apperr.Message(err), "code": code})
}

// ErrorHandler is the app-wide fallback for errors handlers return instead of writing.
func ErrorHandler(log *zap.SugaredLogger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
		}
		if apperr.CodeOf(err) == apperr.CodeInternal {
			log.Errorw("unhandled error", "path", c.Path(), "err", err)
		}
		return writeError(c, err)
	}
}
