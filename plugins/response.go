package plugins

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/linht/clockgen/si5351"
)

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// ErrNotInitialized is returned while the synthesizer has no crystal.
var ErrNotInitialized = errors.New("synthesizer not initialized")

// SendSuccess sends a successful response
func SendSuccess(c *fiber.Ctx, data interface{}, message string) error {
	return c.JSON(APIResponse{
		Success: true,
		Data:    data,
		Message: message,
	})
}

// SendError sends an error response, picking the status from the error:
// bad identifiers are the client's fault, a missing crystal is a conflict,
// anything else (bus failures) is a server error.
func SendError(c *fiber.Ctx, err error) error {
	return c.Status(statusFor(err)).JSON(APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// SendErrorMessage sends an error response with a custom message
func SendErrorMessage(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(APIResponse{
		Success: false,
		Error:   message,
	})
}

// isConfigError reports whether err comes from a bad identifier or setting
// rather than from the bus.
func isConfigError(err error) bool {
	return errors.Is(err, si5351.ErrInvalidChannel) ||
		errors.Is(err, si5351.ErrInvalidSource) ||
		errors.Is(err, si5351.ErrInvalidDrive) ||
		errors.Is(err, si5351.ErrInvalidLoad) ||
		errors.Is(err, si5351.ErrInvalidCrystal)
}

func statusFor(err error) int {
	switch {
	case isConfigError(err):
		return fiber.StatusBadRequest
	case errors.Is(err, ErrNotInitialized):
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}
