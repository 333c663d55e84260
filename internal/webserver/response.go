package webserver

import (
	"github.com/labstack/echo/v4"
)

// Response is the uniform envelope. Payload fields are merged into the
// top level next to success and message.
type Response map[string]interface{}

// Reply writes a success envelope.
func Reply(c echo.Context, status int, message string, payload Response) error {
	body := Response{"success": true}
	if message != "" {
		body["message"] = message
	}
	for k, v := range payload {
		body[k] = v
	}
	return c.JSON(status, body)
}

// Fail writes an error envelope. detail is omitted when nil.
func Fail(c echo.Context, status int, code, message string, detail interface{}) error {
	body := Response{
		"success": false,
		"code":    code,
		"message": message,
	}
	if detail != nil {
		body["error"] = detail
	}
	return c.JSON(status, body)
}
