package main

import (
	"fmt"
	"io"

	"github.com/gofiber/fiber/v2"
)

// RegisterUpload exposes the file-upload path of the input surface: a
// single image file, decoded and scaled into the 28x28 canvas, then fed
// through the same centering path as a drawn digit.
func RegisterUpload(app *fiber.App, session *Session) {
	app.Post("/api/upload", func(c *fiber.Ctx) error {
		fh, err := c.FormFile("file")
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "missing file field",
			})
		}
		if fh.Size > uploadLimit {
			return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
				"error": fmt.Sprintf("file too large (%d bytes)", fh.Size),
			})
		}

		f, err := fh.Open()
		if err != nil {
			return apiError(c, fmt.Errorf("open upload: %w", err))
		}
		defer f.Close()
		data, err := io.ReadAll(io.LimitReader(f, uploadLimit+1))
		if err != nil {
			return apiError(c, fmt.Errorf("read upload: %w", err))
		}

		img, err := DecodeUpload(data)
		if err != nil {
			return apiError(c, err)
		}
		if err := session.SetImage(img); err != nil {
			return apiError(c, err)
		}
		return c.JSON(session.Snapshot())
	})
}
