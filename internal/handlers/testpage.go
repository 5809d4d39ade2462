package handlers

import (
	_ "embed"
	"net/http"

	"github.com/labstack/echo/v4"
)

//go:embed testpage.html
var testPageHTML []byte

// TestPage handles GET /ws/v1/asr/test, a self-contained microphone page
// for exercising the streaming API from a browser.
func TestPage(c echo.Context) error {
	return c.HTMLBlob(http.StatusOK, testPageHTML)
}
