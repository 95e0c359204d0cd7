package validation

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func newApp(cfg Config) *fiber.App {
	app := fiber.New()
	app.Use(ContentType(cfg))
	app.Post("/api/chat", ChatRequest(cfg), func(c *fiber.Ctx) error {
		return c.SendString(c.Locals(ChatTextKey).(string))
	})
	app.Post("/api/rfps/confirm", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusCreated) })
	app.Get("/api/vendor/process", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	return app
}

func TestValidation(t *testing.T) {
	app := newApp(Config{MaxChatTextLength: 10})

	tests := []struct {
		name        string
		method      string
		path        string
		contentType string
		body        string
		wantStatus  int
		wantBody    string
	}{
		{name: "get passes", method: "GET", path: "/api/vendor/process", wantStatus: 200},
		{name: "form rejected", method: "POST", path: "/api/rfps/confirm", contentType: "application/x-www-form-urlencoded", body: "a=b", wantStatus: 415},
		{name: "broken json", method: "POST", path: "/api/rfps/confirm", contentType: "application/json", body: "{", wantStatus: 400},
		{name: "json with charset", method: "POST", path: "/api/rfps/confirm", contentType: "application/json; charset=utf-8", body: "{}", wantStatus: 201},
		{name: "missing text", method: "POST", path: "/api/chat", contentType: "application/json", body: `{"msg":"hi"}`, wantStatus: 400},
		{name: "non-string text", method: "POST", path: "/api/chat", contentType: "application/json", body: `{"text":5}`, wantStatus: 400},
		{name: "blank text", method: "POST", path: "/api/chat", contentType: "application/json", body: `{"text":"  \u0000 "}`, wantStatus: 400},
		{name: "too long", method: "POST", path: "/api/chat", contentType: "application/json", body: `{"text":"` + strings.Repeat("a", 11) + `"}`, wantStatus: 413},
		{name: "multibyte at limit", method: "POST", path: "/api/chat", contentType: "application/json", body: `{"text":"` + strings.Repeat("é", 10) + `"}`, wantStatus: 200, wantBody: strings.Repeat("é", 10)},
		{name: "trimmed", method: "POST", path: "/api/chat", contentType: "application/json", body: `{"text":"  chairs "}`, wantStatus: 200, wantBody: "chairs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantBody != "" {
				body, _ := io.ReadAll(resp.Body)
				if string(body) != tt.wantBody {
					t.Errorf("body = %q, want %q", body, tt.wantBody)
				}
			}
		})
	}
}
