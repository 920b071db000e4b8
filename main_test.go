package main

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	src := `
server:
  host: 127.0.0.1
auth:
  password_hash: x
log_level: debug
plugins:
  clockgen:
    dry_run: true
`
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	config = Config{}
	if err := loadConfig(path); err != nil {
		t.Fatal(err)
	}
	if config.Server.Port != "8080" || config.Server.Host != "127.0.0.1" || config.LogLevel != "debug" {
		t.Errorf("config = %+v", config)
	}
	node, ok := config.Plugins["clockgen"]
	if !ok {
		t.Fatal("clockgen section missing")
	}
	var cfg struct {
		DryRun bool `yaml:"dry_run"`
	}
	if err := node.Decode(&cfg); err != nil || !cfg.DryRun {
		t.Errorf("clockgen section = %+v, %v", cfg, err)
	}
}

func TestAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	config = Config{}
	config.Auth.PasswordHash = string(hash)

	app := fiber.New()
	app.Post("/login", handleLogin)
	app.Use("/api", authMiddleware)
	app.Get("/api/ping", func(c *fiber.Ctx) error { return c.SendString("pong") })

	login := func(password string) int {
		req := httptest.NewRequest("POST", "/login", strings.NewReader(`{"password":"`+password+`"}`))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req, -1)
		if err != nil {
			t.Fatal(err)
		}
		return resp.StatusCode
	}
	ping := func(token string) int {
		req := httptest.NewRequest("GET", "/api/ping", nil)
		req.Header.Set("X-Auth-Token", token)
		resp, err := app.Test(req, -1)
		if err != nil {
			t.Fatal(err)
		}
		return resp.StatusCode
	}

	if code := login("wrong"); code != fiber.StatusUnauthorized {
		t.Errorf("wrong password: %d", code)
	}
	if code := ping(""); code != fiber.StatusUnauthorized {
		t.Errorf("no token: %d", code)
	}
	if code := login("secret"); code != fiber.StatusOK {
		t.Fatalf("login: %d", code)
	}

	sessionMu.RLock()
	token := currentSession.Token
	sessionMu.RUnlock()

	if code := ping(token); code != fiber.StatusOK {
		t.Errorf("valid token: %d", code)
	}

	sessionMu.Lock()
	currentSession.ExpiresAt = time.Now().Add(-time.Second)
	sessionMu.Unlock()
	if code := ping(token); code != fiber.StatusUnauthorized {
		t.Errorf("expired token: %d", code)
	}
}
