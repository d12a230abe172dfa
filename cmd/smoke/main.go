package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/cookiejar"
	"os"
	"time"

	"github.com/oklog/ulid/v2"
)

func main() {
	base := os.Getenv("GATEHOUSE_URL")
	if base == "" {
		base = "http://localhost:8080"
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		log.Fatalf("cookie jar: %v", err)
	}
	c := &client{base: base, http: &http.Client{Jar: jar, Timeout: 5 * time.Second}}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	suffix := ulid.Make().String()
	email := fmt.Sprintf("smoke-%s@example.com", suffix)
	password := "smoke-" + suffix

	c.expect(ctx, http.MethodPost, "/register", map[string]string{"email": email, "password": password}, http.StatusCreated)
	c.expect(ctx, http.MethodPost, "/login", map[string]string{"email": email, "password": password}, http.StatusOK)

	var me struct {
		Authenticated bool `json:"authenticated"`
		User          struct {
			Email string `json:"email"`
		} `json:"user"`
	}
	c.decode(c.expect(ctx, http.MethodGet, "/me", nil, http.StatusOK), &me)
	if !me.Authenticated || me.User.Email != email {
		log.Fatalf("/me returned %+v", me)
	}

	c.expect(ctx, http.MethodPost, "/refresh", nil, http.StatusOK)
	c.expect(ctx, http.MethodPost, "/logout", nil, http.StatusOK)
	c.expect(ctx, http.MethodGet, "/me", nil, http.StatusUnauthorized)

	phone := "+1555" + suffix[len(suffix)-7:]
	expiry := time.Now().Add(5 * time.Minute).UnixMilli()
	c.expect(ctx, http.MethodPost, "/otp/store", map[string]any{"phoneNumber": phone, "otp": "4321", "expiryTime": expiry}, http.StatusOK)
	c.expect(ctx, http.MethodPost, "/otp/verify", map[string]string{"phoneNumber": phone, "otp": "0000"}, http.StatusBadRequest)
	c.expect(ctx, http.MethodPost, "/otp/verify", map[string]string{"phoneNumber": phone, "otp": "4321"}, http.StatusOK)
	c.expect(ctx, http.MethodPost, "/otp/verify", map[string]string{"phoneNumber": phone, "otp": "4321"}, http.StatusNotFound)

	fmt.Printf("gatehouse smoke test passed against %s (user %s)\n", base, email)
}

type client struct {
	base string
	http *http.Client
}

func (c *client) expect(ctx context.Context, method, path string, body any, want int) []byte {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			log.Fatalf("%s %s: marshal: %v", method, path, err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	if resp.StatusCode != want {
		log.Fatalf("%s %s: status %d, want %d: %s", method, path, resp.StatusCode, want, buf.String())
	}
	return buf.Bytes()
}

func (c *client) decode(data []byte, dst any) {
	if err := json.Unmarshal(data, dst); err != nil {
		log.Fatalf("decode: %v", err)
	}
}
