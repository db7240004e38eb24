// Package vonage implements call control against the Vonage Voice API: the
// answer NCCO that connects a call's audio to the gateway and the talk action
// used for playback.
package vonage

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/voicebridge/call-gateway/internal/observability/logging"
)

const (
	defaultAPIBase  = "https://api.nexmo.com"
	defaultLanguage = "en-US"
	tokenTTL        = 15 * time.Minute
)

// Config holds Vonage application credentials.
type Config struct {
	ApplicationID  string
	PrivateKeyPath string
	PrivateKeyPEM  []byte
	APIBase        string
	Language       string
	Style          int
	HTTPClient     *http.Client
}

// Client calls the Vonage Voice REST API.
type Client struct {
	appID    string
	key      *rsa.PrivateKey
	apiBase  string
	language string
	style    int
	http     *http.Client
	now      func() time.Time
	logger   zerolog.Logger
}

// talkRequest is the body of PUT /v1/calls/{uuid}/talk.
type talkRequest struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
	Style    int    `json:"style"`
}

// New creates a client. The private key is read from PrivateKeyPEM or
// PrivateKeyPath.
func New(cfg Config) (*Client, error) {
	if cfg.ApplicationID == "" {
		return nil, errors.New("vonage: application id must not be empty")
	}

	pem := cfg.PrivateKeyPEM
	if len(pem) == 0 {
		if cfg.PrivateKeyPath == "" {
			return nil, errors.New("vonage: private key must be configured")
		}
		b, err := os.ReadFile(cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("vonage: read private key: %w", err)
		}
		pem = b
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("vonage: parse private key: %w", err)
	}

	c := &Client{
		appID:    cfg.ApplicationID,
		key:      key,
		apiBase:  cfg.APIBase,
		language: cfg.Language,
		style:    cfg.Style,
		http:     cfg.HTTPClient,
		now:      time.Now,
		logger:   logging.WithComponent("callcontrol.vonage"),
	}
	if c.apiBase == "" {
		c.apiBase = defaultAPIBase
	}
	if c.language == "" {
		c.language = defaultLanguage
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 10 * time.Second}
	}
	return c, nil
}

// token issues an application JWT for one request.
func (c *Client) token() (string, error) {
	now := c.now()
	claims := jwt.MapClaims{
		"application_id": c.appID,
		"iat":            now.Unix(),
		"exp":            now.Add(tokenTTL).Unix(),
		"jti":            uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(c.key)
}

// PlayAnnouncement speaks text into the call using the talk action.
func (c *Client) PlayAnnouncement(ctx context.Context, callId, text string) error {
	if callId == "" {
		return errors.New("vonage: call id must not be empty")
	}

	body, err := json.Marshal(talkRequest{Text: text, Language: c.language, Style: c.style})
	if err != nil {
		return err
	}

	tok, err := c.token()
	if err != nil {
		return fmt.Errorf("vonage: sign token: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/calls/%s/talk", c.apiBase, url.PathEscape(callId))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("vonage: talk request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("vonage: talk request: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	c.logger.Debug().
		Str("callId", callId).
		Int("status", resp.StatusCode).
		Msg("Talk action accepted")
	return nil
}
