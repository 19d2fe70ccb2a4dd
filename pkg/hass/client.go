package hass

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/communalgrid/communalgrid/pkg/log"
	"github.com/communalgrid/communalgrid/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/levenlabs/go-lflag"
)

// ErrAuthInvalid is returned when Home Assistant rejects the access token.
var ErrAuthInvalid = errors.New("home assistant rejected access token")

// Client reads the entity and device registries from Home Assistant over
// its websocket API.
type Client struct {
	url    string
	token  string
	dialer *websocket.Dialer
}

// Configured sets up the Home Assistant client based on flags.
func Configured() *Client {
	c := NewClient("", "")
	hassURL := lflag.String("hass-url", "", "Home Assistant base URL, e.g. http://homeassistant.local:8123")
	token := lflag.String("hass-token", "", "Home Assistant long-lived access token")

	lflag.Do(func() {
		c.url = *hassURL
		c.token = *token
	})

	return c
}

// NewClient returns a client for the instance at baseURL.
func NewClient(baseURL, token string) *Client {
	return &Client{
		url:   baseURL,
		token: token,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Enabled reports whether a Home Assistant URL was configured.
func (c *Client) Enabled() bool {
	return c.url != ""
}

// Validate ensures the configuration is valid.
func (c *Client) Validate() error {
	if _, err := websocketURL(c.url); err != nil {
		return err
	}
	if c.token == "" {
		return fmt.Errorf("hass-token is required")
	}
	return nil
}

// websocketURL converts the configured base URL into the websocket
// endpoint.
func websocketURL(base string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("hass-url is required")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("failed to parse hass url (%s): %w", base, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported hass url scheme: %s", u.Scheme)
	}
	if !strings.HasSuffix(u.Path, "/api/websocket") {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/api/websocket"
	}
	return u.String(), nil
}

type authMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token,omitempty"`
}

type command struct {
	ID   int    `json:"id"`
	Type string `json:"type"`
}

type response struct {
	ID      int             `json:"id"`
	Type    string          `json:"type"`
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Message string          `json:"message"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// session is an authenticated websocket connection.
type session struct {
	conn   *websocket.Conn
	nextID int
}

func (c *Client) connect(ctx context.Context) (*session, error) {
	u, err := websocketURL(c.url)
	if err != nil {
		return nil, err
	}
	conn, _, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to home assistant: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
	}

	var hello response
	if err := conn.ReadJSON(&hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read auth request: %w", err)
	}
	if hello.Type != "auth_required" {
		conn.Close()
		return nil, fmt.Errorf("unexpected message before auth: %s", hello.Type)
	}
	if err := conn.WriteJSON(authMessage{Type: "auth", AccessToken: c.token}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send auth: %w", err)
	}
	var result response
	if err := conn.ReadJSON(&result); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read auth result: %w", err)
	}
	switch result.Type {
	case "auth_ok":
	case "auth_invalid":
		conn.Close()
		return nil, fmt.Errorf("%w: %s", ErrAuthInvalid, result.Message)
	default:
		conn.Close()
		return nil, fmt.Errorf("unexpected auth result: %s", result.Type)
	}
	return &session{conn: conn, nextID: 1}, nil
}

// call sends a command and decodes its result into out. Messages for other
// ids, such as events, are skipped.
func (s *session) call(ctx context.Context, typ string, out any) error {
	id := s.nextID
	s.nextID++
	if err := s.conn.WriteJSON(command{ID: id, Type: typ}); err != nil {
		return fmt.Errorf("failed to send %s: %w", typ, err)
	}
	for {
		var resp response
		if err := s.conn.ReadJSON(&resp); err != nil {
			return fmt.Errorf("failed to read %s result: %w", typ, err)
		}
		if resp.ID != id || resp.Type != "result" {
			log.Ctx(ctx).DebugContext(ctx, "skipping home assistant message", slog.Int("id", resp.ID), slog.String("type", resp.Type))
			continue
		}
		if !resp.Success {
			if resp.Error != nil {
				return fmt.Errorf("%s failed: %s: %s", typ, resp.Error.Code, resp.Error.Message)
			}
			return fmt.Errorf("%s failed", typ)
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", typ, err)
		}
		return nil
	}
}

// Scan reads the registries and current states and returns every enabled
// entity as a raw device with its device metadata and power reading.
func (c *Client) Scan(ctx context.Context) ([]types.RawDevice, error) {
	s, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer s.conn.Close()
	stop := context.AfterFunc(ctx, func() {
		s.conn.Close()
	})
	defer stop()

	var entities []entityEntry
	if err := s.call(ctx, "config/entity_registry/list", &entities); err != nil {
		return nil, err
	}
	var devices []deviceEntry
	if err := s.call(ctx, "config/device_registry/list", &devices); err != nil {
		return nil, err
	}
	var states []stateEntry
	if err := s.call(ctx, "get_states", &states); err != nil {
		return nil, err
	}

	raw := buildDevices(entities, devices, states)
	log.Ctx(ctx).DebugContext(
		ctx,
		"scanned home assistant",
		slog.Int("entities", len(entities)),
		slog.Int("devices", len(devices)),
		slog.Int("states", len(states)),
		slog.Int("raw", len(raw)),
	)
	return raw, nil
}
