package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"nexus/internal/auth"
	"nexus/internal/game"
)

// APIError is a non-2xx answer from the realm API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api status %d", e.Status)
	}
	return e.Message
}

// IsUnauthorized reports whether err is a 401 from the API.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Signup(ctx context.Context, email, password, username string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/signup", "", map[string]any{
		"email":    email,
		"password": password,
		"username": username,
	}, &out)
	return out, err
}

func (c *Client) Login(ctx context.Context, email, password string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email":    email,
		"password": password,
	}, &out)
	return out, err
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/refresh", "", map[string]any{
		"refresh_token": refreshToken,
	}, &out)
	return out, err
}

func (c *Client) Actions(ctx context.Context) ([]string, error) {
	var out struct {
		Actions []string `json:"actions"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/actions", "", nil, &out)
	return out.Actions, err
}

// Action posts one {action, payload} envelope and decodes the answer into out.
func (c *Client) Action(ctx context.Context, accessToken, name string, payload, out any) error {
	body := map[string]any{"action": name}
	if payload != nil {
		body["payload"] = payload
	}
	return c.jsonRequest(ctx, http.MethodPost, "/v1/actions", accessToken, body, out)
}

func (c *Client) KingdomState(ctx context.Context, accessToken string) (game.KingdomView, error) {
	var out game.KingdomView
	err := c.Action(ctx, accessToken, "getKingdomState", nil, &out)
	return out, err
}

func (c *Client) SetDoctrine(ctx context.Context, accessToken, category, doctrine string) (game.DoctrineResult, error) {
	var out game.DoctrineResult
	err := c.Action(ctx, accessToken, "setKingdomDoctrine", map[string]any{
		"category": category,
		"doctrine": doctrine,
	}, &out)
	return out, err
}

func (c *Client) AddTax(ctx context.Context, accessToken string, amount int64) (game.TaxResult, error) {
	var out game.TaxResult
	err := c.Action(ctx, accessToken, "addTaxToKingdomTreasury", map[string]any{
		"taxAmount": amount,
	}, &out)
	return out, err
}

func (c *Client) RaidTargets(ctx context.Context, accessToken string) ([]game.RaidTarget, error) {
	var out struct {
		Targets []game.RaidTarget `json:"targets"`
	}
	err := c.Action(ctx, accessToken, "getRaidTargets", nil, &out)
	return out.Targets, err
}

func (c *Client) LaunchRaid(ctx context.Context, accessToken, defenderID string, knightIDs []string) (game.RaidResult, error) {
	var out game.RaidResult
	err := c.Action(ctx, accessToken, "launchRaid", map[string]any{
		"defender_id": defenderID,
		"knight_ids":  knightIDs,
	}, &out)
	return out, err
}

func (c *Client) RaidHistory(ctx context.Context, accessToken string) ([]game.RaidHistory, error) {
	var out struct {
		History []game.RaidHistory `json:"history"`
	}
	err := c.Action(ctx, accessToken, "getRaidHistory", nil, &out)
	return out.History, err
}

func (c *Client) RaidStats(ctx context.Context, accessToken string) (game.RaidStatsView, error) {
	var out game.RaidStatsView
	err := c.Action(ctx, accessToken, "getRaidStats", nil, &out)
	return out, err
}

// Knight is a roster entry as the API reports it.
type Knight struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Valor int64  `json:"valor"`
	Wit   int64  `json:"wit"`
	Tier  int    `json:"tier"`
	Power int64  `json:"power"`
}

type Roster struct {
	UserID      string     `json:"user_id"`
	CastleLevel int        `json:"castle_level"`
	Pocket      game.Purse `json:"pocket"`
	Treasury    game.Purse `json:"treasury"`
	Knights     []Knight   `json:"knights"`
	MaxParty    int        `json:"max_party"`
}

func (c *Client) Knights(ctx context.Context, accessToken string) (Roster, error) {
	var out Roster
	err := c.Action(ctx, accessToken, "getMyKnights", nil, &out)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path, accessToken string, in any, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return decodeAPIError(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeAPIError(status int, raw []byte) error {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && strings.TrimSpace(body.Error) != "" {
		return &APIError{Status: status, Message: strings.TrimSpace(body.Error)}
	}
	return &APIError{Status: status, Message: strings.TrimSpace(string(raw))}
}
