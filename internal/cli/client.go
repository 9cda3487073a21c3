package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tycoon/internal/emergency"
	"tycoon/internal/game"
	"tycoon/internal/syncq"

	"github.com/google/uuid"
)

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

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

// IsAPIError reports whether err came back from the server rather than
// from the network.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

type CatalogEntry struct {
	TypeID       string  `json:"type_id"`
	DisplayName  string  `json:"display_name"`
	Description  string  `json:"description"`
	PurchaseCost int64   `json:"purchase_cost"`
	HourlyIncome int64   `json:"hourly_income"`
	Capacity     int64   `json:"capacity"`
	DecayPerHour float64 `json:"decay_rate_per_hour"`
	RiskTier     string  `json:"risk_tier"`
}

func (c *Client) Catalog(ctx context.Context) ([]CatalogEntry, error) {
	var out struct {
		Investments []CatalogEntry `json:"investments"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/catalog", "", nil, &out, nil)
	return out.Investments, err
}

func (c *Client) Status(ctx context.Context, accessToken string) (game.StatusView, error) {
	var out game.StatusView
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/investments", accessToken, nil, &out, nil)
	return out, err
}

func (c *Client) Events(ctx context.Context, accessToken, typeID string, limit int) (map[string]any, error) {
	var out map[string]any
	path := fmt.Sprintf("/v1/investments/%s/events?limit=%d", url.PathEscape(typeID), limit)
	err := c.jsonRequest(ctx, http.MethodGet, path, accessToken, nil, &out, nil)
	return out, err
}

func (c *Client) Purchase(ctx context.Context, accessToken, typeID, idem string) (game.PurchaseResult, error) {
	var out game.PurchaseResult
	err := c.jsonRequest(ctx, http.MethodPost, investmentPath(typeID, "purchase"), accessToken, nil, &out, idemHeader(idem))
	return out, err
}

func (c *Client) Collect(ctx context.Context, accessToken, typeID, idem string) (game.CollectResult, error) {
	var out game.CollectResult
	err := c.jsonRequest(ctx, http.MethodPost, investmentPath(typeID, "collect"), accessToken, nil, &out, idemHeader(idem))
	return out, err
}

func (c *Client) RepairQuote(ctx context.Context, accessToken, typeID string) (game.RepairQuote, error) {
	var out game.RepairQuote
	err := c.jsonRequest(ctx, http.MethodGet, investmentPath(typeID, "repair"), accessToken, nil, &out, nil)
	return out, err
}

func (c *Client) Repair(ctx context.Context, accessToken, typeID string, maxCost int64, idem string) (game.RepairResult, error) {
	var out game.RepairResult
	err := c.jsonRequest(ctx, http.MethodPost, investmentPath(typeID, "repair"), accessToken, map[string]any{
		"max_cost": maxCost,
	}, &out, idemHeader(idem))
	return out, err
}

func (c *Client) RespondToEmergency(ctx context.Context, accessToken, typeID, tier, idem string) (game.EmergencyResult, error) {
	var out game.EmergencyResult
	err := c.jsonRequest(ctx, http.MethodPost, investmentPath(typeID, "emergency"), accessToken, map[string]any{
		"tier": tier,
	}, &out, idemHeader(idem))
	return out, err
}

func (c *Client) Emergencies(ctx context.Context, accessToken string) ([]emergency.Decision, error) {
	var out struct {
		Emergencies []emergency.Decision `json:"emergencies"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/emergencies", accessToken, nil, &out, nil)
	return out.Emergencies, err
}

type ReplayResult struct {
	IdempotencyKey string `json:"idempotency_key"`
	OK             bool   `json:"ok"`
	Status         int    `json:"status"`
	Error          string `json:"error,omitempty"`
	Duplicate      bool   `json:"duplicate,omitempty"`
}

func (c *Client) SyncReplay(ctx context.Context, accessToken string, commands []syncq.Command) ([]ReplayResult, error) {
	var out struct {
		Results []ReplayResult `json:"results"`
	}
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/sync/replay", accessToken, map[string]any{
		"commands": commands,
	}, &out, nil)
	return out.Results, err
}

// RunSettlement asks the server to run one settlement pass.
func (c *Client) RunSettlement(ctx context.Context, internalToken string) (game.PassReport, error) {
	var out game.PassReport
	err := c.jsonRequest(ctx, http.MethodPost, "/internal/settlement/run", "", nil, &out, map[string]string{
		"X-Internal-Token": internalToken,
	})
	return out, err
}

func investmentPath(typeID, action string) string {
	return "/v1/investments/" + url.PathEscape(strings.ToLower(strings.TrimSpace(typeID))) + "/" + action
}

func idemHeader(idem string) map[string]string {
	if strings.TrimSpace(idem) == "" {
		idem = uuid.NewString()
	}
	return map[string]string{"Idempotency-Key": idem}
}

func (c *Client) jsonRequest(ctx context.Context, method, path, accessToken string, in any, out any, headers map[string]string) error {
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
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(raw))
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			msg = payload.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
