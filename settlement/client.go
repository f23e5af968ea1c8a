// Package settlement talks to the service that records matches on chain.
package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cameroncuttingedge/battleship/utils"
	"github.com/rs/zerolog/log"
)

// Match identifies the on-chain record of a game.
type Match struct {
	MatchID      string `json:"matchId"`
	MatchAddress string `json:"matchAddress"`
}

type FinalizeRequest struct {
	MatchID    string `json:"-"`
	Winner     string `json:"winner,omitempty"`
	TotalShots int    `json:"totalShots"`
	Reason     string `json:"reason"`
}

// Client is the raw call contract of the settlement service. Use a Settler
// rather than calling a Client directly from game code.
type Client interface {
	CreateMatch(ctx context.Context, playerA, playerB string) (*Match, error)
	StartMatch(ctx context.Context, matchID string) error
	FinalizeMatch(ctx context.Context, req FinalizeRequest) error
}

type HTTPClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		BaseURL: baseURL,
		Token:   token,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *HTTPClient) CreateMatch(ctx context.Context, playerA, playerB string) (*Match, error) {
	body := map[string]string{
		"playerA": playerA,
		"playerB": playerB,
	}
	var out Match
	if err := c.post(ctx, "/matches", body, &out); err != nil {
		return nil, err
	}
	if out.MatchID == "" {
		return nil, fmt.Errorf("settlement service returned no match id")
	}
	return &out, nil
}

func (c *HTTPClient) StartMatch(ctx context.Context, matchID string) error {
	return c.post(ctx, fmt.Sprintf("/matches/%s/start", url.PathEscape(matchID)), struct{}{}, nil)
}

func (c *HTTPClient) FinalizeMatch(ctx context.Context, req FinalizeRequest) error {
	return c.post(ctx, fmt.Sprintf("/matches/%s/finalize", url.PathEscape(req.MatchID)), req, nil)
}

func (c *HTTPClient) post(ctx context.Context, path string, in, out interface{}) error {
	jsonData, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode settlement request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("call settlement service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("settlement service %s returned %d: %s", path, resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode settlement response: %w", err)
	}
	return nil
}

// LocalClient stands in for the settlement service when none is configured.
// Every call succeeds.
type LocalClient struct{}

func (LocalClient) CreateMatch(_ context.Context, playerA, playerB string) (*Match, error) {
	id := utils.GenerateUUIDString()
	log.Info().Str("playerA", playerA).Str("playerB", playerB).Str("contractMatchID", id).Msg("Local settlement: match created")
	return &Match{MatchID: id, MatchAddress: "local:" + id}, nil
}

func (LocalClient) StartMatch(_ context.Context, matchID string) error {
	log.Info().Str("contractMatchID", matchID).Msg("Local settlement: match started")
	return nil
}

func (LocalClient) FinalizeMatch(_ context.Context, req FinalizeRequest) error {
	log.Info().
		Str("contractMatchID", req.MatchID).
		Str("winner", req.Winner).
		Int("totalShots", req.TotalShots).
		Str("reason", req.Reason).
		Msg("Local settlement: match finalized")
	return nil
}
