package launch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPClient calls the launch service over JSON/HTTP.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type createResponse struct {
	AssetID string `json:"asset_id"`
}

type buyRequest struct {
	AssetID string `json:"asset_id"`
	Amount  int64  `json:"amount"`
}

func (c *HTTPClient) CreateAsset(ctx context.Context, meta Metadata) (string, error) {
	var resp createResponse
	if err := c.post(ctx, "/v1/assets", meta, &resp); err != nil {
		return "", err
	}
	return resp.AssetID, nil
}

func (c *HTTPClient) BuyAsset(ctx context.Context, assetID string, amount int64) (Purchase, error) {
	var resp Purchase
	if err := c.post(ctx, "/v1/assets/"+assetID+"/buy", buyRequest{AssetID: assetID, Amount: amount}, &resp); err != nil {
		return Purchase{}, err
	}
	return resp, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("POST %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
