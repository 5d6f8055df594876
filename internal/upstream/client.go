package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

// ErrRateLimited marks a 429 rejection from the upstream. Callers feed it
// back into the Governor instead of treating it as a plain fetch failure.
var ErrRateLimited = errors.New("upstream rate limited")

// Head is the minimal view of a block the pipeline needs: identifying hash,
// height and header timestamp.
type Head struct {
	Height    uint64
	Hash      string
	Timestamp uint64
}

// Client makes JSON-RPC calls against the upstream REST endpoint. It covers
// the two request-response interfaces: backfill fetch by height and the
// chain-head query used by the periodic self-healing timer.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a JSON-RPC client for the given endpoint.
func NewClient(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Call makes a single JSON-RPC call.
func (c *Client) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	reqBody := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      1,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpc call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w (retry after: %s)", ErrRateLimited, resp.Header.Get("Retry-After"))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if rpcResp.Error != nil {
		if strings.Contains(strings.ToLower(rpcResp.Error.Message), "rate limit") {
			return nil, fmt.Errorf("%w: %s", ErrRateLimited, rpcResp.Error.Message)
		}
		return nil, fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}

	return rpcResp.Result, nil
}

// BlockByHeight fetches one block header by height.
func (c *Client) BlockByHeight(ctx context.Context, height uint64) (*Head, error) {
	result, err := c.Call(ctx, "eth_getBlockByNumber", []any{encodeHeight(height), false})
	if err != nil {
		return nil, err
	}
	if string(result) == "null" {
		return nil, fmt.Errorf("block %d not found", height)
	}

	var raw struct {
		Number    string `json:"number"`
		Hash      string `json:"hash"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, fmt.Errorf("parse block %d: %w", height, err)
	}

	return headFromRaw(raw.Number, raw.Hash, raw.Timestamp)
}

// ChainHead returns the current highest known height, retrying transient
// failures with a bounded exponential backoff. Only the periodic head checker
// uses this call.
func (c *Client) ChainHead(ctx context.Context) (uint64, error) {
	var head uint64

	backoff := retry.WithMaxRetries(3, retry.NewExponential(time.Second))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		result, err := c.Call(ctx, "eth_blockNumber", []any{})
		if err != nil {
			return retry.RetryableError(err)
		}
		var hex string
		if err := json.Unmarshal(result, &hex); err != nil {
			return retry.RetryableError(fmt.Errorf("parse chain head: %w", err))
		}
		head, err = decodeHeight(hex)
		if err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("chain head query: %w", err)
	}
	return head, nil
}

func headFromRaw(number, hash, timestamp string) (*Head, error) {
	height, err := decodeHeight(number)
	if err != nil {
		return nil, fmt.Errorf("invalid height %q: %w", number, err)
	}
	if hash == "" {
		return nil, errors.New("missing block hash")
	}
	ts, err := decodeHeight(timestamp)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q: %w", timestamp, err)
	}
	return &Head{Height: height, Hash: hash, Timestamp: ts}, nil
}

func encodeHeight(h uint64) string {
	return "0x" + strconv.FormatUint(h, 16)
}

func decodeHeight(s string) (uint64, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return 0, errors.New("empty hex value")
	}
	return strconv.ParseUint(s, 16, 64)
}
