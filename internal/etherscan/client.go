package etherscan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Client is an Etherscan HTTP client for the account/txlist endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *slog.Logger

	// Rate limiting
	mu       sync.Mutex
	lastCall time.Time
	minDelay time.Duration
}

// NewClient creates a new Etherscan client.
func NewClient(baseURL, apiKey string, log *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		log:     log,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		minDelay: 250 * time.Millisecond, // free tier allows ~5 RPS
	}
}

func (c *Client) throttle() {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.lastCall)
	if elapsed < c.minDelay {
		time.Sleep(c.minDelay - elapsed)
	}
	c.lastCall = time.Now()
}

// ListTransactions returns all transactions for an address from startBlock
// onward, oldest first. An *APIError means Etherscan answered with a
// non-success status or an unusable payload; any other error is a transport
// failure.
func (c *Client) ListTransactions(ctx context.Context, address string, startBlock uint64) ([]Transaction, error) {
	c.throttle()

	q := url.Values{}
	q.Set("module", "account")
	q.Set("action", "txlist")
	q.Set("address", address)
	q.Set("startblock", strconv.FormatUint(startBlock, 10))
	q.Set("endblock", "99999999")
	q.Set("sort", "asc")
	q.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{
			Status:  strconv.Itoa(resp.StatusCode),
			Message: "http error",
			Detail:  truncate(string(data), 200),
		}
	}

	var envelope txListResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, &APIError{Message: "malformed response", Detail: err.Error()}
	}

	if envelope.Status != "1" {
		apiErr := &APIError{Status: envelope.Status, Message: envelope.Message}
		var detail string
		if json.Unmarshal(envelope.Result, &detail) == nil {
			apiErr.Detail = detail
		}
		return nil, apiErr
	}

	var wire []wireTransaction
	if err := json.Unmarshal(envelope.Result, &wire); err != nil {
		return nil, &APIError{
			Status:  envelope.Status,
			Message: "result is not a transaction list",
			Detail:  err.Error(),
		}
	}

	txs := make([]Transaction, 0, len(wire))
	for _, w := range wire {
		tx, err := w.parse()
		if err != nil {
			c.log.Warn("skipping unparsable transaction", "hash", w.Hash, "error", err)
			continue
		}
		txs = append(txs, tx)
	}

	return txs, nil
}

func (w wireTransaction) parse() (Transaction, error) {
	if w.Hash == "" {
		return Transaction{}, fmt.Errorf("missing hash")
	}

	block, err := strconv.ParseUint(w.BlockNumber, 10, 64)
	if err != nil {
		return Transaction{}, fmt.Errorf("block number %q: %w", w.BlockNumber, err)
	}

	ts, err := strconv.ParseInt(w.TimeStamp, 10, 64)
	if err != nil {
		return Transaction{}, fmt.Errorf("timestamp %q: %w", w.TimeStamp, err)
	}

	value, err := decimal.NewFromString(w.Value)
	if err != nil {
		return Transaction{}, fmt.Errorf("value %q: %w", w.Value, err)
	}

	return Transaction{
		Hash:  w.Hash,
		Block: block,
		Time:  time.Unix(ts, 0),
		Value: value,
		From:  strings.ToLower(w.From),
		To:    strings.ToLower(w.To),
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
