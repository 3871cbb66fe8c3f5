package etherscan

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is a single confirmed transaction touching the watched address.
// Value is kept in wei; conversion to ETH happens only at display time.
type Transaction struct {
	Hash  string
	Block uint64
	Time  time.Time
	Value decimal.Decimal
	From  string
	To    string
}

// APIError is returned when Etherscan answers but the answer is unusable:
// a non-success status flag, an HTTP error code, or a malformed result
// payload. Callers treat it as a soft failure and retry on the next tick.
type APIError struct {
	Status  string
	Message string
	Detail  string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("etherscan: status %q: %s (%s)", e.Status, e.Message, e.Detail)
	}
	return fmt.Sprintf("etherscan: status %q: %s", e.Status, e.Message)
}

// txListResponse is the wire envelope of the account/txlist endpoint.
// Result is an array of transactions on success, but can be a bare error
// string, so it is decoded in two steps.
type txListResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// wireTransaction mirrors Etherscan's txlist record: every field arrives as
// a decimal string.
type wireTransaction struct {
	BlockNumber string `json:"blockNumber"`
	TimeStamp   string `json:"timeStamp"`
	Hash        string `json:"hash"`
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
}
