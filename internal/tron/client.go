package tron

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/telepay/reconciler/internal/entities"
)

const (
	requestTimeout = 10 * time.Second
	maxAttempts    = 3
	retryBaseDelay = 500 * time.Millisecond

	// USDT has 6 decimals on TRON; amounts arrive in sun (1 USDT = 10^6 sun).
	usdtDecimals = 6

	transferPageSize = 100
)

// Client talks to a TronGrid-compatible API: latest block for confirmation
// depth and the TRC20 transfer listing for the deposit address.
type Client struct {
	logger *slog.Logger

	apiURL   string
	apiKey   string
	contract string
	client   *http.Client
}

func NewClient(logger *slog.Logger, apiURL, apiKey, usdtContract string) *Client {
	return &Client{
		logger:   logger,
		apiURL:   apiURL,
		apiKey:   apiKey,
		contract: usdtContract,
		client:   &http.Client{Timeout: requestTimeout},
	}
}

type nowBlockResponse struct {
	BlockHeader struct {
		RawData struct {
			Number int64 `json:"number"`
		} `json:"raw_data"`
	} `json:"block_header"`
}

// LatestBlockNumber returns the current head block number.
func (c *Client) LatestBlockNumber(ctx context.Context) (int64, error) {
	var resp nowBlockResponse

	err := c.doWithRetry(ctx, http.MethodPost, c.apiURL+"/wallet/getnowblock", &resp)
	if err != nil {
		return 0, fmt.Errorf("failed to get now block: %w", err)
	}
	if resp.BlockHeader.RawData.Number == 0 {
		return 0, fmt.Errorf("now block response carries no block number")
	}

	return resp.BlockHeader.RawData.Number, nil
}

type trc20TransfersResponse struct {
	Data []struct {
		TransactionID  string `json:"transaction_id"`
		BlockTimestamp int64  `json:"block_timestamp"`
		From           string `json:"from"`
		To             string `json:"to"`
		Type           string `json:"type"`
		Value          string `json:"value"`
		TokenInfo      struct {
			Address  string `json:"address"`
			Decimals int    `json:"decimals"`
		} `json:"token_info"`
	} `json:"data"`
	Success bool `json:"success"`
	Meta    struct {
		Fingerprint string `json:"fingerprint"`
	} `json:"meta"`
}

type txInfoResponse struct {
	ID          string `json:"id"`
	BlockNumber int64  `json:"blockNumber"`
}

// TRC20Transfers lists incoming USDT transfers to address since the given
// time, oldest first, following the fingerprint cursor until the interval is
// exhausted. The caller must see every transfer of the interval: a poll gap
// longer than its overlap would otherwise lose deposits for good, because the
// mirror is the only thing the sweep and the rescan tool ever read. Each event
// is resolved to its block number so the caller can gate on confirmation depth.
func (c *Client) TRC20Transfers(ctx context.Context, address string, since time.Time) ([]entities.TransferEvent, error) {
	var (
		transfers   []entities.TransferEvent
		fingerprint string
	)

	for {
		query := url.Values{
			"only_to":          {"true"},
			"only_confirmed":   {"false"},
			"contract_address": {c.contract},
			"min_timestamp":    {strconv.FormatInt(since.UnixMilli(), 10)},
			"order_by":         {"block_timestamp,asc"},
			"limit":            {strconv.Itoa(transferPageSize)},
		}
		if fingerprint != "" {
			query.Set("fingerprint", fingerprint)
		}

		endpoint := fmt.Sprintf("%s/v1/accounts/%s/transactions/trc20?%s",
			c.apiURL, url.PathEscape(address), query.Encode())

		var resp trc20TransfersResponse
		if err := c.doWithRetry(ctx, http.MethodGet, endpoint, &resp); err != nil {
			return nil, fmt.Errorf("failed to list trc20 transfers: %w", err)
		}
		if !resp.Success {
			return nil, fmt.Errorf("trongrid reported failure listing transfers for %s", address)
		}

		for _, item := range resp.Data {
			if item.Type != "Transfer" || item.TokenInfo.Address != c.contract {
				continue
			}

			sun, err := decimal.NewFromString(item.Value)
			if err != nil {
				c.logger.Warn("Skipping transfer with unparseable value",
					"txid", item.TransactionID, "value", item.Value)
				continue
			}

			blockNumber, err := c.transactionBlock(ctx, item.TransactionID)
			if err != nil {
				c.logger.Error("Failed to resolve block for transfer",
					"txid", item.TransactionID, "error", err)
				continue
			}

			transfers = append(transfers, entities.TransferEvent{
				TxID:        item.TransactionID,
				ToAddress:   item.To,
				Amount:      sun.Shift(-usdtDecimals),
				BlockNumber: blockNumber,
				EventTime:   time.UnixMilli(item.BlockTimestamp).UTC(),
			})
		}

		if resp.Meta.Fingerprint == "" || len(resp.Data) == 0 {
			return transfers, nil
		}
		fingerprint = resp.Meta.Fingerprint
	}
}

func (c *Client) transactionBlock(ctx context.Context, txid string) (int64, error) {
	endpoint := fmt.Sprintf("%s/wallet/gettransactioninfobyid?value=%s", c.apiURL, url.QueryEscape(txid))

	var resp txInfoResponse
	if err := c.doWithRetry(ctx, http.MethodGet, endpoint, &resp); err != nil {
		return 0, err
	}
	if resp.BlockNumber == 0 {
		return 0, fmt.Errorf("transaction %s not yet in a block", txid)
	}

	return resp.BlockNumber, nil
}

// doWithRetry performs the request with bounded retry and linear backoff.
func (c *Client) doWithRetry(ctx context.Context, method, endpoint string, out any) error {
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt-1) * retryBaseDelay):
			}
		}

		lastErr = c.do(ctx, method, endpoint, out)
		if lastErr == nil {
			return nil
		}

		c.logger.Warn("TronGrid request failed",
			"endpoint", endpoint, "attempt", attempt, "error", lastErr)
	}

	return fmt.Errorf("request failed after %d attempts: %w", maxAttempts, lastErr)
}

func (c *Client) do(ctx context.Context, method, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("TRON-PRO-API-KEY", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
