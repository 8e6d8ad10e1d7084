package tron

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	testContract = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"
	testAddress  = "TDepositAddressXXXXXXXXXXXXXXXXXXX"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(testLogger(), server.URL, "test-api-key", testContract)
}

func TestLatestBlockNumber(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/wallet/getnowblock", r.URL.Path)
		require.Equal(t, "test-api-key", r.Header.Get("TRON-PRO-API-KEY"))

		fmt.Fprint(w, `{"block_header":{"raw_data":{"number":68123456}}}`)
	})

	block, err := client.LatestBlockNumber(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(68123456), block)
}

func TestTRC20TransfersDecodesAndFilters(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/v1/accounts/"):
			q := r.URL.Query()
			require.Equal(t, "true", q.Get("only_to"))
			require.Equal(t, testContract, q.Get("contract_address"))

			fmt.Fprintf(w, `{"success":true,"data":[
				{"transaction_id":"tx-usdt","block_timestamp":1746878400000,"from":"TSender","to":%q,
				 "type":"Transfer","value":"10004200","token_info":{"address":%q,"decimals":6}},
				{"transaction_id":"tx-other-token","block_timestamp":1746878400000,"from":"TSender","to":%q,
				 "type":"Transfer","value":"5000000","token_info":{"address":"TOtherContract","decimals":6}},
				{"transaction_id":"tx-approval","block_timestamp":1746878400000,"from":"TSender","to":%q,
				 "type":"Approval","value":"1","token_info":{"address":%q,"decimals":6}}
			]}`, testAddress, testContract, testAddress, testAddress, testContract)

		case r.URL.Path == "/wallet/gettransactioninfobyid":
			fmt.Fprint(w, `{"id":"tx-usdt","blockNumber":68123400}`)

		default:
			http.NotFound(w, r)
		}
	})

	transfers, err := client.TRC20Transfers(context.Background(), testAddress, time.Time{})
	require.NoError(t, err)
	require.Len(t, transfers, 1, "other-token and approval events are filtered out")

	transfer := transfers[0]
	require.Equal(t, "tx-usdt", transfer.TxID)
	require.Equal(t, testAddress, transfer.ToAddress)
	require.Equal(t, int64(68123400), transfer.BlockNumber)
	require.True(t, transfer.Amount.Equal(decimal.RequireFromString("10.0042")),
		"sun converts to USDT, got %s", transfer.Amount)
	require.Equal(t, time.UnixMilli(1746878400000).UTC(), transfer.EventTime)
}

func TestTRC20TransfersFollowsFingerprintCursor(t *testing.T) {
	var listCalls []string

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/v1/accounts/"):
			q := r.URL.Query()
			listCalls = append(listCalls, q.Get("fingerprint"))
			require.Equal(t, "block_timestamp,asc", q.Get("order_by"))

			if q.Get("fingerprint") == "" {
				fmt.Fprintf(w, `{"success":true,"meta":{"fingerprint":"fp-page-2"},"data":[
					{"transaction_id":"tx-old","block_timestamp":1746878400000,"from":"TSender","to":%q,
					 "type":"Transfer","value":"1000000","token_info":{"address":%q,"decimals":6}}
				]}`, testAddress, testContract)
				return
			}

			fmt.Fprintf(w, `{"success":true,"data":[
				{"transaction_id":"tx-new","block_timestamp":1746878460000,"from":"TSender","to":%q,
				 "type":"Transfer","value":"2000000","token_info":{"address":%q,"decimals":6}}
			]}`, testAddress, testContract)

		case r.URL.Path == "/wallet/gettransactioninfobyid":
			fmt.Fprint(w, `{"id":"x","blockNumber":68123400}`)

		default:
			http.NotFound(w, r)
		}
	})

	transfers, err := client.TRC20Transfers(context.Background(), testAddress, time.Time{})
	require.NoError(t, err)

	// both pages are mirrored before the caller advances its high-water mark
	require.Equal(t, []string{"", "fp-page-2"}, listCalls)
	require.Len(t, transfers, 2)
	require.Equal(t, "tx-old", transfers[0].TxID)
	require.Equal(t, "tx-new", transfers[1].TxID)
}

func TestTRC20TransfersSkipsUnminedTransaction(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/v1/accounts/") {
			fmt.Fprintf(w, `{"success":true,"data":[
				{"transaction_id":"tx-pending","block_timestamp":1746878400000,"from":"TSender","to":%q,
				 "type":"Transfer","value":"10004200","token_info":{"address":%q,"decimals":6}}
			]}`, testAddress, testContract)
			return
		}
		// empty info for a transaction not yet in a block
		fmt.Fprint(w, `{}`)
	})

	transfers, err := client.TRC20Transfers(context.Background(), testAddress, time.Time{})
	require.NoError(t, err)
	require.Empty(t, transfers, "a transfer without a block is retried on a later poll")
}

func TestClientReportsGatewayFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"success":false}`)
	})

	_, err := client.TRC20Transfers(context.Background(), testAddress, time.Time{})
	require.Error(t, err)
}
