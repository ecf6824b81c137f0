package rpc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/x1-sale/internal/types"
	"github.com/fortiblox/x1-sale/pkg/transaction"
)

func newTestClient(t *testing.T, ts *testServer) *Client {
	t.Helper()
	httpServer := httptest.NewServer(ts.server.Handler())
	t.Cleanup(httpServer.Close)
	return NewClient(httpServer.URL, 5*time.Second)
}

func TestClient_Purchase(t *testing.T) {
	ts := newTestServer(t)
	client := newTestClient(t, ts)
	ctx := context.Background()

	config, err := client.GetSaleConfig(ctx)
	require.NoError(t, err)
	assert.Nil(t, config)

	fixture := ts.initializeSale(t)
	buyerTokens := ts.CreateTokenAccount(fixture.buyer, fixture.mint, fixture.buyer.PublicKey())

	config, err = client.GetSaleConfig(ctx)
	require.NoError(t, err)
	require.NotNil(t, config)
	assert.Equal(t, fixture.sale.String(), config.Address)
	assert.EqualValues(t, testPrice, config.PricePerToken)
	assert.Equal(t, []string{fixture.buyer.PublicKey().String()}, config.Whitelist)

	before, err := client.GetBalance(ctx, fixture.authority.PublicKey())
	require.NoError(t, err)

	blockhash, err := client.GetLatestBlockhash(ctx)
	require.NoError(t, err)
	tx := transaction.NewTransaction(fixture.buyer.PublicKey(), blockhash,
		fixture.buy(fixture.buyer.PublicKey(), buyerTokens, 50))
	require.NoError(t, tx.Sign(fixture.buyer))

	sig, err := client.SendTransaction(ctx, &tx)
	require.NoError(t, err)
	assert.Equal(t, tx.Signature(), sig)

	after, err := client.GetBalance(ctx, fixture.authority.PublicKey())
	require.NoError(t, err)
	assert.EqualValues(t, 50*testPrice, after-before)

	amount, err := client.GetTokenAccountBalance(ctx, buyerTokens)
	require.NoError(t, err)
	assert.Equal(t, "50", amount.Amount)

	record, err := client.GetTransaction(ctx, sig)
	require.NoError(t, err)
	require.NotNil(t, record)
	require.NotNil(t, record.Meta)
	assert.Nil(t, record.Meta.Err)

	slot, err := client.GetSlot(ctx)
	require.NoError(t, err)
	assert.Equal(t, ts.Bank.Slot(), slot)
}

func TestClient_Errors(t *testing.T) {
	ts := newTestServer(t)
	client := newTestClient(t, ts)
	ctx := context.Background()

	record, err := client.GetTransaction(ctx, types.Signature{9})
	require.NoError(t, err)
	assert.Nil(t, record)

	err = client.Call(ctx, "getNothing", nil, nil)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, MethodNotFound, rpcErr.Code)

	_, err = client.GetTokenAccountBalance(ctx, types.Pubkey{1})
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, InvalidParams, rpcErr.Code)

	unavailable := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer unavailable.Close()
	_, err = NewClient(unavailable.URL, time.Second).GetSlot(ctx)
	assert.ErrorContains(t, err, "http status 503")
}
