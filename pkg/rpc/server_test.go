package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/x1-sale/internal/types"
	"github.com/fortiblox/x1-sale/pkg/bank/banktest"
	"github.com/fortiblox/x1-sale/pkg/blockstore"
	"github.com/fortiblox/x1-sale/pkg/svm/programs/sale"
	"github.com/fortiblox/x1-sale/pkg/svm/programs/system"
	"github.com/fortiblox/x1-sale/pkg/transaction"
)

const (
	testPrice = 1_000
	testCap   = 500
)

type testServer struct {
	*banktest.Env
	server  *Server
	journal *blockstore.BoltStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	env := banktest.NewEnv(t)

	config := blockstore.DefaultConfig(filepath.Join(t.TempDir(), "journal.db"))
	config.PruneEnabled = false
	journal, err := blockstore.Open(config)
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })
	env.Bank.AddListener(journal)

	return &testServer{
		Env:     env,
		server:  New(DefaultConfig(), env.Bank, journal),
		journal: journal,
	}
}

// saleFixture is an initialized sale with one whitelisted buyer.
type saleFixture struct {
	authority types.Keypair
	buyer     types.Keypair
	mint      types.Pubkey
	vault     types.Pubkey
	sale      types.Pubkey
}

func (ts *testServer) initializeSale(t *testing.T) *saleFixture {
	t.Helper()

	authority := ts.NewWallet(10 * banktest.LamportsPerSol)
	buyer := ts.NewWallet(banktest.LamportsPerSol)
	mint := ts.CreateMint(authority, 6)
	vault := ts.CreateTokenAccount(authority, mint, authority.PublicKey())
	ts.MintTo(authority, mint, vault, 1_000_000)

	address, _, err := sale.GetSaleAddress()
	require.NoError(t, err)

	ts.MustProcess(authority, nil, sale.NewInitializeInstruction(&sale.InitializeInstructionAccounts{
		Sale:       address,
		Authority:  authority.PublicKey(),
		TokenMint:  mint,
		TokenVault: vault,
	}, &sale.InitializeInstructionArgs{
		Price:              testPrice,
		MaxTokensPerWallet: testCap,
		Whitelist:          []types.Pubkey{buyer.PublicKey()},
	}))

	return &saleFixture{
		authority: authority,
		buyer:     buyer,
		mint:      mint,
		vault:     vault,
		sale:      address,
	}
}

func (f *saleFixture) buy(buyer types.Pubkey, buyerTokens types.Pubkey, amount uint64) transaction.Instruction {
	return sale.NewBuyTokensInstruction(&sale.BuyTokensInstructionAccounts{
		Sale:              f.sale,
		Buyer:             buyer,
		Authority:         f.authority.PublicKey(),
		TokenVault:        f.vault,
		BuyerTokenAccount: buyerTokens,
	}, &sale.BuyTokensInstructionArgs{Amount: amount})
}

// Helper function to make an RPC request.
func makeRPCRequest(t *testing.T, server *Server, method string, params interface{}) *Response {
	t.Helper()

	var paramsRaw json.RawMessage
	if params != nil {
		var err error
		paramsRaw, err = json.Marshal(params)
		require.NoError(t, err)
	}

	body, err := json.Marshal(Request{
		JSONRPC: JSONRPCVersion,
		ID:      1,
		Method:  method,
		Params:  paramsRaw,
	})
	require.NoError(t, err)

	httpReq := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	server.handleRPC(rr, httpReq)

	var resp Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp), "body: %s", rr.Body.String())
	return &resp
}

// decodeResult re-decodes a generic result into v.
func decodeResult(t *testing.T, resp *Response, v interface{}) {
	t.Helper()
	require.Nil(t, resp.Error, "unexpected rpc error")
	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, v))
}

type valueResponse struct {
	Context Context         `json:"context"`
	Value   json.RawMessage `json:"value"`
}

func requireCode(t *testing.T, resp *Response, code int) {
	t.Helper()
	require.NotNil(t, resp.Error, "expected rpc error %d", code)
	assert.Equal(t, code, resp.Error.Code, resp.Error.Message)
}

func encodeTx(tx *transaction.Transaction) string {
	return base58.Encode(tx.Marshal())
}

func TestGetHealth(t *testing.T) {
	ts := newTestServer(t)

	resp := makeRPCRequest(t, ts.server, "getHealth", nil)
	require.Nil(t, resp.Error)
	assert.Equal(t, "ok", resp.Result)

	ts.server.SetHealthy(false)
	requireCode(t, makeRPCRequest(t, ts.server, "getHealth", nil), NodeUnhealthy)
}

func TestGetVersion(t *testing.T) {
	ts := newTestServer(t)

	var version map[string]interface{}
	decodeResult(t, makeRPCRequest(t, ts.server, "getVersion", nil), &version)
	assert.Contains(t, version, "x1-sale-core")
	assert.Contains(t, version, "feature-set")
}

func TestGetSlot(t *testing.T) {
	ts := newTestServer(t)
	payer := ts.NewWallet(banktest.LamportsPerSol)
	ts.MustProcess(payer, nil, system.Transfer(payer.PublicKey(), types.Pubkey{9}, 1_000_000))

	var slot uint64
	decodeResult(t, makeRPCRequest(t, ts.server, "getSlot", nil), &slot)
	assert.Equal(t, ts.Bank.Slot(), slot)
	assert.NotZero(t, slot)

	resp := makeRPCRequest(t, ts.server, "getSlot", []interface{}{map[string]interface{}{"minContextSlot": slot + 100}})
	requireCode(t, resp, MinContextSlotNotReached)
}

func TestGetBalance(t *testing.T) {
	ts := newTestServer(t)
	wallet := ts.NewWallet(banktest.LamportsPerSol)

	var result struct {
		Value uint64 `json:"value"`
	}
	decodeResult(t, makeRPCRequest(t, ts.server, "getBalance", []interface{}{wallet.PublicKey().String()}), &result)
	assert.EqualValues(t, banktest.LamportsPerSol, result.Value)

	decodeResult(t, makeRPCRequest(t, ts.server, "getBalance", []interface{}{types.Pubkey{77}.String()}), &result)
	assert.Zero(t, result.Value)
}

func TestGetAccountInfo(t *testing.T) {
	ts := newTestServer(t)
	fixture := ts.initializeSale(t)

	t.Run("Base64", func(t *testing.T) {
		var result struct {
			Value *AccountInfo `json:"value"`
		}
		decodeResult(t, makeRPCRequest(t, ts.server, "getAccountInfo", []interface{}{fixture.sale.String()}), &result)
		require.NotNil(t, result.Value)
		assert.Equal(t, sale.ProgramID.String(), result.Value.Owner)
		require.Len(t, result.Value.Data, 2)
		assert.Equal(t, string(EncodingBase64), result.Value.Data[1])

		data, err := DecodeAccountData(result.Value.Data[0], EncodingBase64)
		require.NoError(t, err)
		config, err := sale.UnmarshalSaleConfig(data)
		require.NoError(t, err)
		assert.EqualValues(t, testPrice, config.Price)
		assert.EqualValues(t, len(data), result.Value.Space)
	})

	t.Run("Zstd", func(t *testing.T) {
		account, err := ts.Bank.GetAccount(fixture.vault)
		require.NoError(t, err)

		var result struct {
			Value *AccountInfo `json:"value"`
		}
		params := []interface{}{fixture.vault.String(), map[string]interface{}{"encoding": "base64+zstd"}}
		decodeResult(t, makeRPCRequest(t, ts.server, "getAccountInfo", params), &result)
		require.NotNil(t, result.Value)

		data, err := DecodeAccountData(result.Value.Data[0], EncodingBase64Zstd)
		require.NoError(t, err)
		assert.Equal(t, account.Data, data)
	})

	t.Run("DataSlice", func(t *testing.T) {
		var result struct {
			Value *AccountInfo `json:"value"`
		}
		params := []interface{}{fixture.vault.String(), map[string]interface{}{
			"encoding":  "base58",
			"dataSlice": map[string]interface{}{"offset": 0, "length": 32},
		}}
		decodeResult(t, makeRPCRequest(t, ts.server, "getAccountInfo", params), &result)
		require.NotNil(t, result.Value)

		data, err := DecodeAccountData(result.Value.Data[0], EncodingBase58)
		require.NoError(t, err)
		assert.Equal(t, fixture.mint[:], data)
	})

	t.Run("NotFound", func(t *testing.T) {
		var result valueResponse
		decodeResult(t, makeRPCRequest(t, ts.server, "getAccountInfo", []interface{}{types.Pubkey{123}.String()}), &result)
		assert.Equal(t, "null", string(result.Value))
	})

	t.Run("UnsupportedEncoding", func(t *testing.T) {
		params := []interface{}{fixture.sale.String(), map[string]interface{}{"encoding": "jsonParsed"}}
		requireCode(t, makeRPCRequest(t, ts.server, "getAccountInfo", params), InvalidParams)
	})
}

func TestGetMultipleAccounts(t *testing.T) {
	ts := newTestServer(t)
	wallet := ts.NewWallet(42)

	var result struct {
		Value []*AccountInfo `json:"value"`
	}
	keys := []string{wallet.PublicKey().String(), types.Pubkey{200}.String()}
	decodeResult(t, makeRPCRequest(t, ts.server, "getMultipleAccounts", []interface{}{keys}), &result)
	require.Len(t, result.Value, 2)
	require.NotNil(t, result.Value[0])
	assert.EqualValues(t, 42, result.Value[0].Lamports)
	assert.Nil(t, result.Value[1])
}

func TestGetSaleConfig(t *testing.T) {
	ts := newTestServer(t)

	var empty valueResponse
	decodeResult(t, makeRPCRequest(t, ts.server, "getSaleConfig", nil), &empty)
	assert.Equal(t, "null", string(empty.Value))

	fixture := ts.initializeSale(t)

	var result struct {
		Value SaleConfigInfo `json:"value"`
	}
	decodeResult(t, makeRPCRequest(t, ts.server, "getSaleConfig", nil), &result)
	assert.Equal(t, fixture.sale.String(), result.Value.Address)
	assert.Equal(t, fixture.authority.PublicKey().String(), result.Value.Authority)
	assert.Equal(t, fixture.mint.String(), result.Value.TokenMint)
	assert.Equal(t, fixture.vault.String(), result.Value.TokenVault)
	assert.EqualValues(t, testPrice, result.Value.PricePerToken)
	assert.EqualValues(t, testCap, result.Value.MaxTokensPerWallet)
	assert.Equal(t, []string{fixture.buyer.PublicKey().String()}, result.Value.Whitelist)

	resp := makeRPCRequest(t, ts.server, "getSaleConfig", []interface{}{fixture.vault.String()})
	requireCode(t, resp, InvalidParams)
}

func TestSendTransaction(t *testing.T) {
	ts := newTestServer(t)
	fixture := ts.initializeSale(t)
	buyerTokens := ts.CreateTokenAccount(fixture.buyer, fixture.mint, fixture.buyer.PublicKey())

	tx := ts.NewTransaction(fixture.buyer, nil, fixture.buy(fixture.buyer.PublicKey(), buyerTokens, 100))

	var signature string
	decodeResult(t, makeRPCRequest(t, ts.server, "sendTransaction", []interface{}{encodeTx(tx)}), &signature)
	assert.Equal(t, tx.Signature().String(), signature)
	assert.EqualValues(t, 100, ts.TokenBalance(buyerTokens))

	t.Run("TokenBalance", func(t *testing.T) {
		var result struct {
			Value TokenAmount `json:"value"`
		}
		decodeResult(t, makeRPCRequest(t, ts.server, "getTokenAccountBalance", []interface{}{buyerTokens.String()}), &result)
		assert.Equal(t, "100", result.Value.Amount)
		assert.EqualValues(t, 6, result.Value.Decimals)
		assert.Equal(t, "0.0001", result.Value.UIAmountString)

		decodeResult(t, makeRPCRequest(t, ts.server, "getTokenAccountBalance", []interface{}{fixture.vault.String()}), &result)
		assert.Equal(t, "999900", result.Value.Amount)
		assert.Equal(t, "0.9999", result.Value.UIAmountString)

		resp := makeRPCRequest(t, ts.server, "getTokenAccountBalance", []interface{}{fixture.sale.String()})
		requireCode(t, resp, InvalidParams)
	})

	t.Run("AlreadyProcessed", func(t *testing.T) {
		params := []interface{}{encodeTx(tx), map[string]interface{}{"skipPreflight": true}}
		requireCode(t, makeRPCRequest(t, ts.server, "sendTransaction", params), SendTransactionPreflightFailure)
	})

	t.Run("BadSignature", func(t *testing.T) {
		forged := ts.NewTransaction(fixture.buyer, nil, system.Transfer(fixture.buyer.PublicKey(), types.Pubkey{5}, 1))
		forged.Signatures[0][0] ^= 0xff
		requireCode(t, makeRPCRequest(t, ts.server, "sendTransaction", []interface{}{encodeTx(forged)}), TransactionSignatureVerificationFailure)
	})

	t.Run("Malformed", func(t *testing.T) {
		requireCode(t, makeRPCRequest(t, ts.server, "sendTransaction", []interface{}{"not-a-transaction"}), InvalidParams)
	})
}

func TestSendTransaction_Failure(t *testing.T) {
	ts := newTestServer(t)
	fixture := ts.initializeSale(t)
	outsider := ts.NewWallet(banktest.LamportsPerSol)
	outsiderTokens := ts.CreateTokenAccount(outsider, fixture.mint, outsider.PublicKey())

	tx := ts.NewTransaction(outsider, nil,
		system.Transfer(outsider.PublicKey(), fixture.authority.PublicKey(), 1),
		fixture.buy(outsider.PublicKey(), outsiderTokens, 10),
	)
	wantErr := `{"InstructionError":[1,{"Custom":6002}]}`

	resp := makeRPCRequest(t, ts.server, "sendTransaction", []interface{}{encodeTx(tx)})
	requireCode(t, resp, SendTransactionPreflightFailure)
	data, err := json.Marshal(resp.Error.Data)
	require.NoError(t, err)
	var sim SimulationResult
	require.NoError(t, json.Unmarshal(data, &sim))
	simErr, err := json.Marshal(sim.Err)
	require.NoError(t, err)
	assert.JSONEq(t, wantErr, string(simErr))

	// A preflight failure executes nothing.
	missing := makeRPCRequest(t, ts.server, "getTransaction", []interface{}{tx.Signature().String()})
	require.Nil(t, missing.Error)
	assert.Nil(t, missing.Result)

	balance := ts.Balance(outsider.PublicKey())

	var signature string
	params := []interface{}{encodeTx(tx), map[string]interface{}{"skipPreflight": true}}
	decodeResult(t, makeRPCRequest(t, ts.server, "sendTransaction", params), &signature)
	assert.Equal(t, tx.Signature().String(), signature)
	assert.Equal(t, balance, ts.Balance(outsider.PublicKey()))

	t.Run("GetTransaction", func(t *testing.T) {
		var result TransactionResponse
		decodeResult(t, makeRPCRequest(t, ts.server, "getTransaction", []interface{}{signature}), &result)
		require.NotNil(t, result.Meta)
		metaErr, err := json.Marshal(result.Meta.Err)
		require.NoError(t, err)
		assert.JSONEq(t, wantErr, string(metaErr))
		assert.Zero(t, result.Meta.Fee)
		assert.Equal(t, string(EncodingBase64), result.Transaction[1])

		raw, err := DecodeAccountData(result.Transaction[0], EncodingBase64)
		require.NoError(t, err)
		assert.Equal(t, tx.Marshal(), raw)
	})

	t.Run("GetSignaturesForAddress", func(t *testing.T) {
		var result []SignatureInfo
		decodeResult(t, makeRPCRequest(t, ts.server, "getSignaturesForAddress", []interface{}{outsiderTokens.String()}), &result)
		require.NotEmpty(t, result)

		var found bool
		for _, info := range result {
			if info.Signature != signature {
				continue
			}
			found = true
			infoErr, err := json.Marshal(info.Err)
			require.NoError(t, err)
			assert.JSONEq(t, wantErr, string(infoErr))
		}
		assert.True(t, found, "failed transaction not indexed")
	})

	t.Run("GetSignatureStatuses", func(t *testing.T) {
		var result struct {
			Value []*SignatureStatus `json:"value"`
		}
		unknown := types.Signature{1, 2, 3}
		params := []interface{}{[]string{signature, unknown.String()}}
		decodeResult(t, makeRPCRequest(t, ts.server, "getSignatureStatuses", params), &result)
		require.Len(t, result.Value, 2)
		require.NotNil(t, result.Value[0])
		assert.Equal(t, "finalized", result.Value[0].ConfirmationStatus)
		assert.NotNil(t, result.Value[0].Err)
		assert.Nil(t, result.Value[1])
	})
}

func TestSimulateTransaction(t *testing.T) {
	ts := newTestServer(t)
	payer := ts.NewWallet(banktest.LamportsPerSol)
	tx := ts.NewTransaction(payer, nil, system.Transfer(payer.PublicKey(), types.Pubkey{8}, 1_000_000))

	var result struct {
		Value SimulationResult `json:"value"`
	}
	params := []interface{}{encodeTx(tx), map[string]interface{}{"sigVerify": true}}
	decodeResult(t, makeRPCRequest(t, ts.server, "simulateTransaction", params), &result)
	assert.Nil(t, result.Value.Err)
	assert.NotNil(t, result.Value.Logs)

	// Nothing is committed.
	assert.EqualValues(t, banktest.LamportsPerSol, ts.Balance(payer.PublicKey()))
	assert.Zero(t, ts.Balance(types.Pubkey{8}))
}

func TestHistoryDisabled(t *testing.T) {
	env := banktest.NewEnv(t)
	server := New(DefaultConfig(), env.Bank, nil)

	for _, method := range []string{"getTransaction", "getSignaturesForAddress", "getSignatureStatuses"} {
		requireCode(t, makeRPCRequest(t, server, method, []interface{}{"x"}), TransactionHistoryNotAvailable)
	}
}

func TestBlockhashMethods(t *testing.T) {
	ts := newTestServer(t)

	var latest struct {
		Value LatestBlockhash `json:"value"`
	}
	decodeResult(t, makeRPCRequest(t, ts.server, "getLatestBlockhash", nil), &latest)
	blockhash, lastValid := ts.Bank.LatestBlockhash()
	assert.Equal(t, blockhash.String(), latest.Value.Blockhash)
	assert.Equal(t, lastValid, latest.Value.LastValidBlockHeight)

	var valid struct {
		Value bool `json:"value"`
	}
	decodeResult(t, makeRPCRequest(t, ts.server, "isBlockhashValid", []interface{}{latest.Value.Blockhash}), &valid)
	assert.True(t, valid.Value)

	decodeResult(t, makeRPCRequest(t, ts.server, "isBlockhashValid", []interface{}{types.Hash{1}.String()}), &valid)
	assert.False(t, valid.Value)
}

func TestGetMinimumBalanceForRentExemption(t *testing.T) {
	ts := newTestServer(t)

	var rent uint64
	decodeResult(t, makeRPCRequest(t, ts.server, "getMinimumBalanceForRentExemption", []interface{}{165}), &rent)
	assert.EqualValues(t, (128+165)*6960, rent)
}

func TestGetTransactionCount(t *testing.T) {
	ts := newTestServer(t)
	payer := ts.NewWallet(banktest.LamportsPerSol)
	ts.MustProcess(payer, nil, system.Transfer(payer.PublicKey(), types.Pubkey{4}, 1_000_000))

	var count uint64
	decodeResult(t, makeRPCRequest(t, ts.server, "getTransactionCount", nil), &count)
	assert.Equal(t, ts.Bank.Stats().TransactionsProcessed, count)
	assert.NotZero(t, count)
}

func TestMethodNotFound(t *testing.T) {
	ts := newTestServer(t)

	resp := makeRPCRequest(t, ts.server, "nonExistentMethod", nil)
	requireCode(t, resp, MethodNotFound)
}

func TestInvalidParams(t *testing.T) {
	ts := newTestServer(t)

	// getBalance requires a pubkey
	requireCode(t, makeRPCRequest(t, ts.server, "getBalance", []interface{}{}), InvalidParams)
	requireCode(t, makeRPCRequest(t, ts.server, "getBalance", []interface{}{"not-base58!"}), InvalidParams)
	requireCode(t, makeRPCRequest(t, ts.server, "getBalance", map[string]string{"a": "b"}), InvalidParams)
}

func TestBatchRequest(t *testing.T) {
	ts := newTestServer(t)

	requests := []Request{
		{JSONRPC: JSONRPCVersion, ID: 1, Method: "getHealth"},
		{JSONRPC: JSONRPCVersion, ID: 2, Method: "getVersion"},
		{JSONRPC: "1.0", ID: 3, Method: "getSlot"},
	}

	body, err := json.Marshal(requests)
	require.NoError(t, err)
	httpReq := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	ts.server.handleRPC(rr, httpReq)

	var responses []Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &responses))
	require.Len(t, responses, 3)
	assert.Nil(t, responses[0].Error)
	assert.Nil(t, responses[1].Error)
	requireCode(t, &responses[2], InvalidRequest)
}

func TestRequestTooLarge(t *testing.T) {
	env := banktest.NewEnv(t)
	config := DefaultConfig()
	config.MaxRequestSize = 16
	server := New(config, env.Bank, nil)

	body := []byte(`{"jsonrpc":"2.0","id":1,"method":"getHealth"}`)
	rr := httptest.NewRecorder()
	server.handleRPC(rr, httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestCORSHeaders(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "http://example.com")

	rr := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "http://example.com", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestServerLifecycle(t *testing.T) {
	ts := newTestServer(t)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- ts.server.Serve(ctx, lis)
	}()

	body := []byte(`{"jsonrpc":"2.0","id":1,"method":"getHealth"}`)
	require.Eventually(t, func() bool {
		resp, err := http.Post("http://"+lis.Addr().String(), "application/json", bytes.NewReader(body))
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Error("Server did not stop in time")
	}
}

func TestEncoding(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5}

	for _, enc := range []Encoding{EncodingBase58, EncodingBase64, EncodingBase64Zstd} {
		encoded, err := EncodeAccountData(data, enc)
		require.NoError(t, err)
		require.Len(t, encoded, 2)
		assert.Equal(t, string(enc), encoded[1])

		decoded, err := DecodeAccountData(encoded[0], enc)
		require.NoError(t, err)
		assert.Equal(t, data, decoded, "encoding %s", enc)
	}

	_, err := EncodeAccountData(data, "jsonParsed")
	assert.Error(t, err)
}

func TestDataSlice(t *testing.T) {
	data := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}

	assert.Equal(t, []byte{2, 3, 4, 5}, ApplyDataSlice(data, &DataSlice{Offset: 2, Length: 4}))
	assert.Equal(t, data, ApplyDataSlice(data, nil))
	assert.Empty(t, ApplyDataSlice(data, &DataSlice{Offset: 100, Length: 4}))
	assert.Equal(t, []byte{8, 9}, ApplyDataSlice(data, &DataSlice{Offset: 8, Length: 10}))
}

func TestFormatTokenAmount(t *testing.T) {
	tests := []struct {
		amount   uint64
		decimals uint8
		want     string
	}{
		{0, 0, "0"},
		{0, 6, "0"},
		{42, 0, "42"},
		{1, 6, "0.000001"},
		{1_500_000, 6, "1.5"},
		{2_000_000, 6, "2"},
		{123_456_789, 3, "123456.789"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatTokenAmount(tt.amount, tt.decimals), "%d/%d", tt.amount, tt.decimals)
	}
}
