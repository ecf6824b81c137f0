package node

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/x1-sale/internal/types"
	"github.com/fortiblox/x1-sale/pkg/config"
	"github.com/fortiblox/x1-sale/pkg/geyser"
	"github.com/fortiblox/x1-sale/pkg/svm/programs/system"
	"github.com/fortiblox/x1-sale/pkg/transaction"
)

const genesisLamports = 10_000_000_000

func testConfig(t *testing.T, wallet types.Keypair) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Ledger.DataDir = t.TempDir()
	cfg.Journal.Path = filepath.Join(cfg.Ledger.DataDir, "journal.db")
	cfg.RPC.Addr = "127.0.0.1:0"
	cfg.Stream.Addr = "127.0.0.1:0"
	cfg.Genesis.Accounts = []config.GenesisAccount{
		{Pubkey: wallet.PublicKey().String(), Lamports: genesisLamports},
	}
	return &cfg
}

func newWallet(t *testing.T) types.Keypair {
	kp, err := types.NewKeypair()
	require.NoError(t, err)
	return kp
}

func transfer(t *testing.T, n *Node, from types.Keypair, to types.Pubkey, lamports uint64) types.Signature {
	t.Helper()

	blockhash, _ := n.Bank().LatestBlockhash()
	tx := transaction.NewTransaction(from.PublicKey(), blockhash, system.Transfer(from.PublicKey(), to, lamports))
	require.NoError(t, tx.Sign(from))

	result, err := n.Bank().ProcessTransaction(context.Background(), &tx)
	require.NoError(t, err)
	require.NoError(t, result.Err)
	return result.Signature
}

func TestNew_Genesis(t *testing.T) {
	wallet := newWallet(t)
	n, err := New(testConfig(t, wallet))
	require.NoError(t, err)
	defer n.Close()

	balance, err := n.Bank().GetBalance(wallet.PublicKey())
	require.NoError(t, err)
	assert.EqualValues(t, genesisLamports, balance)

	status := n.Status()
	assert.False(t, status.IsRunning)
	assert.EqualValues(t, 1, status.AccountsCount)
	assert.NotNil(t, status.JournalStats)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig(t, newWallet(t))
	cfg.Ledger.Storage = "sqlite"

	_, err := New(cfg)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestNew_JournalDisabled(t *testing.T) {
	wallet := newWallet(t)
	cfg := testConfig(t, wallet)
	cfg.Journal.Enabled = false

	n, err := New(cfg)
	require.NoError(t, err)
	defer n.Close()

	assert.Nil(t, n.Journal())
	transfer(t, n, wallet, types.Pubkey{1}, 1_000_000)
	assert.Nil(t, n.Status().JournalStats)
}

func TestNode_Run(t *testing.T) {
	wallet := newWallet(t)
	n, err := New(testConfig(t, wallet))
	require.NoError(t, err)
	defer n.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- n.Run(ctx) }()

	require.Eventually(t, func() bool {
		return n.RPCAddr() != "" && n.StreamAddr() != ""
	}, 5*time.Second, 10*time.Millisecond)
	assert.True(t, n.Status().IsRunning)
	assert.ErrorIs(t, n.Run(ctx), ErrAlreadyRunning)

	client, err := geyser.NewClient(geyser.ClientConfig{Endpoint: n.StreamAddr()})
	require.NoError(t, err)
	defer client.Close()

	subCtx, subCancel := context.WithCancel(ctx)
	defer subCancel()
	events, err := client.Subscribe(subCtx, geyser.Filter{IncludeTransactions: true})
	require.NoError(t, err)

	to := types.Pubkey{42}
	sig := transfer(t, n, wallet, to, 1_000_000)

	select {
	case ev := <-events:
		require.NotNil(t, ev)
		require.Equal(t, geyser.KindTransaction, ev.Kind)
		assert.Equal(t, sig, ev.Transaction.Signature)
		assert.True(t, ev.Transaction.Success)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "getBalance",
		"params":  []interface{}{to.String()},
	})
	require.NoError(t, err)
	resp, err := http.Post("http://"+n.RPCAddr(), "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var rpcResp struct {
		Result struct {
			Value uint64 `json:"value"`
		} `json:"result"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rpcResp))
	assert.EqualValues(t, 1_000_000, rpcResp.Result.Value)

	record, err := n.Journal().GetTransaction(sig)
	require.NoError(t, err)
	assert.True(t, record.Success)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("node did not stop in time")
	}
	assert.False(t, n.Status().IsRunning)
}

func TestNode_RunAfterClose(t *testing.T) {
	n, err := New(testConfig(t, newWallet(t)))
	require.NoError(t, err)
	require.NoError(t, n.Close())
	require.NoError(t, n.Close())

	assert.ErrorIs(t, n.Run(context.Background()), ErrClosed)
}

func TestNode_BadgerResume(t *testing.T) {
	wallet := newWallet(t)
	cfg := testConfig(t, wallet)
	cfg.Ledger.Storage = config.StorageBadger

	n, err := New(cfg)
	require.NoError(t, err)
	transfer(t, n, wallet, types.Pubkey{3}, 2_000_000)
	slot := n.Bank().Slot()
	require.NoError(t, n.Close())

	// Genesis is not applied over an existing ledger.
	cfg.Genesis.Accounts[0].Lamports = 1
	n, err = New(cfg)
	require.NoError(t, err)
	defer n.Close()

	assert.Equal(t, slot, n.Bank().Slot())
	balance, err := n.Bank().GetBalance(types.Pubkey{3})
	require.NoError(t, err)
	assert.EqualValues(t, 2_000_000, balance)

	balance, err = n.Bank().GetBalance(wallet.PublicKey())
	require.NoError(t, err)
	assert.Greater(t, balance, uint64(1))
}

func TestNode_SnapshotOnShutdown(t *testing.T) {
	wallet := newWallet(t)
	cfg := testConfig(t, wallet)
	cfg.Ledger.SnapshotPath = filepath.Join(cfg.Ledger.DataDir, "snapshots", "ledger.x1snap")
	cfg.Ledger.SnapshotOnShutdown = true

	n, err := New(cfg)
	require.NoError(t, err)
	transfer(t, n, wallet, types.Pubkey{4}, 3_000_000)
	require.NoError(t, n.Close())

	// A fresh memory store restores the snapshot instead of genesis.
	cfg.Journal.Path = filepath.Join(t.TempDir(), "journal.db")
	cfg.Genesis.Accounts = nil
	n, err = New(cfg)
	require.NoError(t, err)
	defer n.Close()

	balance, err := n.Bank().GetBalance(types.Pubkey{4})
	require.NoError(t, err)
	assert.EqualValues(t, 3_000_000, balance)
}
