// Package ledger adapts a go-ethereum compatible node to the operations the
// registry middleware needs: contract calls, node-signed transactions,
// account unlocking, log queries and log subscriptions.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/chainsafe/registry-middleware/pkg/config"
)

// ErrDeployFailed is returned when a contract creation receipt reports failure.
var ErrDeployFailed = errors.New("contract deployment failed")

// TransactOpts carries the sender and gas allowance of a node-signed transaction.
type TransactOpts struct {
	From common.Address
	Gas  uint64
}

// logStream is the push side of a WebSocket connection.
type logStream interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	Close()
}

// Client represents a ledger node client
type Client struct {
	config    *config.LedgerConfig
	rpcClient *rpc.Client
	client    *ethclient.Client
	wsClient  logStream
	logger    *zap.Logger
}

// NewClient dials the node RPC endpoint and, when configured, its WebSocket endpoint.
func NewClient(ctx context.Context, cfg *config.LedgerConfig, logger *zap.Logger) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ledger RPC: %w", err)
	}

	c := &Client{
		config:    cfg,
		rpcClient: rpcClient,
		client:    ethclient.NewClient(rpcClient),
		logger:    logger,
	}

	// WebSocket is only used for log subscriptions
	if cfg.WSURL != "" {
		wsClient, err := ethclient.DialContext(ctx, cfg.WSURL)
		if err != nil {
			logger.Warn("Failed to connect to ledger WebSocket, falling back to polling",
				zap.Error(err))
		} else {
			c.wsClient = wsClient
		}
	}

	logger.Info("Connected to ledger",
		zap.String("rpc_url", cfg.RPCURL),
		zap.Bool("websocket", c.wsClient != nil))

	return c, nil
}

// Close closes the ledger clients
func (c *Client) Close() {
	if c.client != nil {
		c.client.Close()
	}
	if c.wsClient != nil {
		c.wsClient.Close()
	}
}

// BlockNumber returns the latest block number
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block: %w", err)
	}
	return n, nil
}

// Call performs a read-only contract call from the given account and returns the decoded outputs.
func (c *Client) Call(
	ctx context.Context,
	from, to common.Address,
	contract *abi.ABI,
	method string,
	args ...interface{},
) ([]interface{}, error) {
	input, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	output, err := c.client.CallContract(ctx, ethereum.CallMsg{From: from, To: &to, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, to.Hex(), err)
	}

	values, err := contract.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

// transactionArgs is the eth_sendTransaction request object.
type transactionArgs struct {
	From common.Address  `json:"from"`
	To   *common.Address `json:"to,omitempty"`
	Gas  hexutil.Uint64  `json:"gas"`
	Data hexutil.Bytes   `json:"data"`
}

// SendTransaction submits a contract method call signed by the node-held account
// and returns the transaction hash once the node accepts it into its pool.
func (c *Client) SendTransaction(
	ctx context.Context,
	opts TransactOpts,
	to common.Address,
	contract *abi.ABI,
	method string,
	args ...interface{},
) (common.Hash, error) {
	input, err := contract.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack %s: %w", method, err)
	}

	hash, err := c.send(ctx, transactionArgs{From: opts.From, To: &to, Gas: hexutil.Uint64(opts.Gas), Data: input})
	if err != nil {
		return common.Hash{}, fmt.Errorf("send %s to %s: %w", method, to.Hex(), err)
	}

	c.logger.Debug("Transaction submitted",
		zap.String("method", method),
		zap.String("to", to.Hex()),
		zap.String("tx_hash", hash.Hex()))

	return hash, nil
}

func (c *Client) send(ctx context.Context, args transactionArgs) (common.Hash, error) {
	var hash common.Hash
	if err := c.rpcClient.CallContext(ctx, &hash, "eth_sendTransaction", args); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

// UnlockAccount unlocks a node-held account for the given duration.
func (c *Client) UnlockAccount(ctx context.Context, account common.Address, passphrase string, duration time.Duration) (bool, error) {
	var ok bool
	seconds := uint64(duration / time.Second)
	if err := c.rpcClient.CallContext(ctx, &ok, "personal_unlockAccount", account, passphrase, seconds); err != nil {
		return false, fmt.Errorf("unlock account %s: %w", account.Hex(), err)
	}
	return ok, nil
}

// EstimateGas estimates the gas needed to create a contract from the given bytecode.
func (c *Client) EstimateGas(ctx context.Context, from common.Address, code []byte) (uint64, error) {
	gas, err := c.client.EstimateGas(ctx, ethereum.CallMsg{From: from, Data: code})
	if err != nil {
		return 0, fmt.Errorf("estimate gas: %w", err)
	}
	return gas, nil
}

// DeployContract submits a contract creation transaction.
func (c *Client) DeployContract(ctx context.Context, opts TransactOpts, code []byte) (common.Hash, error) {
	hash, err := c.send(ctx, transactionArgs{From: opts.From, Gas: hexutil.Uint64(opts.Gas), Data: code})
	if err != nil {
		return common.Hash{}, fmt.Errorf("send contract creation: %w", err)
	}
	c.logger.Info("Contract creation submitted",
		zap.String("tx_hash", hash.Hex()),
		zap.Uint64("gas", opts.Gas))
	return hash, nil
}

// WaitDeployed polls for the creation receipt and returns the new contract address.
func (c *Client) WaitDeployed(ctx context.Context, txHash common.Hash) (common.Address, error) {
	ticker := time.NewTicker(c.config.ReceiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.client.TransactionReceipt(ctx, txHash)
		switch {
		case err == nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return common.Address{}, fmt.Errorf("%w: tx %s", ErrDeployFailed, txHash.Hex())
			}
			return receipt.ContractAddress, nil
		case !errors.Is(err, ethereum.NotFound):
			c.logger.Warn("Failed to fetch receipt", zap.String("tx_hash", txHash.Hex()), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return common.Address{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// FilterLogs performs a one-shot historical log query.
func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	logs, err := c.client.FilterLogs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("filter logs: %w", err)
	}
	return logs, nil
}

// HistoryQuery builds an address-scoped query from a block to the latest block.
func HistoryQuery(addr common.Address, fromBlock uint64) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		Addresses: []common.Address{addr},
	}
}
