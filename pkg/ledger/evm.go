package ledger

import (
	"context"
	"crypto/ecdsa"
	"crypto/tls"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/psantana5/epoch-keeper/pkg/ratelimit"
	"github.com/psantana5/epoch-keeper/pkg/retry"
)

// Options configures an EVMClient
type Options struct {
	URL        string
	ChainID    *big.Int          // Nil means ask the endpoint
	PrivateKey *ecdsa.PrivateKey // Nil makes the client read-only
	TLS        *tls.Config

	CallTimeout    time.Duration // Per RPC round-trip
	ConfirmTimeout time.Duration // Upper bound for AwaitConfirmation
	PollInterval   time.Duration // Receipt polling interval

	Retry             retry.Config
	RequestsPerSecond float64 // <= 0 disables client-side throttling
	Burst             int
}

// DefaultOptions returns conservative settings for a public RPC endpoint
func DefaultOptions(url string) Options {
	return Options{
		URL:               url,
		CallTimeout:       30 * time.Second,
		ConfirmTimeout:    3 * time.Minute,
		PollInterval:      2 * time.Second,
		Retry:             retry.DefaultConfig(),
		RequestsPerSecond: 10,
		Burst:             5,
	}
}

// EVMClient implements Client over Ethereum JSON-RPC
type EVMClient struct {
	rpc     *rpc.Client
	eth     *ethclient.Client
	abi     abi.ABI
	opts    Options
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
	limiter *ratelimit.Limiter
}

// Dial connects to the endpoint and resolves the chain id
func Dial(ctx context.Context, opts Options) (*EVMClient, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}

	httpClient := &http.Client{}
	if opts.TLS != nil {
		httpClient.Transport = &http.Transport{TLSClientConfig: opts.TLS}
	}

	rpcClient, err := rpc.DialOptions(ctx, opts.URL, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", opts.URL, err)
	}

	c := newEVMClient(rpcClient, opts)

	if c.chainID == nil {
		var chainID *big.Int
		err := c.withRetry(ctx, "eth_chainId", func(ctx context.Context) error {
			var err error
			chainID, err = c.eth.ChainID(ctx)
			return err
		})
		if err != nil {
			rpcClient.Close()
			return nil, fmt.Errorf("failed to detect chain id: %w", err)
		}
		c.chainID = chainID
	}

	return c, nil
}

func newEVMClient(rpcClient *rpc.Client, opts Options) *EVMClient {
	c := &EVMClient{
		rpc:     rpcClient,
		eth:     ethclient.NewClient(rpcClient),
		abi:     KeeperABI,
		opts:    opts,
		key:     opts.PrivateKey,
		chainID: opts.ChainID,
		limiter: ratelimit.NewLimiter(opts.RequestsPerSecond, opts.Burst),
	}
	if c.key != nil {
		c.from = crypto.PubkeyToAddress(c.key.PublicKey)
	}
	if c.opts.PollInterval <= 0 {
		c.opts.PollInterval = 2 * time.Second
	}
	return c
}

// ChainID returns the chain the client signs for
func (c *EVMClient) ChainID() *big.Int {
	return c.chainID
}

// Sender returns the signing address
func (c *EVMClient) Sender() common.Address {
	return c.from
}

// Close releases the underlying connection
func (c *EVMClient) Close() error {
	c.rpc.Close()
	return nil
}

// Read executes a view call and decodes its outputs
func (c *EVMClient) Read(ctx context.Context, call Call) ([]any, error) {
	data, err := c.abi.Pack(call.Method, call.Args...)
	if err != nil {
		return nil, &ReadError{Call: call, Err: fmt.Errorf("encode: %w", err)}
	}

	var out []byte
	err = c.withRetry(ctx, "eth_call", func(ctx context.Context) error {
		var err error
		out, err = c.eth.CallContract(ctx, ethereum.CallMsg{To: &call.To, Data: data}, nil)
		return err
	})
	if err != nil {
		return nil, &ReadError{Call: call, Err: err}
	}

	values, err := c.abi.Unpack(call.Method, out)
	if err != nil {
		return nil, &ReadError{Call: call, Err: fmt.Errorf("decode: %w", err)}
	}
	return values, nil
}

// Simulate runs call through eth_call as from. Reverts are returned as
// *SimulationError carrying the revert payload for classification.
func (c *EVMClient) Simulate(ctx context.Context, call Call, from common.Address) error {
	data, err := c.abi.Pack(call.Method, call.Args...)
	if err != nil {
		return &SimulationError{Call: call, Detail: fmt.Sprintf("encode: %v", err), Err: err}
	}

	err = c.withRetry(ctx, "eth_call", func(ctx context.Context) error {
		_, err := c.eth.CallContract(ctx, ethereum.CallMsg{From: from, To: &call.To, Data: data}, nil)
		return err
	})
	if err != nil {
		detail, reason, revertData := revertDetails(err)
		return &SimulationError{Call: call, Detail: detail, Reason: reason, RevertData: revertData, Err: err}
	}
	return nil
}

// Send signs and broadcasts call. It is never retried: a timed out broadcast
// may still land, and a second one would pay twice.
func (c *EVMClient) Send(ctx context.Context, call Call) (common.Hash, error) {
	if c.key == nil {
		return common.Hash{}, &SendError{Call: call, Detail: ErrReadOnly.Error(), Err: ErrReadOnly}
	}

	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return common.Hash{}, &SendError{Call: call, Detail: err.Error(), Err: err}
	}

	if err := c.limiter.Wait(ctx, "eth_sendRawTransaction"); err != nil {
		return common.Hash{}, &SendError{Call: call, Detail: err.Error(), Err: err}
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()
	opts.Context = callCtx

	contract := bind.NewBoundContract(call.To, c.abi, c.eth, c.eth, c.eth)
	tx, err := contract.Transact(opts, call.Method, call.Args...)
	if err != nil {
		detail, reason, revertData := revertDetails(err)
		return common.Hash{}, &SendError{Call: call, Detail: detail, Reason: reason, RevertData: revertData, Err: err}
	}
	return tx.Hash(), nil
}

// AwaitConfirmation polls for the receipt until it is mined or ConfirmTimeout
// elapses. Transient polling errors are tolerated.
func (c *EVMClient) AwaitConfirmation(ctx context.Context, txHash common.Hash) (*Receipt, error) {
	if c.opts.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.ConfirmTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.receipt(ctx, txHash)
		switch {
		case err == nil:
			return &Receipt{
				TxHash:  txHash,
				Success: receipt.Status == types.ReceiptStatusSuccessful,
				Block:   receipt.BlockNumber.Uint64(),
				GasUsed: receipt.GasUsed,
			}, nil
		case errors.Is(err, ethereum.NotFound), retry.IsRetryable(err):
			// Still pending, or a blip on the endpoint
		default:
			return nil, &ConfirmationError{TxHash: txHash, Err: err}
		}

		select {
		case <-ctx.Done():
			return nil, &ConfirmationError{TxHash: txHash, Err: ctx.Err()}
		case <-ticker.C:
		}
	}
}

// BlockTime returns the timestamp of the latest block
func (c *EVMClient) BlockTime(ctx context.Context) (time.Time, error) {
	var header *types.Header
	err := c.withRetry(ctx, "eth_getBlockByNumber", func(ctx context.Context) error {
		var err error
		header, err = c.eth.HeaderByNumber(ctx, nil)
		return err
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read latest block: %w", err)
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil
}

func (c *EVMClient) receipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if err := c.limiter.Wait(ctx, "eth_getTransactionReceipt"); err != nil {
		return nil, err
	}
	callCtx, cancel := c.callContext(ctx)
	defer cancel()
	return c.eth.TransactionReceipt(callCtx, txHash)
}

// withRetry throttles, bounds and retries one idempotent RPC operation
func (c *EVMClient) withRetry(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, c.opts.Retry, func() error {
		if err := c.limiter.Wait(ctx, method); err != nil {
			return err
		}
		callCtx, cancel := c.callContext(ctx)
		defer cancel()
		return fn(callCtx)
	})
}

func (c *EVMClient) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.opts.CallTimeout)
}
