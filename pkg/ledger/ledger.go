// Package ledger is the keeper's only view of the remote chain: read a value,
// simulate a write, send a write, wait for it to be mined.
//
// The keeper logic depends on the Client interface alone. EVMClient is the
// production implementation over Ethereum JSON-RPC; it owns signing, transport,
// rate limiting and network-level retries so callers never have to.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Call is a contract method invocation. Method names resolve against KeeperABI.
type Call struct {
	To     common.Address
	Method string
	Args   []any
}

func (c Call) String() string {
	return fmt.Sprintf("%s.%s", c.To.Hex(), c.Method)
}

// Receipt is the mined result of a sent transaction
type Receipt struct {
	TxHash  common.Hash
	Success bool
	Block   uint64
	GasUsed uint64
}

// Client is the read/write contract the keeper consumes
type Client interface {
	// Read executes a view call and returns the decoded outputs
	Read(ctx context.Context, call Call) ([]any, error)

	// Simulate executes call against current state as from, without committing
	Simulate(ctx context.Context, call Call, from common.Address) error

	// Send signs and broadcasts call, returning the transaction hash
	Send(ctx context.Context, call Call) (common.Hash, error)

	// AwaitConfirmation blocks until the transaction is mined
	AwaitConfirmation(ctx context.Context, tx common.Hash) (*Receipt, error)

	// Sender is the signing identity, the zero address for read-only clients
	Sender() common.Address
}

// BlockClock is implemented by clients that can report the ledger's own time
type BlockClock interface {
	BlockTime(ctx context.Context) (time.Time, error)
}
