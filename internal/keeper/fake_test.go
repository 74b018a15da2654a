package keeper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/psantana5/epoch-keeper/pkg/ledger"
	"github.com/psantana5/epoch-keeper/pkg/logging"
	"github.com/psantana5/epoch-keeper/pkg/models"
)

var (
	vaultAddr   = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	sourceAddr  = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
	managerAddr = common.HexToAddress("0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0")
	keeperAddr  = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

	testNow = time.Unix(1_700_000_000, 0).UTC()
)

// fakeLedger is an in-memory ledger.Client recording every call it receives
type fakeLedger struct {
	operating uint64
	target    uint64
	epoch     ledger.EpochTuple

	readErrs   map[string]error
	readPanics map[string]bool
	simErrs    map[string]error
	sendErr    error
	confirmErr error
	reverted   bool

	calls []string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		operating: 550,
		target:    550,
		epoch:     openEpoch(7, testNow.Add(time.Hour)),
		readErrs:  map[string]error{},
		simErrs:   map[string]error{},
	}
}

func openEpoch(id uint64, end time.Time) ledger.EpochTuple {
	return ledger.EpochTuple{
		Id:                      new(big.Int).SetUint64(id),
		StartTime:               uint64(end.Add(-7 * 24 * time.Hour).Unix()),
		EndTime:                 uint64(end.Unix()),
		State:                   uint8(models.EpochStateOpen),
		TotalDeposits:           big.NewInt(1_000_000),
		TotalWithdrawalRequests: big.NewInt(0),
	}
}

func settledEpoch(id uint64, end time.Time) ledger.EpochTuple {
	t := openEpoch(id, end)
	t.State = uint8(models.EpochStateSettled)
	t.Settled = true
	return t
}

func (f *fakeLedger) record(kind, method string) {
	f.calls = append(f.calls, kind+":"+method)
}

func (f *fakeLedger) count(kind string) int {
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, kind+":") {
			n++
		}
	}
	return n
}

func (f *fakeLedger) Read(ctx context.Context, call ledger.Call) ([]any, error) {
	f.record("read", call.Method)
	if f.readPanics[call.Method] {
		panic("decoder exploded on " + call.Method)
	}
	if err := f.readErrs[call.Method]; err != nil {
		return nil, &ledger.ReadError{Call: call, Err: err}
	}

	switch call.Method {
	case ledger.MethodInterestRate:
		return []any{new(big.Int).SetUint64(f.operating)}, nil
	case ledger.MethodGetRate:
		return []any{new(big.Int).SetUint64(f.target)}, nil
	case ledger.MethodCurrentEpochID:
		return []any{new(big.Int).Set(f.epoch.Id)}, nil
	case ledger.MethodGetEpoch:
		if id := call.Args[0].(*big.Int); id.Cmp(f.epoch.Id) != 0 {
			return nil, &ledger.ReadError{Call: call, Err: fmt.Errorf("unknown epoch %s", id)}
		}
		return []any{f.epoch}, nil
	}
	return nil, &ledger.ReadError{Call: call, Err: errors.New("unknown method")}
}

func (f *fakeLedger) Simulate(ctx context.Context, call ledger.Call, from common.Address) error {
	f.record("simulate", call.Method)
	return f.simErrs[call.Method]
}

func (f *fakeLedger) Send(ctx context.Context, call ledger.Call) (common.Hash, error) {
	f.record("send", call.Method)
	if f.sendErr != nil {
		return common.Hash{}, f.sendErr
	}
	if !f.reverted && f.confirmErr == nil {
		switch call.Method {
		case ledger.MethodSyncInterestRate:
			f.operating = f.target
		case ledger.MethodProcessEpoch:
			f.epoch.Settled = true
			f.epoch.State = uint8(models.EpochStateSettled)
		}
	}
	return common.HexToHash(fmt.Sprintf("0x%064x", len(f.calls))), nil
}

func (f *fakeLedger) AwaitConfirmation(ctx context.Context, tx common.Hash) (*ledger.Receipt, error) {
	f.record("await", tx.Hex())
	if f.confirmErr != nil {
		return nil, &ledger.ConfirmationError{TxHash: tx, Err: f.confirmErr}
	}
	return &ledger.Receipt{TxHash: tx, Success: !f.reverted, Block: 101, GasUsed: 52_000}, nil
}

func (f *fakeLedger) Sender() common.Address {
	return keeperAddr
}

// clockLedger adds the ledger's own time to fakeLedger
type clockLedger struct {
	*fakeLedger
	blockTime time.Time
	err       error
}

func (c *clockLedger) BlockTime(ctx context.Context) (time.Time, error) {
	return c.blockTime, c.err
}

func simulationFailure(method, reason string) error {
	return &ledger.SimulationError{
		Call:   ledger.Call{Method: method},
		Detail: "execution reverted: " + reason,
		Reason: reason,
		Err:    errors.New("execution reverted"),
	}
}

func newTestKeeper(client ledger.Client, dryRun bool) (*Keeper, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := logging.NewLogger(logging.DEBUG, false)
	logger.SetOutput(&buf)

	k := New(client, Options{
		Vault:        vaultAddr,
		RateSource:   sourceAddr,
		EpochManager: managerAddr,
		DryRun:       dryRun,
		Logger:       logger,
		TxURL: func(h common.Hash) string {
			return "https://explorer.example.org/tx/" + h.Hex()
		},
		Now: func() time.Time { return testNow },
	})
	return k, &buf
}
