package ledger

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/psantana5/epoch-keeper/pkg/models"
)

// Contract methods the keeper touches, spread across three contracts:
// the vault (operating rate), the rate source (target rate) and the epoch manager.
const (
	MethodInterestRate     = "interestRate"
	MethodSyncInterestRate = "syncInterestRate"
	MethodGetRate          = "getRate"
	MethodCurrentEpochID   = "currentEpochId"
	MethodGetEpoch         = "getEpoch"
	MethodProcessEpoch     = "processEpoch"
)

const keeperABIJSON = `[
  {"type":"function","name":"interestRate","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"syncInterestRate","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"getRate","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"currentEpochId","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getEpoch","stateMutability":"view","inputs":[{"name":"epochId","type":"uint256"}],"outputs":[
    {"name":"","type":"tuple","components":[
      {"name":"id","type":"uint256"},
      {"name":"startTime","type":"uint64"},
      {"name":"endTime","type":"uint64"},
      {"name":"state","type":"uint8"},
      {"name":"totalDeposits","type":"uint256"},
      {"name":"totalWithdrawalRequests","type":"uint256"},
      {"name":"settled","type":"bool"}
    ]}
  ]},
  {"type":"function","name":"processEpoch","stateMutability":"nonpayable","inputs":[],"outputs":[]}
]`

// KeeperABI is the merged ABI of every method in this file
var KeeperABI = mustParseABI(keeperABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("invalid keeper ABI: %v", err))
	}
	return parsed
}

// EpochTuple is the ABI shape of getEpoch's return value. Field order must
// match the tuple components.
type EpochTuple struct {
	Id                      *big.Int
	StartTime               uint64
	EndTime                 uint64
	State                   uint8
	TotalDeposits           *big.Int
	TotalWithdrawalRequests *big.Int
	Settled                 bool
}

// Record converts the tuple into the keeper's epoch model
func (t EpochTuple) Record() (models.EpochRecord, error) {
	if t.Id == nil || !t.Id.IsUint64() {
		return models.EpochRecord{}, fmt.Errorf("epoch id %v out of range", t.Id)
	}
	r := models.EpochRecord{
		ID:                      t.Id.Uint64(),
		StartTime:               time.Unix(int64(t.StartTime), 0).UTC(),
		EndTime:                 time.Unix(int64(t.EndTime), 0).UTC(),
		State:                   models.EpochState(t.State),
		TotalDeposits:           orZero(t.TotalDeposits),
		TotalWithdrawalRequests: orZero(t.TotalWithdrawalRequests),
		Settled:                 t.Settled,
	}
	return r, nil
}

// DecodeUint returns the single uint256 output of a view call
func DecodeUint(values []any) (*big.Int, error) {
	if len(values) != 1 {
		return nil, fmt.Errorf("expected 1 output, got %d", len(values))
	}
	v, ok := values[0].(*big.Int)
	if !ok || v == nil {
		return nil, fmt.Errorf("expected uint256 output, got %T", values[0])
	}
	return v, nil
}

// DecodeRate returns a rate output, rejecting values that overflow uint64
func DecodeRate(values []any) (models.Rate, error) {
	v, err := DecodeUint(values)
	if err != nil {
		return 0, err
	}
	if v.Sign() < 0 || !v.IsUint64() {
		return 0, fmt.Errorf("rate %s out of range", v)
	}
	return models.Rate(v.Uint64()), nil
}

// DecodeEpoch returns the EpochRecord output of getEpoch
func DecodeEpoch(values []any) (rec models.EpochRecord, err error) {
	if len(values) != 1 {
		return rec, fmt.Errorf("expected 1 output, got %d", len(values))
	}

	if t, ok := values[0].(EpochTuple); ok {
		return t.Record()
	}

	// abi.ConvertType panics on shape mismatch
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unexpected epoch tuple %T: %v", values[0], r)
		}
	}()
	t := *abi.ConvertType(values[0], new(EpochTuple)).(*EpochTuple)
	return t.Record()
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
