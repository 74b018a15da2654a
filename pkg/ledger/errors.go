package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// ErrReadOnly is returned by Send when the client has no signing key
var ErrReadOnly = errors.New("ledger client has no signing key")

// ReadError wraps a failed view call
type ReadError struct {
	Call Call
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s failed: %v", e.Call, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// SimulationError wraps a failed simulation. Detail carries everything the
// node told us, RevertData the raw revert payload when one was returned.
type SimulationError struct {
	Call       Call
	Detail     string
	Reason     string // Decoded Error(string) reason, if any
	RevertData []byte
	Err        error
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("simulate %s failed: %s", e.Call, e.Detail)
}

func (e *SimulationError) Unwrap() error {
	return e.Err
}

// SendError wraps a failed broadcast
type SendError struct {
	Call       Call
	Detail     string
	Reason     string
	RevertData []byte
	Err        error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %s failed: %s", e.Call, e.Detail)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// ConfirmationError is returned when waiting for a receipt fails. The
// transaction may or may not have been mined.
type ConfirmationError struct {
	TxHash common.Hash
	Err    error
}

func (e *ConfirmationError) Error() string {
	return fmt.Sprintf("waiting for %s failed: %v", e.TxHash.Hex(), e.Err)
}

func (e *ConfirmationError) Unwrap() error {
	return e.Err
}

// FailureDetail extracts the classifiable parts of a simulation or send error
func FailureDetail(err error) (detail, reason string, revertData []byte) {
	var simErr *SimulationError
	if errors.As(err, &simErr) {
		return simErr.Detail, simErr.Reason, simErr.RevertData
	}
	var sendErr *SendError
	if errors.As(err, &sendErr) {
		return sendErr.Detail, sendErr.Reason, sendErr.RevertData
	}
	if err == nil {
		return "", "", nil
	}
	return err.Error(), "", nil
}

// revertDetails pulls revert data and a decoded reason out of an RPC error
func revertDetails(err error) (detail, reason string, data []byte) {
	detail = err.Error()

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		switch v := dataErr.ErrorData().(type) {
		case string:
			if decoded, decErr := hexutil.Decode(v); decErr == nil {
				data = decoded
			}
		case []byte:
			data = v
		}
	}

	if len(data) > 0 {
		if r, unpackErr := abi.UnpackRevert(data); unpackErr == nil {
			reason = r
		}
	}

	if reason == "" {
		// Some nodes only report "execution reverted: <reason>" in the message
		if idx := strings.Index(detail, "execution reverted: "); idx >= 0 {
			reason = strings.TrimSpace(detail[idx+len("execution reverted: "):])
		}
	}

	return detail, reason, data
}
