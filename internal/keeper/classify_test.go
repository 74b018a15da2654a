package keeper

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/psantana5/epoch-keeper/pkg/ledger"
	"github.com/psantana5/epoch-keeper/pkg/models"
)

func TestClassify(t *testing.T) {
	c := DefaultClassifier()

	authData := append(selector("AccessControlUnauthorizedAccount(address,bytes32)"), make([]byte, 64)...)

	tests := []struct {
		name     string
		failure  Failure
		expected models.ErrorCategory
	}{
		{"reason insufficient balance", Failure{Reason: "Insufficient balance"}, models.CategoryInsufficientFunds},
		{"detail insufficient funds", Failure{Detail: "execution reverted: Vault: insufficient funds to pay yield"}, models.CategoryInsufficientFunds},
		{"erc20 transfer", Failure{Reason: "ERC20: transfer amount exceeds balance"}, models.CategoryInsufficientFunds},
		{"custom insufficient balance", Failure{RevertData: selector("InsufficientBalance()")}, models.CategoryInsufficientFunds},
		{"signer gas shortfall", Failure{Detail: "insufficient funds for gas * price + value: balance 0"}, models.CategoryUnknown},
		{"epoch not ended", Failure{Reason: "Epoch not ended"}, models.CategoryPreconditionNotYetMet},
		{"custom epoch not ended", Failure{RevertData: append(selector("EpochNotEnded(uint256)"), make([]byte, 32)...)}, models.CategoryPreconditionNotYetMet},
		{"already settled", Failure{Detail: "execution reverted: epoch already settled"}, models.CategoryPreconditionNotYetMet},
		{"ownable", Failure{Reason: "Ownable: caller is not the owner"}, models.CategoryUnauthorized},
		{"access control custom", Failure{RevertData: authData}, models.CategoryUnauthorized},
		{"unauthorized text", Failure{Detail: "execution reverted: Unauthorized"}, models.CategoryUnauthorized},
		{"unknown", Failure{Detail: "execution reverted"}, models.CategoryUnknown},
		{"empty", Failure{}, models.CategoryUnknown},
		{"short revert data", Failure{RevertData: []byte{0x01}}, models.CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, rule := c.Classify(tt.failure)
			if got != tt.expected {
				t.Errorf("Classify(%+v) = %q (rule %s), expected %q", tt.failure, got, rule, tt.expected)
			}
		})
	}
}

func TestClassifyFirstMatchWins(t *testing.T) {
	// Both insufficient-funds and unauthorized phrases: the earlier rule wins
	f := Failure{Detail: "unauthorized: insufficient balance"}
	got, rule := DefaultClassifier().Classify(f)
	if got != models.CategoryInsufficientFunds || rule != "insufficient-funds" {
		t.Errorf("got %q via %s, expected insufficient_funds", got, rule)
	}
}

func TestClassifierCustomRules(t *testing.T) {
	c := NewClassifier(Rule{
		Name:     "paused",
		Category: models.CategoryPreconditionNotYetMet,
		Match:    func(f Failure) bool { return f.Reason == "Pausable: paused" },
	})

	if got, _ := c.Classify(Failure{Reason: "Pausable: paused"}); got != models.CategoryPreconditionNotYetMet {
		t.Errorf("custom rule not applied, got %q", got)
	}
	if got, rule := c.Classify(Failure{Reason: "other"}); got != models.CategoryUnknown || rule != "unmatched" {
		t.Errorf("expected unmatched fallback, got %q via %s", got, rule)
	}
}

func TestClassifyError(t *testing.T) {
	simErr := &ledger.SimulationError{
		Call:   ledger.Call{To: common.HexToAddress("0x01"), Method: ledger.MethodProcessEpoch},
		Detail: "execution reverted",
		Reason: "AccessControl: account 0xabc is missing role 0x00",
		Err:    errors.New("execution reverted"),
	}

	got, _ := DefaultClassifier().ClassifyError(simErr)
	if got != models.CategoryUnauthorized {
		t.Errorf("expected unauthorized, got %q", got)
	}
}

func TestSelector(t *testing.T) {
	// Well-known selector of Error(string)
	got := common.Bytes2Hex(selector("Error(string)"))
	if got != "08c379a0" {
		t.Errorf("selector(Error(string)) = %s, expected 08c379a0", got)
	}
}
