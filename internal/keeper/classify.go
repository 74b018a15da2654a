package keeper

import (
	"bytes"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/psantana5/epoch-keeper/pkg/ledger"
	"github.com/psantana5/epoch-keeper/pkg/models"
)

// Failure is the classifiable shape of a failed simulation or send
type Failure struct {
	Detail     string
	Reason     string
	RevertData []byte
}

// FailureFrom extracts a Failure from a ledger error
func FailureFrom(err error) Failure {
	detail, reason, data := ledger.FailureDetail(err)
	return Failure{Detail: detail, Reason: reason, RevertData: data}
}

func (f Failure) text() string {
	return strings.ToLower(f.Reason + " " + f.Detail)
}

func (f Failure) hasSelector(selectors ...[]byte) bool {
	if len(f.RevertData) < 4 {
		return false
	}
	for _, sel := range selectors {
		if bytes.Equal(f.RevertData[:4], sel) {
			return true
		}
	}
	return false
}

// Rule maps one failure shape to a category
type Rule struct {
	Name     string
	Match    func(Failure) bool
	Category models.ErrorCategory
}

// Classifier assigns the first matching rule's category, Unknown otherwise
type Classifier struct {
	rules []Rule
}

// NewClassifier returns a classifier over rules, checked in order
func NewClassifier(rules ...Rule) *Classifier {
	return &Classifier{rules: rules}
}

// DefaultClassifier knows the vault and epoch manager failure shapes
func DefaultClassifier() *Classifier {
	return NewClassifier(DefaultRules()...)
}

// Classify returns the category and the name of the rule that matched
func (c *Classifier) Classify(f Failure) (models.ErrorCategory, string) {
	for _, r := range c.rules {
		if r.Match(f) {
			return r.Category, r.Name
		}
	}
	return models.CategoryUnknown, "unmatched"
}

// ClassifyError classifies a ledger error
func (c *Classifier) ClassifyError(err error) (models.ErrorCategory, string) {
	return c.Classify(FailureFrom(err))
}

// selector returns the 4-byte custom error selector for signature
func selector(signature string) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	return h.Sum(nil)[:4]
}

var (
	insufficientFundsSelectors = [][]byte{
		selector("InsufficientBalance()"),
		selector("InsufficientFunds()"),
		selector("InsufficientLiquidity()"),
		selector("ERC20InsufficientBalance(address,uint256,uint256)"),
	}
	preconditionSelectors = [][]byte{
		selector("EpochNotEnded()"),
		selector("EpochNotEnded(uint256)"),
		selector("EpochAlreadySettled()"),
		selector("EpochAlreadySettled(uint256)"),
		selector("EpochAlreadyProcessed()"),
		selector("RateAlreadySynced()"),
	}
	unauthorizedSelectors = [][]byte{
		selector("Unauthorized()"),
		selector("NotKeeper()"),
		selector("AccessControlUnauthorizedAccount(address,bytes32)"),
		selector("OwnableUnauthorizedAccount(address)"),
	}
)

// The node's own "insufficient funds for gas * price + value" is about the
// signer's balance, not the vault's, and must not be mistaken for a benign skip.
var nodeGasShortfall = []string{"insufficient funds for gas", "insufficient funds for transfer"}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// DefaultRules returns the rule table in priority order
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "insufficient-funds",
			Category: models.CategoryInsufficientFunds,
			Match: func(f Failure) bool {
				if f.hasSelector(insufficientFundsSelectors...) {
					return true
				}
				text := f.text()
				if containsAny(text, nodeGasShortfall...) {
					return false
				}
				return containsAny(text,
					"insufficient funds",
					"insufficient balance",
					"insufficient liquidity",
					"insufficient yield",
					"exceeds balance",
				)
			},
		},
		{
			Name:     "precondition-not-met",
			Category: models.CategoryPreconditionNotYetMet,
			Match: func(f Failure) bool {
				if f.hasSelector(preconditionSelectors...) {
					return true
				}
				return containsAny(f.text(),
					"epoch not ended",
					"epoch has not ended",
					"epoch not over",
					"already settled",
					"already processed",
					"already in sync",
					"already synced",
					"rate unchanged",
				)
			},
		},
		{
			Name:     "unauthorized",
			Category: models.CategoryUnauthorized,
			Match: func(f Failure) bool {
				if f.hasSelector(unauthorizedSelectors...) {
					return true
				}
				return containsAny(f.text(),
					"unauthorized",
					"not authorized",
					"not the owner",
					"caller is not",
					"only keeper",
					"only owner",
					"missing role",
					"accesscontrol: account",
					"access denied",
				)
			},
		},
	}
}
