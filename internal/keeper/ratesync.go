package keeper

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/psantana5/epoch-keeper/pkg/ledger"
	"github.com/psantana5/epoch-keeper/pkg/models"
)

// RateCheck is what the rate sync checker found
type RateCheck struct {
	Snapshot models.RateSnapshot
	Request  *models.ActionRequest // Nil when in sync or when a read failed
	Err      error                 // Soft failure: a read did not succeed
}

// RateSyncChecker compares the vault's operating rate with the rate source
type RateSyncChecker struct {
	client     ledger.Client
	vault      common.Address
	rateSource common.Address
}

// NewRateSyncChecker creates a checker for the given contracts
func NewRateSyncChecker(client ledger.Client, vault, rateSource common.Address) *RateSyncChecker {
	return &RateSyncChecker{
		client:     client,
		vault:      vault,
		rateSource: rateSource,
	}
}

// OperatingRate reads the rate the vault currently applies
func (c *RateSyncChecker) OperatingRate(ctx context.Context) (models.Rate, error) {
	return c.readRate(ctx, c.vault, ledger.MethodInterestRate)
}

// TargetRate reads the rate published by the rate source
func (c *RateSyncChecker) TargetRate(ctx context.Context) (models.Rate, error) {
	return c.readRate(ctx, c.rateSource, ledger.MethodGetRate)
}

func (c *RateSyncChecker) readRate(ctx context.Context, to common.Address, method string) (models.Rate, error) {
	values, err := c.client.Read(ctx, ledger.Call{To: to, Method: method})
	if err != nil {
		return 0, err
	}
	rate, err := ledger.DecodeRate(values)
	if err != nil {
		return 0, fmt.Errorf("%s.%s: %w", to.Hex(), method, err)
	}
	return rate, nil
}

// Check reads both rates and yields a sync request iff they differ. It has no
// side effects beyond the two reads.
func (c *RateSyncChecker) Check(ctx context.Context) RateCheck {
	var result RateCheck

	operating, err := c.OperatingRate(ctx)
	if err != nil {
		result.Err = fmt.Errorf("failed to read operating rate: %w", err)
		return result
	}
	result.Snapshot.Operating = operating

	target, err := c.TargetRate(ctx)
	if err != nil {
		result.Err = fmt.Errorf("failed to read target rate: %w", err)
		return result
	}
	result.Snapshot.Target = target

	if result.Snapshot.InSync() {
		return result
	}

	result.Request = &models.ActionRequest{
		Kind:         models.ActionSyncRate,
		Target:       c.vault,
		Method:       ledger.MethodSyncInterestRate,
		Precondition: fmt.Sprintf("operating rate %s differs from target %s", operating, target),
		Before:       operating.String(),
		After:        target.String(),
	}
	return result
}
