package quorum

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/protocol"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
)

const validatorSetKey = "validators"

var _ protocol.ValidatorSetSource = (*CachedValidatorSet)(nil)

// CachedValidatorSet refreshes the validator set from its source at most once per TTL.
// When a refresh fails, the last known set is served and the failure is logged.
type CachedValidatorSet struct {
	source protocol.ValidatorSetSource
	cache  *cache.Cache
	lggr   logger.SugaredLogger

	mu        sync.Mutex
	lastKnown []protocol.ValidatorID
}

func NewCachedValidatorSet(source protocol.ValidatorSetSource, ttl time.Duration, lggr logger.SugaredLogger) *CachedValidatorSet {
	return &CachedValidatorSet{
		source: source,
		cache:  cache.New(ttl, 2*ttl),
		lggr:   lggr,
	}
}

func (c *CachedValidatorSet) CurrentValidators(ctx context.Context) ([]protocol.ValidatorID, error) {
	if cached, ok := c.cache.Get(validatorSetKey); ok {
		return slices.Clone(cached.([]protocol.ValidatorID)), nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.cache.Get(validatorSetKey); ok {
		return slices.Clone(cached.([]protocol.ValidatorID)), nil
	}

	validators, err := c.source.CurrentValidators(ctx)
	if err != nil {
		if c.lastKnown != nil {
			c.lggr.Warnw("Validator set refresh failed, serving last known set", "error", err, "size", len(c.lastKnown))
			return slices.Clone(c.lastKnown), nil
		}
		return nil, fmt.Errorf("failed to fetch validator set: %w", err)
	}

	c.lastKnown = slices.Clone(validators)
	c.cache.SetDefault(validatorSetKey, c.lastKnown)
	c.lggr.Debugw("Validator set refreshed", "size", len(validators))
	return slices.Clone(validators), nil
}

// IsMember reports whether id belongs to the current validator set.
func (c *CachedValidatorSet) IsMember(ctx context.Context, id protocol.ValidatorID) (bool, error) {
	validators, err := c.CurrentValidators(ctx)
	if err != nil {
		return false, err
	}
	return slices.Contains(validators, id), nil
}
