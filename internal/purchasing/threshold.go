package purchasing

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RequiresDualApproval decides whether a request of the given total value
// needs the sequential two-approver protocol under cfg. The comparison is a
// strict greater-than: a value exactly at the threshold resolves to single
// approval.
func RequiresDualApproval(total decimal.Decimal, cfg ApprovalConfiguration) bool {
	return total.GreaterThan(cfg.ValueThreshold)
}

// ParseAmount parses a string-encoded currency amount into an exact decimal.
func ParseAmount(raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, fmt.Errorf("%w: amount is empty", ErrInvalidInput)
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: malformed amount %q", ErrInvalidInput, raw)
	}
	return value, nil
}

// ActiveConfiguration picks the configuration in force at the given instant:
// the one with the most recent effective date not after it. Configurations
// are append-only, so ties resolve to the highest id.
func ActiveConfiguration(configs []ApprovalConfiguration, at time.Time) (ApprovalConfiguration, error) {
	candidates := make([]ApprovalConfiguration, 0, len(configs))
	for _, cfg := range configs {
		if !cfg.EffectiveDate.After(at) {
			candidates = append(candidates, cfg)
		}
	}
	if len(candidates) == 0 {
		return ApprovalConfiguration{}, fmt.Errorf("%w: no approval configuration effective at %s", ErrNotFound, at.Format(time.RFC3339))
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].EffectiveDate.Equal(candidates[j].EffectiveDate) {
			return candidates[i].EffectiveDate.After(candidates[j].EffectiveDate)
		}
		return candidates[i].ID > candidates[j].ID
	})
	return candidates[0], nil
}
