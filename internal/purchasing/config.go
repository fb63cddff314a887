package purchasing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/suprimenta/suprimenta/internal/shared"
)

// ConfigInput is the payload for creating a new approval configuration.
type ConfigInput struct {
	ValueThreshold string
	EffectiveDate  time.Time
	Reason         string
}

// ConfigService manages the append-only approval configuration set.
type ConfigService struct {
	repo   RepositoryPort
	cache  *ConfigCache
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewConfigService constructs the service.
func NewConfigService(repo RepositoryPort, cache *ConfigCache, audit AuditPort, logger *slog.Logger) *ConfigService {
	return &ConfigService{repo: repo, cache: cache, audit: audit, logger: logger, now: time.Now}
}

// Create appends a new configuration. The prior one is superseded, never
// replaced, so historical decisions keep their context.
func (s *ConfigService) Create(ctx context.Context, actor shared.Actor, input ConfigInput) (ApprovalConfiguration, error) {
	if !actor.Has(shared.CapAdmin, shared.CapManager) {
		return ApprovalConfiguration{}, fmt.Errorf("%w: creating approval configurations requires admin or manager", ErrPermissionDenied)
	}
	threshold, err := ParseAmount(input.ValueThreshold)
	if err != nil {
		return ApprovalConfiguration{}, err
	}
	if threshold.IsNegative() {
		return ApprovalConfiguration{}, fmt.Errorf("%w: threshold cannot be negative", ErrInvalidInput)
	}
	effective := input.EffectiveDate
	if effective.IsZero() {
		effective = s.now()
	}
	cfg, err := s.repo.CreateApprovalConfiguration(ctx, ApprovalConfiguration{
		ValueThreshold: threshold,
		EffectiveDate:  effective,
		Reason:         input.Reason,
		CreatedBy:      actor.ID,
	})
	if err != nil {
		return ApprovalConfiguration{}, err
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
	if s.audit != nil {
		log := shared.AuditLog{
			ActorID:     actor.ID,
			Action:      "APPROVAL_CONFIG_CREATE",
			Entity:      "approval_configuration",
			EntityID:    fmt.Sprintf("%d", cfg.ID),
			Description: fmt.Sprintf("threshold %s effective %s", threshold.StringFixed(2), effective.Format("2006-01-02")),
			AfterSnapshot: map[string]any{
				"value_threshold": threshold.String(),
				"effective_date":  effective,
				"reason":          input.Reason,
			},
		}
		if err := s.audit.Record(ctx, log); err != nil && s.logger != nil {
			s.logger.Error("record configuration audit", slog.Any("error", err))
		}
	}
	return cfg, nil
}

// Active returns the configuration currently in force.
func (s *ConfigService) Active(ctx context.Context) (ApprovalConfiguration, error) {
	if s.cache != nil {
		return s.cache.Active(ctx, s.now())
	}
	configs, err := s.repo.ListApprovalConfigurations(ctx)
	if err != nil {
		return ApprovalConfiguration{}, err
	}
	return ActiveConfiguration(configs, s.now())
}
