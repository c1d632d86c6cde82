package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/tool-governance/models"
	"github.com/upb/tool-governance/repositories"
	"github.com/upb/tool-governance/services"
	"go.uber.org/zap"
)

// Service enforces per-tenant, per-tool call quotas
type Service struct {
	policies repositories.QuotaPolicyRepository
	counters repositories.QuotaCounterStore
	now      func() time.Time
	logger   *zap.Logger
}

// NewService creates a new quota Service
func NewService(policies repositories.QuotaPolicyRepository, counters repositories.QuotaCounterStore, logger *zap.Logger) *Service {
	return &Service{
		policies: policies,
		counters: counters,
		now:      time.Now,
		logger:   logger,
	}
}

// WithClock replaces the time source
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CheckAndReserve admits and counts one call, or denies it without counting.
// Keys without a policy, or whose policy sets no limit, are unlimited and leave no counter behind.
func (s *Service) CheckAndReserve(ctx context.Context, tenantID uuid.UUID, tool string) (*models.QuotaDecision, error) {
	policy, err := s.policies.Get(ctx, tenantID, tool)
	if err != nil {
		return nil, services.NewDomainError(services.ErrorTypeInternal, "failed to load quota policy", err)
	}
	if policy.IsUnlimited() {
		return models.UnlimitedDecision(), nil
	}

	decision, err := s.counters.Reserve(ctx, policy, s.now().UTC())
	if err != nil {
		s.logger.Error("quota reservation failed",
			zap.String("tenant_id", tenantID.String()),
			zap.String("tool", tool),
			zap.Error(err))
		return nil, services.NewDomainError(services.ErrorTypeInternal, "quota store unavailable", err)
	}

	if !decision.Allowed {
		s.logger.Info("tool call denied by quota",
			zap.String("tenant_id", tenantID.String()),
			zap.String("tool", tool),
			zap.String("period", string(decision.Violated)),
			zap.Int("day_count", decision.DayCount),
			zap.Int("month_count", decision.MonthCount))
	}

	return decision, nil
}

// ToolUsage returns the current windows for one tool. Tools without a policy report
// nil limits and zero counts.
func (s *Service) ToolUsage(ctx context.Context, tenantID uuid.UUID, tool string) (*models.ToolUsage, error) {
	policy, err := s.policies.Get(ctx, tenantID, tool)
	if err != nil {
		return nil, services.WrapInternal("failed to load quota policy", err)
	}

	usage := &models.ToolUsage{}
	if policy == nil {
		return usage, nil
	}
	usage.DayLimit = policy.MaxCallsPerDay
	usage.MonthLimit = policy.MaxCallsPerMonth

	if err := s.fillCounts(ctx, tenantID, tool, usage); err != nil {
		return nil, err
	}
	return usage, nil
}

// UsageSummary returns one entry per tool that has a policy
func (s *Service) UsageSummary(ctx context.Context, tenantID uuid.UUID) (models.UsageSummary, error) {
	policies, err := s.policies.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, services.WrapInternal("failed to list quota policies", err)
	}

	summary := make(models.UsageSummary, len(policies))
	for _, p := range policies {
		usage := models.ToolUsage{DayLimit: p.MaxCallsPerDay, MonthLimit: p.MaxCallsPerMonth}
		if err := s.fillCounts(ctx, tenantID, p.ToolName, &usage); err != nil {
			return nil, err
		}
		summary[p.ToolName] = usage
	}
	return summary, nil
}

func (s *Service) fillCounts(ctx context.Context, tenantID uuid.UUID, tool string, usage *models.ToolUsage) error {
	counter, err := s.counters.Get(ctx, tenantID, tool, s.now().UTC())
	if err != nil {
		return services.WrapInternal("failed to read quota counter", err)
	}
	if counter != nil {
		usage.DayCount = counter.DayCount
		usage.MonthCount = counter.MonthCount
	}
	return nil
}

// ListPolicies returns a tenant's policies ordered by tool
func (s *Service) ListPolicies(ctx context.Context, tenantID uuid.UUID) ([]*models.QuotaPolicy, error) {
	policies, err := s.policies.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, services.WrapInternal("failed to list quota policies", err)
	}
	if policies == nil {
		policies = []*models.QuotaPolicy{}
	}
	return policies, nil
}

// GetPolicy returns one policy or ErrQuotaPolicyNotFound
func (s *Service) GetPolicy(ctx context.Context, tenantID uuid.UUID, tool string) (*models.QuotaPolicy, error) {
	policy, err := s.policies.Get(ctx, tenantID, tool)
	if err != nil {
		return nil, services.WrapInternal("failed to load quota policy", err)
	}
	if policy == nil {
		return nil, services.ErrQuotaPolicyNotFound
	}
	return policy, nil
}

// SetPolicy creates or replaces the limits of (tenant, tool). Counters are kept, so
// lowering a limit below today's count denies further calls until the window rolls.
func (s *Service) SetPolicy(ctx context.Context, tenantID uuid.UUID, tool string, perDay, perMonth *int) (*models.QuotaPolicy, error) {
	if (perDay != nil && *perDay < 0) || (perMonth != nil && *perMonth < 0) {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "quota limits must not be negative", nil).
			WithDetail("tool", tool)
	}

	policy := models.NewQuotaPolicy(tenantID, tool, perDay, perMonth)
	now := s.now().UTC()
	policy.CreatedAt = now
	policy.UpdatedAt = now

	if err := s.policies.Upsert(ctx, policy); err != nil {
		return nil, services.WrapInternal("failed to save quota policy", err)
	}

	s.logger.Info("quota policy updated",
		zap.String("tenant_id", tenantID.String()),
		zap.String("tool", tool))
	return policy, nil
}

// DeletePolicy removes the limits of (tenant, tool), making it unlimited
func (s *Service) DeletePolicy(ctx context.Context, tenantID uuid.UUID, tool string) error {
	if err := s.policies.Delete(ctx, tenantID, tool); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return services.ErrQuotaPolicyNotFound
		}
		return services.WrapInternal(fmt.Sprintf("failed to delete quota policy for %s", tool), err)
	}
	return nil
}
