package staking

import (
	"context"

	"bezhas-entitlements/internal/entitlement"
	"bezhas-entitlements/internal/tiers"
)

// Resolver is the part of entitlement.Resolver the staking service needs.
type Resolver interface {
	Resolve(ctx context.Context, userID string) (*entitlement.Subscription, error)
}

// StakingInfo is the staking view of one user with a fresh signed assertion.
type StakingInfo struct {
	Tier                tiers.ID    `json:"tier"`
	BaseAPY             float64     `json:"baseAPY"`
	Multiplier          float64     `json:"multiplier"`
	EffectiveAPY        float64     `json:"effectiveAPY"`
	MaxStakeAmount      tiers.Limit `json:"maxStakeAmount"`
	EarlyUnstakePenalty float64     `json:"earlyUnstakePenalty"`
	LockPeriodDays      int         `json:"lockPeriodDays"`
	CompoundingEnabled  bool        `json:"compoundingEnabled"`
	Signature           string      `json:"signature"`
	TierColor           string      `json:"tierColor"`
	TierGradient        string      `json:"tierGradient"`
}

// Service ties projections and signatures to resolved users.
type Service struct {
	*Projector
	Signer   *Signer
	resolver Resolver
	policy   tiers.Policy
}

func NewService(resolver Resolver, projector *Projector, signer *Signer, policy tiers.Policy) *Service {
	return &Service{Projector: projector, Signer: signer, resolver: resolver, policy: policy}
}

func (s *Service) Info(ctx context.Context, userID string) (*StakingInfo, error) {
	sub, err := s.resolver.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	signed, err := s.Signer.Generate(userID, sub.Tier, s.Signer.now().Add(s.Signer.ttl))
	if err != nil {
		return nil, err
	}

	def := sub.Definition
	return &StakingInfo{
		Tier:                sub.Tier,
		BaseAPY:             s.policy.BaseStakingAPY,
		Multiplier:          def.Staking.Multiplier,
		EffectiveAPY:        s.policy.EffectiveAPY(def),
		MaxStakeAmount:      def.Staking.MaxStake,
		EarlyUnstakePenalty: def.Staking.EarlyUnstakePenalty,
		LockPeriodDays:      def.Staking.LockPeriodDays,
		CompoundingEnabled:  def.Staking.Compounding,
		Signature:           signed.Combined,
		TierColor:           def.UI.Color,
		TierGradient:        def.UI.Gradient,
	}, nil
}
