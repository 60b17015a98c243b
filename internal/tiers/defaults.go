package tiers

// Feature flags granted by the built-in tiers.
const (
	FeatureCreateProposals     = "canCreateProposals"
	FeatureQualityOracleAccess = "qualityOracleAccess"
	FeaturePriorityValidation  = "priorityValidation"
	FeatureAdvancedAIModels    = "advancedAIModels"
	FeatureCustomPrompts       = "customPrompts"
	FeatureAIPersonality       = "aiPersonality"
	FeatureAPIAccess           = "apiAccess"
	FeatureWebhooks            = "webhooks"
	FeatureAnalytics           = "analytics"
	FeatureExportData          = "exportData"
	FeaturePrioritySupport     = "prioritySupport"
	FeatureDedicatedManager    = "dedicatedManager"
	FeatureVerifiedBadge       = "verifiedBadge"
	FeatureCustomProfile       = "customProfile"
	FeatureScheduledPosts      = "scheduledPosts"
)

// Limit names declared by the built-in tiers.
const (
	LimitPostsPerMonth             = "postsPerMonth"
	LimitPostsWithMediaPerMonth    = "postsWithMediaPerMonth"
	LimitCommentsPerMonth          = "commentsPerMonth"
	LimitStorageGB                 = "storageGB"
	LimitOracleValidationsPerMonth = "oracleValidationsPerMonth"
	LimitDAOProposalsPerMonth      = "daoProposalsPerMonth"
	LimitDAOVotesPerMonth          = "daoVotesPerMonth"
)

// TrialPeriodDays is the length of the one-off trial.
const TrialPeriodDays = 14

var allFeatures = []string{
	FeatureCreateProposals, FeatureQualityOracleAccess, FeaturePriorityValidation,
	FeatureAdvancedAIModels, FeatureCustomPrompts, FeatureAIPersonality,
	FeatureAPIAccess, FeatureWebhooks, FeatureAnalytics, FeatureExportData,
	FeaturePrioritySupport, FeatureDedicatedManager,
	FeatureVerifiedBadge, FeatureCustomProfile, FeatureScheduledPosts,
}

func features(granted ...string) map[string]bool {
	out := make(map[string]bool, len(allFeatures))
	for _, f := range allFeatures {
		out[f] = false
	}
	for _, f := range granted {
		out[f] = true
	}
	return out
}

// DefaultDefinitions returns the built-in tier table in hierarchy order.
func DefaultDefinitions() []Definition {
	return []Definition{
		{
			ID:          Starter,
			Rank:        0,
			DisplayName: "Starter",
			Description: "Free plan to get started on BeZhas",
			Price:       Price{Currency: "USD"},
			Staking: Staking{
				Multiplier:          1.0,
				MaxStake:            Bounded(10000),
				EarlyUnstakePenalty: 0.10,
			},
			Gas: Gas{
				MaxSubsidyPerTx: Bounded(0),
				MonthlyBudget:   Bounded(0),
			},
			AI: AI{
				DailyQueries:      Bounded(5),
				MonthlyQueries:    Bounded(100),
				Models:            []string{"gpt-3.5-turbo"},
				MaxTokensPerQuery: 1000,
				ImageGeneration:   Bounded(0),
				VoiceMinutes:      Bounded(0),
				Priority:          "low",
			},
			Limits: map[string]Limit{
				LimitPostsPerMonth:             Bounded(10),
				LimitPostsWithMediaPerMonth:    Bounded(5),
				LimitCommentsPerMonth:          Bounded(50),
				LimitStorageGB:                 Bounded(0.1),
				LimitOracleValidationsPerMonth: Bounded(0),
				LimitDAOProposalsPerMonth:      Bounded(0),
				LimitDAOVotesPerMonth:          Unbounded(),
			},
			Features: features(),
			UI:       UI{Color: "#6B7280", Gradient: "from-gray-500 to-gray-600", Icon: "user"},
		},
		{
			ID:          Creator,
			Rank:        1,
			DisplayName: "Creator Pro",
			Description: "For active creators who want to stand out",
			Price: Price{
				Monthly:            14.99,
				Yearly:             149.99,
				Currency:           "USD",
				StripePriceMonthly: "price_creator_monthly",
				StripePriceYearly:  "price_creator_yearly",
			},
			TokenLock: TokenLock{Amount: 5000, DurationDays: 90},
			Staking: Staking{
				Multiplier:          1.5,
				MaxStake:            Bounded(100000),
				EarlyUnstakePenalty: 0.05,
				LockPeriodDays:      7,
				Compounding:         true,
			},
			Gas: Gas{
				SubsidyPercent:  0.25,
				MaxSubsidyPerTx: Bounded(5),
				MonthlyBudget:   Bounded(50),
			},
			AI: AI{
				DailyQueries:      Bounded(50),
				MonthlyQueries:    Bounded(1000),
				Models:            []string{"gpt-3.5-turbo", "gpt-4", "gemini-pro"},
				MaxTokensPerQuery: 4000,
				ImageGeneration:   Bounded(10),
				VoiceMinutes:      Bounded(30),
				CustomPrompts:     true,
				Priority:          "medium",
			},
			Limits: map[string]Limit{
				LimitPostsPerMonth:             Bounded(100),
				LimitPostsWithMediaPerMonth:    Bounded(50),
				LimitCommentsPerMonth:          Unbounded(),
				LimitStorageGB:                 Bounded(5),
				LimitOracleValidationsPerMonth: Bounded(20),
				LimitDAOProposalsPerMonth:      Bounded(5),
				LimitDAOVotesPerMonth:          Unbounded(),
			},
			Features: features(
				FeatureCreateProposals, FeatureQualityOracleAccess,
				FeatureAdvancedAIModels, FeatureCustomPrompts,
				FeatureAnalytics, FeatureExportData, FeaturePrioritySupport,
				FeatureVerifiedBadge, FeatureCustomProfile, FeatureScheduledPosts,
			),
			UI: UI{Badge: "creator", Color: "#8B5CF6", Gradient: "from-purple-500 to-pink-500", Icon: "star"},
		},
		{
			ID:          Business,
			Rank:        2,
			DisplayName: "Business Enterprise",
			Description: "Full access for organizations and power users",
			Price: Price{
				Monthly:            99.99,
				Yearly:             999.99,
				Currency:           "USD",
				StripePriceMonthly: "price_business_monthly",
				StripePriceYearly:  "price_business_yearly",
			},
			TokenLock: TokenLock{Amount: 50000, DurationDays: 180},
			Staking: Staking{
				Multiplier:  2.5,
				MaxStake:    Unbounded(),
				Compounding: true,
			},
			Gas: Gas{
				SubsidyPercent:  1.0,
				MaxSubsidyPerTx: Unbounded(),
				MonthlyBudget:   Bounded(500),
				PriorityFee:     true,
			},
			AI: AI{
				DailyQueries:      Unbounded(),
				MonthlyQueries:    Unbounded(),
				Models:            []string{ModelWildcard},
				MaxTokensPerQuery: 8000,
				ImageGeneration:   Unbounded(),
				VoiceMinutes:      Unbounded(),
				CustomPrompts:     true,
				Priority:          "high",
			},
			Limits: map[string]Limit{
				LimitPostsPerMonth:             Unbounded(),
				LimitPostsWithMediaPerMonth:    Unbounded(),
				LimitCommentsPerMonth:          Unbounded(),
				LimitStorageGB:                 Bounded(100),
				LimitOracleValidationsPerMonth: Unbounded(),
				LimitDAOProposalsPerMonth:      Unbounded(),
				LimitDAOVotesPerMonth:          Unbounded(),
			},
			Features: features(allFeatures...),
			UI:       UI{Badge: "business", Color: "#F59E0B", Gradient: "from-amber-400 to-orange-500", Icon: "building"},
		},
	}
}
