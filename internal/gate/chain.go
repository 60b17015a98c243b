package gate

import (
	"context"
	"net/http"
	"strconv"

	apperrors "bezhas-entitlements/internal/common/errors"
	"bezhas-entitlements/internal/gas"
	"bezhas-entitlements/internal/staking"
)

// DefaultGasLimit is estimated when the request does not carry a gasLimit.
const DefaultGasLimit = 100000

func GasEstimateFrom(ctx context.Context) *gas.Estimate {
	e, _ := ctx.Value(gasKey).(*gas.Estimate)
	return e
}

func requestedGasLimit(r *http.Request) int64 {
	if q := r.URL.Query().Get("gasLimit"); q != "" {
		if n, err := strconv.ParseInt(q, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	var body struct {
		GasLimit int64 `json:"gasLimit"`
	}
	if peekJSON(r, &body) && body.GasLimit > 0 {
		return body.GasLimit
	}
	return DefaultGasLimit
}

// GasSubsidy attaches the caller's gas estimate. Anonymous callers get no subsidy.
func (g *Gate) GasSubsidy(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r, done := g.stage(r, "gas")
		limit := requestedGasLimit(r)

		if userID(r) == "" {
			done("anonymous", nil)
			est := g.gas.ZeroSubsidy(r.Context(), limit)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), gasKey, est)))
			return
		}

		sub, r, err := g.subscription(r)
		if err != nil {
			done("error", err)
			g.deny(w, r, "gas", err)
			return
		}

		est := g.gas.EstimateGasCost(r.Context(), limit, sub.Tier)
		done("pass", nil)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), gasKey, est)))
	})
}

// StakingContext is attached by VerifyStakingSignature. Verified is set when
// it came from a valid signed assertion rather than a fresh lookup.
type StakingContext struct {
	Verified     bool                  `json:"verified"`
	Verification *staking.Verification `json:"-"`
	Info         *staking.StakingInfo  `json:"info,omitempty"`
}

func StakingFrom(ctx context.Context) *StakingContext {
	s, _ := ctx.Value(stakingKey).(*StakingContext)
	return s
}

// VerifyStakingSignature checks the X-Staking-Signature header or the
// signature query parameter. Without a signature, an authenticated caller's
// staking info is looked up instead.
func (g *Gate) VerifyStakingSignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r, done := g.stage(r, "staking_signature")

		signature := r.Header.Get("X-Staking-Signature")
		if signature == "" {
			signature = r.URL.Query().Get("signature")
		}

		if signature == "" {
			if user := userID(r); user != "" {
				info, err := g.staking.Info(r.Context(), user)
				if err != nil {
					done("error", err)
					g.deny(w, r, "staking_signature", err)
					return
				}
				r = r.WithContext(context.WithValue(r.Context(), stakingKey, &StakingContext{Info: info}))
			}
			done("unsigned", nil)
			next.ServeHTTP(w, r)
			return
		}

		v := g.staking.Signer.Verify(signature)
		if !v.Valid {
			done("deny", v.Err)
			g.deny(w, r, "staking_signature", signatureDenial(v))
			return
		}

		sc := &StakingContext{
			Verified:     true,
			Verification: v,
			Info: &staking.StakingInfo{
				Tier:         v.Tier,
				Multiplier:   v.Multiplier,
				EffectiveAPY: v.EffectiveAPY,
				Signature:    signature,
			},
		}
		done("pass", nil)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), stakingKey, sc)))
	})
}

// signatureDenial answers every verification failure with the
// INVALID_STAKING_SIGNATURE code; the reason goes in the message.
func signatureDenial(v *staking.Verification) *apperrors.StandardError {
	err := apperrors.NewInvalidSignatureError()
	err.Message = v.Error
	return err
}
