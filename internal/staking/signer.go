package staking

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	apperrors "bezhas-entitlements/internal/common/errors"
	"bezhas-entitlements/internal/tiers"
)

// DefaultSignatureTTL is how long a signed assertion stays valid when no expiry is given.
const DefaultSignatureTTL = time.Hour

// Messages reported by Verify.
const (
	MsgInvalidSignature = "Invalid signature"
	MsgSignatureExpired = "Signature expired"
	MsgInvalidFormat    = "Invalid signature format"
)

// Payload is the signed statement. Field order is the serialisation order.
type Payload struct {
	UserID       string   `json:"userId"`
	Tier         tiers.ID `json:"tier"`
	Multiplier   float64  `json:"multiplier"`
	EffectiveAPY float64  `json:"effectiveAPY"`
	ExpiresAt    int64    `json:"expiresAt"`
	Nonce        string   `json:"nonce"`
}

type SignedAssertion struct {
	Payload   Payload `json:"payload"`
	Signature string  `json:"signature"`
	Combined  string  `json:"combined"`
}

// envelope is what Combined carries, base64 encoded.
type envelope struct {
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

type Verification struct {
	Valid        bool     `json:"valid"`
	Error        string   `json:"error,omitempty"`
	UserID       string   `json:"userId,omitempty"`
	Tier         tiers.ID `json:"tier,omitempty"`
	Multiplier   float64  `json:"multiplier,omitempty"`
	EffectiveAPY float64  `json:"effectiveAPY,omitempty"`
	ExpiresAt    int64    `json:"expiresAt,omitempty"`

	// Err is the StandardError behind Error.
	Err error `json:"-"`
}

// Signer issues and checks HMAC-SHA256 tier assertions with one process-wide secret.
type Signer struct {
	secret  []byte
	ttl     time.Duration
	catalog *tiers.Catalog
	policy  tiers.Policy
	now     func() time.Time
	random  io.Reader
}

func NewSigner(secret string, ttl time.Duration, catalog *tiers.Catalog, policy tiers.Policy) (*Signer, error) {
	if secret == "" {
		return nil, fmt.Errorf("staking signature secret is empty")
	}
	if ttl <= 0 {
		ttl = DefaultSignatureTTL
	}
	return &Signer{
		secret:  []byte(secret),
		ttl:     ttl,
		catalog: catalog,
		policy:  policy,
		now:     time.Now,
		random:  rand.Reader,
	}, nil
}

// GenerateSecret returns a random hex secret for development setups.
func GenerateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func (s *Signer) sign(data []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// Generate signs the user's tier, multiplier and APY. A zero expiresAt means now plus the TTL.
func (s *Signer) Generate(userID string, tier tiers.ID, expiresAt time.Time) (*SignedAssertion, error) {
	if expiresAt.IsZero() {
		expiresAt = s.now().Add(s.ttl)
	}
	nonce := make([]byte, 16)
	if _, err := io.ReadFull(s.random, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	def := s.catalog.Get(tier)
	payload := Payload{
		UserID:       userID,
		Tier:         def.ID,
		Multiplier:   def.Staking.Multiplier,
		EffectiveAPY: s.policy.EffectiveAPY(def),
		ExpiresAt:    expiresAt.UnixMilli(),
		Nonce:        hex.EncodeToString(nonce),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	signature := s.sign(raw)

	wrapped, err := json.Marshal(envelope{Payload: raw, Signature: signature})
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return &SignedAssertion{
		Payload:   payload,
		Signature: signature,
		Combined:  base64.StdEncoding.EncodeToString(wrapped),
	}, nil
}

// Verify checks a combined assertion. It never panics; every failure is reported
// in the result with Valid false.
func (s *Signer) Verify(combined string) (result *Verification) {
	defer func() {
		if r := recover(); r != nil {
			result = invalidFormat()
		}
	}()

	decoded, err := base64.StdEncoding.Strict().DecodeString(combined)
	if err != nil {
		return invalidFormat()
	}
	var env envelope
	if err := json.Unmarshal(decoded, &env); err != nil || len(env.Payload) == 0 || env.Signature == "" {
		return invalidFormat()
	}
	// Only the exact encoding Generate produces is accepted.
	canonical, err := json.Marshal(env)
	if err != nil || !bytes.Equal(canonical, decoded) {
		return invalidFormat()
	}

	var payload Payload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return invalidFormat()
	}

	expected := s.sign(env.Payload)
	if !hmac.Equal([]byte(expected), []byte(env.Signature)) {
		return &Verification{Error: MsgInvalidSignature, Err: apperrors.NewInvalidSignatureError()}
	}

	if s.now().UnixMilli() > payload.ExpiresAt {
		return &Verification{Error: MsgSignatureExpired, Err: apperrors.NewSignatureExpiredError()}
	}

	return &Verification{
		Valid:        true,
		UserID:       payload.UserID,
		Tier:         payload.Tier,
		Multiplier:   payload.Multiplier,
		EffectiveAPY: payload.EffectiveAPY,
		ExpiresAt:    payload.ExpiresAt,
	}
}

func invalidFormat() *Verification {
	return &Verification{Error: MsgInvalidFormat, Err: apperrors.NewInvalidSignatureFormatError()}
}
