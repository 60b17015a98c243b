package tierfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validDoc = `{
  "version": "2.0.0",
  "defaultTier": "FREE",
  "tiers": [
    {
      "id": "FREE", "rank": 0,
      "price": {"monthly": 0, "yearly": 0},
      "staking": {"multiplier": 1, "maxStakeAmount": 100},
      "gas": {"subsidyPercent": 0},
      "ai": {"dailyQueries": 1, "monthlyQueries": "unlimited", "models": ["gpt-3.5-turbo"]},
      "limits": {"postsPerMonth": 3},
      "features": {"analytics": false}
    }
  ]
}`

func TestDecode_Valid(t *testing.T) {
	var out struct {
		Tiers []map[string]interface{} `json:"tiers"`
	}
	h, err := Decode([]byte(validDoc), &out)
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", h.Version)
	assert.Equal(t, "FREE", h.DefaultTier)
	assert.Len(t, out.Tiers, 1)
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing tiers", `{"version": "1", "defaultTier": "A"}`},
		{"empty tiers", `{"version": "1", "defaultTier": "A", "tiers": []}`},
		{"bad limit literal", `{"version": "1", "defaultTier": "A", "tiers": [{"id": "A", "rank": 0,
			"price": {"monthly": 0, "yearly": 0}, "staking": {"multiplier": 1}, "gas": {"subsidyPercent": 0},
			"ai": {"dailyQueries": "infinite", "monthlyQueries": 1, "models": []}, "limits": {}, "features": {}}]}`},
		{"subsidy above one", `{"version": "1", "defaultTier": "A", "tiers": [{"id": "A", "rank": 0,
			"price": {"monthly": 0, "yearly": 0}, "staking": {"multiplier": 1}, "gas": {"subsidyPercent": 1.5},
			"ai": {"dailyQueries": 1, "monthlyQueries": 1, "models": []}, "limits": {}, "features": {}}]}`},
		{"not json", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, Validate([]byte(tt.doc)))
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	var v map[string]interface{}
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"), &v)
	assert.True(t, os.IsNotExist(err))
}
