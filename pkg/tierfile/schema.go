// pkg/tierfile/schema.go
package tierfile

// Header is the metadata every tier catalog document carries.
type Header struct {
	Version     string `json:"version"`
	LastUpdated string `json:"lastUpdated"`
	DefaultTier string `json:"defaultTier"`
}

// Schema is the JSON schema tier catalog documents are validated against.
const Schema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "definitions": {
    "limit": {
      "oneOf": [
        {"type": "number", "minimum": 0},
        {"type": "string", "enum": ["unlimited"]}
      ]
    },
    "fraction": {"type": "number", "minimum": 0, "maximum": 1}
  },
  "type": "object",
  "required": ["version", "defaultTier", "tiers"],
  "properties": {
    "version": {"type": "string", "minLength": 1},
    "lastUpdated": {"type": "string"},
    "defaultTier": {"type": "string", "minLength": 1},
    "tiers": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "rank", "price", "staking", "gas", "ai", "limits", "features"],
        "properties": {
          "id": {"type": "string", "pattern": "^[A-Za-z][A-Za-z0-9_]*$"},
          "rank": {"type": "integer", "minimum": 0},
          "displayName": {"type": "string"},
          "description": {"type": "string"},
          "price": {
            "type": "object",
            "required": ["monthly", "yearly"],
            "properties": {
              "monthly": {"type": "number", "minimum": 0},
              "yearly": {"type": "number", "minimum": 0},
              "currency": {"type": "string"},
              "stripePriceMonthly": {"type": "string"},
              "stripePriceYearly": {"type": "string"}
            }
          },
          "tokenLock": {
            "type": "object",
            "properties": {
              "amount": {"type": "number", "minimum": 0},
              "durationDays": {"type": "integer", "minimum": 0}
            }
          },
          "staking": {
            "type": "object",
            "required": ["multiplier"],
            "properties": {
              "multiplier": {"type": "number", "minimum": 0},
              "maxStakeAmount": {"$ref": "#/definitions/limit"},
              "earlyUnstakePenalty": {"$ref": "#/definitions/fraction"},
              "lockPeriodDays": {"type": "integer", "minimum": 0},
              "compoundingEnabled": {"type": "boolean"}
            }
          },
          "gas": {
            "type": "object",
            "required": ["subsidyPercent"],
            "properties": {
              "subsidyPercent": {"$ref": "#/definitions/fraction"},
              "maxSubsidyPerTx": {"$ref": "#/definitions/limit"},
              "monthlySubsidyBudget": {"$ref": "#/definitions/limit"},
              "priorityFee": {"type": "boolean"}
            }
          },
          "ai": {
            "type": "object",
            "required": ["dailyQueries", "monthlyQueries", "models"],
            "properties": {
              "dailyQueries": {"$ref": "#/definitions/limit"},
              "monthlyQueries": {"$ref": "#/definitions/limit"},
              "models": {"type": "array", "items": {"type": "string"}},
              "maxTokensPerQuery": {"type": "integer", "minimum": 0},
              "imageGeneration": {"$ref": "#/definitions/limit"},
              "voiceMinutes": {"$ref": "#/definitions/limit"},
              "customPrompts": {"type": "boolean"},
              "priority": {"type": "string"}
            }
          },
          "limits": {
            "type": "object",
            "additionalProperties": {"$ref": "#/definitions/limit"}
          },
          "features": {
            "type": "object",
            "additionalProperties": {"type": "boolean"}
          }
        }
      }
    }
  }
}`
