// Package cost turns model usage and gas estimates into BEZ charges.
package cost

import "sort"

// Kind selects which usage units a model is billed on.
type Kind string

const (
	KindText      Kind = "text"
	KindImage     Kind = "image"
	KindAudio     Kind = "audio"
	KindInference Kind = "inference"
)

// Rate is the price sheet of one model. Only the fields of its Kind are read:
// text bills InputRate/OutputRate per 1K tokens, image ImageRate/ImageRateHD per
// image, audio MinuteRate, inference InferenceRate per call.
type Rate struct {
	Kind        Kind    `json:"kind"`
	Provider    string  `json:"provider"`
	MinCharge   float64 `json:"minCharge"`
	Description string  `json:"description"`

	InputRate     float64 `json:"inputRate,omitempty"`
	OutputRate    float64 `json:"outputRate,omitempty"`
	ImageRate     float64 `json:"imageRate,omitempty"`
	ImageRateHD   float64 `json:"imageRateHD,omitempty"`
	MinuteRate    float64 `json:"minuteRate,omitempty"`
	InferenceRate float64 `json:"inferenceRate,omitempty"`
}

func TextRate(provider string, input, output, minCharge float64, description string) Rate {
	return Rate{Kind: KindText, Provider: provider, InputRate: input, OutputRate: output, MinCharge: minCharge, Description: description}
}

func ImageRate(provider string, standard, hd, minCharge float64, description string) Rate {
	return Rate{Kind: KindImage, Provider: provider, ImageRate: standard, ImageRateHD: hd, MinCharge: minCharge, Description: description}
}

func AudioRate(provider string, perMinute, minCharge float64, description string) Rate {
	return Rate{Kind: KindAudio, Provider: provider, MinuteRate: perMinute, MinCharge: minCharge, Description: description}
}

func InferenceRate(provider string, perCall, minCharge float64, description string) Rate {
	return Rate{Kind: KindInference, Provider: provider, InferenceRate: perCall, MinCharge: minCharge, Description: description}
}

// Matrix maps model ids to their rates.
type Matrix map[string]Rate

// DefaultMatrix is the built-in BEZ price sheet.
func DefaultMatrix() Matrix {
	return Matrix{
		"gpt-4":         TextRate("openai", 0.30, 0.60, 5, "Most capable model"),
		"gpt-4-turbo":   TextRate("openai", 0.10, 0.30, 3, "Optimised GPT-4"),
		"gpt-3.5-turbo": TextRate("openai", 0.01, 0.02, 1, "Fast and economical"),

		"gemini-pro":        TextRate("google", 0.0025, 0.005, 1, "Google multimodal model"),
		"gemini-pro-vision": TextRate("google", 0.005, 0.01, 2, "Gemini with vision"),

		"tensorflow-sentiment":  InferenceRate("local", 0.01, 1, "Sentiment analysis"),
		"tensorflow-toxicity":   InferenceRate("local", 0.02, 1, "Toxicity detection"),
		"tensorflow-moderation": InferenceRate("local", 0.01, 1, "Content moderation"),

		"text-embedding-ada-002": TextRate("openai", 0.001, 0, 0.5, "Embeddings"),
		"whisper-1":              AudioRate("openai", 0.06, 1, "Audio transcription"),
		"dall-e-3":               ImageRate("openai", 0.40, 0.80, 5, "Image generation"),
	}
}

// Models lists model ids in a stable order.
func (m Matrix) Models() []string {
	out := make([]string, 0, len(m))
	for name := range m {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
