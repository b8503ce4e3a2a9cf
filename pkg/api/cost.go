package api

import (
	"strings"

	"github.com/hearthlabs/agentloop/pkg/model"
)

// modelRate is USD per million tokens, split by direction. Cache reads are
// billed at a tenth of the input rate, cache writes at a quarter premium,
// mirroring the published Anthropic price sheet.
type modelRate struct {
	inputPerMTok  float64
	outputPerMTok float64
}

// ratesByFamily matches on a substring of the model name so dated releases
// ("claude-sonnet-4-5-20250929") and tier aliases ("sonnet") both resolve.
// First match wins.
var ratesByFamily = []struct {
	family string
	rate   modelRate
}{
	{"opus", modelRate{inputPerMTok: 15, outputPerMTok: 75}},
	{"sonnet", modelRate{inputPerMTok: 3, outputPerMTok: 15}},
	{"haiku", modelRate{inputPerMTok: 0.80, outputPerMTok: 4}},
}

// defaultRate covers unrecognized and empty model names.
var defaultRate = modelRate{inputPerMTok: 3, outputPerMTok: 15}

func rateFor(modelName string) modelRate {
	name := strings.ToLower(modelName)
	for _, entry := range ratesByFamily {
		if strings.Contains(name, entry.family) {
			return entry.rate
		}
	}
	return defaultRate
}

// estimateCostUSD prices one model call's usage. Estimates feed budget
// enforcement and the session's totalCostUSD; they are not a billing
// source of truth.
func estimateCostUSD(modelName string, usage model.Usage) float64 {
	r := rateFor(modelName)
	cost := float64(usage.InputTokens) * r.inputPerMTok / 1e6
	cost += float64(usage.OutputTokens) * r.outputPerMTok / 1e6
	cost += float64(usage.CacheReadTokens) * r.inputPerMTok * 0.1 / 1e6
	cost += float64(usage.CacheCreationTokens) * r.inputPerMTok * 1.25 / 1e6
	return cost
}
