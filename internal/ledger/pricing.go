// Package ledger computes per-call cost from token usage and maintains a
// monotonically non-decreasing cumulative session cost.
package ledger

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrNoPricing signals a missing pricing entry. Callers treat it as a
// diagnosable condition, never as a turn-aborting failure.
var ErrNoPricing = errors.New("no pricing for model")

// MicroUSD is a monetary amount in millionths of a US dollar. Integer math
// keeps turn costs exactly summable; cumulative session cost is always the
// exact sum of turn costs.
type MicroUSD int64

// String formats the amount as dollars.
func (m MicroUSD) String() string {
	return fmt.Sprintf("$%.6f", float64(m)/1e6)
}

// Dollars returns the amount as a float for display purposes only.
func (m MicroUSD) Dollars() float64 {
	return float64(m) / 1e6
}

// ModelPrice is the price of one model, in micro-USD per million tokens.
type ModelPrice struct {
	InputPerMTok  MicroUSD
	OutputPerMTok MicroUSD
}

// Pricing is an immutable pricing table keyed by provider and model.
type Pricing struct {
	prices map[string]ModelPrice
}

func priceKey(provider, model string) string {
	return provider + "/" + model
}

// NewPricing builds a pricing table from explicit entries keyed
// "provider/model".
func NewPricing(entries map[string]ModelPrice) *Pricing {
	prices := make(map[string]ModelPrice, len(entries))
	for k, v := range entries {
		prices[k] = v
	}
	return &Pricing{prices: prices}
}

// pricingFile is the YAML layout of a pricing table on disk.
type pricingFile struct {
	Providers map[string]map[string]struct {
		InputPerMTok  float64 `yaml:"input_per_mtok"`  // USD per million input tokens
		OutputPerMTok float64 `yaml:"output_per_mtok"` // USD per million output tokens
	} `yaml:"providers"`
}

// LoadPricing reads a pricing table from a YAML file.
func LoadPricing(path string) (*Pricing, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing file: %w", err)
	}
	var file pricingFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse pricing file: %w", err)
	}

	prices := make(map[string]ModelPrice)
	for providerName, models := range file.Providers {
		for model, p := range models {
			prices[priceKey(providerName, model)] = ModelPrice{
				InputPerMTok:  MicroUSD(math.Round(p.InputPerMTok * 1e6)),
				OutputPerMTok: MicroUSD(math.Round(p.OutputPerMTok * 1e6)),
			}
		}
	}
	return &Pricing{prices: prices}, nil
}

// Cost computes the cost of a single call. It is a pure function of its
// inputs: identical (provider, model, tokens) always yields an identical
// cost. A missing pricing entry yields zero cost and ErrNoPricing.
func (p *Pricing) Cost(provider, model string, inputTokens, outputTokens int) (MicroUSD, error) {
	price, ok := p.prices[priceKey(provider, model)]
	if !ok {
		return 0, fmt.Errorf("%w: %s/%s", ErrNoPricing, provider, model)
	}
	in := int64(price.InputPerMTok) * int64(inputTokens) / 1_000_000
	out := int64(price.OutputPerMTok) * int64(outputTokens) / 1_000_000
	return MicroUSD(in + out), nil
}

// Has reports whether the table prices the given model.
func (p *Pricing) Has(provider, model string) bool {
	_, ok := p.prices[priceKey(provider, model)]
	return ok
}
