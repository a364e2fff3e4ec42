package models

import (
	decimal "github.com/shopspring/decimal"
)

var oneMillion = decimal.NewFromInt(1_000_000)

// ModelCard describes a model the service may submit work to.
type ModelCard struct {
	APIModel       string          `json:"api_model"`
	Name           string          `json:"name"`
	Provider       string          `json:"provider"`
	ModelType      string          `json:"model_type"`
	InModalities   []string        `json:"in_modalities"`
	BatchUse       bool            `json:"batch_use"`
	ContextType    ContextType     `json:"context_type"`
	MaxOutTokens   int32           `json:"max_out_tokens"`
	InputCostPerM  decimal.Decimal `json:"input_1m_token_cost"`
	OutputCostPerM decimal.Decimal `json:"output_1m_token_cost"`
}

// Cost prices the usage against the card. discount is the fraction taken off
// list price (0.5 for batch jobs).
func (m ModelCard) Cost(usage Usage, discount float64) decimal.Decimal {
	in := m.InputCostPerM.Mul(decimal.NewFromInt(usage.PromptTokens)).Div(oneMillion)
	out := m.OutputCostPerM.Mul(decimal.NewFromInt(usage.CompletionTokens)).Div(oneMillion)
	total := in.Add(out)
	if discount > 0 {
		total = total.Mul(decimal.NewFromInt(1).Sub(decimal.NewFromFloat(discount)))
	}
	return total.Round(6)
}
