package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/swap_dispatcher/internal/app/domain/amount"
)

type amountFile struct {
	Amounts []struct {
		PositionKey int    `yaml:"position_key"`
		Amount      string `yaml:"amount"`
	} `yaml:"amounts"`
}

// LoadAmountTable reads a YAML amount table of the form
//
//	amounts:
//	  - position_key: 1
//	    amount: "0.00001"
//
// Amounts are quoted strings so no precision is lost on the way to decimal.
func LoadAmountTable(path string) ([]amount.Entry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read amount table: %w", err)
	}
	return ParseAmountTable(raw)
}

// ParseAmountTable decodes YAML amount table content.
func ParseAmountTable(raw []byte) ([]amount.Entry, error) {
	var doc amountFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse amount table: %w", err)
	}
	entries := make([]amount.Entry, 0, len(doc.Amounts))
	for i, row := range doc.Amounts {
		value, err := decimal.NewFromString(row.Amount)
		if err != nil {
			return nil, fmt.Errorf("amount table row %d: %w", i+1, err)
		}
		entries = append(entries, amount.Entry{PositionKey: row.PositionKey, Amount: value})
	}
	return entries, nil
}
