// Package currency resolves currency reference data, either from a YAML file
// loaded at startup or from the currencies table.
package currency

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/bibbank/reconciliation/internal/domain/model"
	"github.com/bibbank/reconciliation/internal/domain/port"
	"github.com/bibbank/reconciliation/pkg/money"
)

//go:embed currencies.yaml
var defaultSeed []byte

var _ port.CurrencyRegistry = (*StaticRegistry)(nil)

type seedEntry struct {
	ID     int64  `yaml:"id"`
	Code   string `yaml:"code"`
	Digits uint8  `yaml:"digits"`
}

type seedFile struct {
	Currencies []seedEntry `yaml:"currencies"`
}

// StaticRegistry serves a fixed set of currencies held in memory.
type StaticRegistry struct {
	byID map[money.CurrencyID]money.Currency
}

// NewStaticRegistry builds a registry from already validated currencies.
func NewStaticRegistry(currencies ...money.Currency) (*StaticRegistry, error) {
	r := &StaticRegistry{byID: make(map[money.CurrencyID]money.Currency, len(currencies))}
	codes := make(map[string]money.CurrencyID, len(currencies))
	for _, c := range currencies {
		if _, dup := r.byID[c.ID()]; dup {
			return nil, fmt.Errorf("duplicate currency id %d", c.ID())
		}
		if other, dup := codes[c.Code()]; dup {
			return nil, fmt.Errorf("currency %s declared twice (ids %d and %d)", c.Code(), other, c.ID())
		}
		r.byID[c.ID()] = c
		codes[c.Code()] = c.ID()
	}
	return r, nil
}

// ParseYAML builds a registry from a YAML seed document.
func ParseYAML(data []byte) (*StaticRegistry, error) {
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse currency seed: %w", err)
	}
	if len(seed.Currencies) == 0 {
		return nil, fmt.Errorf("currency seed declares no currencies")
	}

	currencies := make([]money.Currency, 0, len(seed.Currencies))
	for _, e := range seed.Currencies {
		if e.ID <= 0 {
			return nil, fmt.Errorf("currency %s: id must be positive, got %d", e.Code, e.ID)
		}
		c, err := money.NewCurrency(money.CurrencyID(e.ID), e.Code, e.Digits)
		if err != nil {
			return nil, err
		}
		currencies = append(currencies, c)
	}
	return NewStaticRegistry(currencies...)
}

// LoadFile builds a registry from a YAML seed file.
func LoadFile(path string) (*StaticRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read currency file: %w", err)
	}
	return ParseYAML(data)
}

// Default returns the registry built from the embedded seed.
func Default() *StaticRegistry {
	r, err := ParseYAML(defaultSeed)
	if err != nil {
		panic(fmt.Sprintf("embedded currency seed: %v", err))
	}
	return r
}

// Lookup returns the currency with the given ID.
func (r *StaticRegistry) Lookup(_ context.Context, id money.CurrencyID) (money.Currency, error) {
	c, ok := r.byID[id]
	if !ok {
		return money.Currency{}, fmt.Errorf("currency %d: %w", id, model.ErrCurrencyNotFound)
	}
	return c, nil
}

// All returns every currency ordered by ID.
func (r *StaticRegistry) All() []money.Currency {
	out := make([]money.Currency, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
