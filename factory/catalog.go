/*
Package factory provides document to Go catalog conversion.

PURPOSE:
  Converts a catalog document (YAML or JSON) into the reference data the till
  engine reads but never writes: terminals, variance reasons and the currency's
  denominations. Store operators edit one file; the factory validates it and
  seeds the store at startup.

SCHEMA:
  terminals:
    - id: T1
      location_id: store-01
      company_id: acme
      terminal_type: counter
      active: true
  variance_reasons:
    - id: short-count
      name: Miscounted change
      type: shortage        # shortage | excess
      active: true
  denominations: ["100", "50", "20", "10", "5", "1", "0.25", "0.10"]

KEY FEATURES:
  - JSON is accepted wherever YAML is (same field names)
  - "active" defaults to true when omitted
  - Rejects duplicate ids, unknown reason types and non-positive face values

USAGE:
  cat, err := factory.LoadFile("catalog.yaml")
  err = cat.Seed(ctx, store)
  engine := till.NewSettlementEngine(store, store, validator,
      till.WithDenominations(cat.Denominations...))
*/
package factory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/till-engine/till"
)

// =============================================================================
// DOCUMENT TYPES
// =============================================================================

// CatalogDoc is the document representation of a catalog.
type CatalogDoc struct {
	Terminals       []TerminalDoc `yaml:"terminals" json:"terminals"`
	VarianceReasons []ReasonDoc   `yaml:"variance_reasons" json:"variance_reasons"`
	Denominations   []string      `yaml:"denominations" json:"denominations"`
}

// TerminalDoc represents one terminal entry.
type TerminalDoc struct {
	ID           string `yaml:"id" json:"id"`
	LocationID   string `yaml:"location_id" json:"location_id"`
	CompanyID    string `yaml:"company_id" json:"company_id"`
	TerminalType string `yaml:"terminal_type" json:"terminal_type"`
	Active       *bool  `yaml:"active" json:"active,omitempty"`
}

// ReasonDoc represents one variance reason entry.
type ReasonDoc struct {
	ID     string `yaml:"id" json:"id"`
	Name   string `yaml:"name" json:"name"`
	Type   string `yaml:"type" json:"type"`
	Active *bool  `yaml:"active" json:"active,omitempty"`
}

// =============================================================================
// CATALOG
// =============================================================================

// Catalog is the validated domain form of a CatalogDoc.
type Catalog struct {
	Terminals       []till.Terminal
	VarianceReasons []till.VarianceReason
	Denominations   []decimal.Decimal
}

// Seeder is what a catalog is written into. Both stores implement it.
type Seeder interface {
	PutTerminal(ctx context.Context, t till.Terminal) error
	PutReason(ctx context.Context, r till.VarianceReason) error
}

// LoadFile reads a catalog, choosing the decoder by file extension.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return ParseJSON(data)
	}
	return ParseYAML(data)
}

// ParseYAML parses a YAML (or JSON) catalog document.
func ParseYAML(data []byte) (*Catalog, error) {
	var doc CatalogDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog YAML: %w", err)
	}
	return FromDoc(doc)
}

// ParseJSON parses a JSON catalog document.
func ParseJSON(data []byte) (*Catalog, error) {
	var doc CatalogDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog JSON: %w", err)
	}
	return FromDoc(doc)
}

// FromDoc converts and validates a document. All problems are reported
// together.
func FromDoc(doc CatalogDoc) (*Catalog, error) {
	var (
		cat  Catalog
		errs []error
	)

	seenTerminals := make(map[string]bool)
	for i, td := range doc.Terminals {
		id := strings.TrimSpace(td.ID)
		switch {
		case id == "":
			errs = append(errs, fmt.Errorf("terminals[%d]: id is required", i))
			continue
		case seenTerminals[id]:
			errs = append(errs, fmt.Errorf("terminals[%d]: duplicate id %q", i, id))
			continue
		}
		seenTerminals[id] = true
		cat.Terminals = append(cat.Terminals, till.Terminal{
			ID:           till.TerminalID(id),
			LocationID:   td.LocationID,
			CompanyID:    td.CompanyID,
			TerminalType: td.TerminalType,
			IsActive:     boolOr(td.Active, true),
		})
	}

	seenReasons := make(map[string]bool)
	for i, rd := range doc.VarianceReasons {
		id := strings.TrimSpace(rd.ID)
		rt := till.ReasonType(strings.ToLower(strings.TrimSpace(rd.Type)))
		switch {
		case id == "":
			errs = append(errs, fmt.Errorf("variance_reasons[%d]: id is required", i))
			continue
		case seenReasons[id]:
			errs = append(errs, fmt.Errorf("variance_reasons[%d]: duplicate id %q", i, id))
			continue
		case !rt.Valid():
			errs = append(errs, fmt.Errorf("variance_reasons[%d]: unknown type %q", i, rd.Type))
			continue
		}
		seenReasons[id] = true
		name := rd.Name
		if name == "" {
			name = id
		}
		cat.VarianceReasons = append(cat.VarianceReasons, till.VarianceReason{
			ID:         till.ReasonID(id),
			Name:       name,
			ReasonType: rt,
			IsActive:   boolOr(rd.Active, true),
		})
	}

	seenFaces := make(map[string]bool)
	for i, raw := range doc.Denominations {
		face, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			errs = append(errs, fmt.Errorf("denominations[%d]: %w", i, err))
			continue
		}
		if !face.IsPositive() {
			errs = append(errs, fmt.Errorf("denominations[%d]: face value must be positive, got %s", i, raw))
			continue
		}
		key := face.StringFixed(till.MoneyPlaces)
		if seenFaces[key] {
			errs = append(errs, fmt.Errorf("denominations[%d]: duplicate face value %s", i, key))
			continue
		}
		seenFaces[key] = true
		cat.Denominations = append(cat.Denominations, till.Money(face))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	return &cat, nil
}

// Seed upserts every terminal and reason into dst.
func (c *Catalog) Seed(ctx context.Context, dst Seeder) error {
	for _, t := range c.Terminals {
		if err := dst.PutTerminal(ctx, t); err != nil {
			return fmt.Errorf("seed terminal %s: %w", t.ID, err)
		}
	}
	for _, r := range c.VarianceReasons {
		if err := dst.PutReason(ctx, r); err != nil {
			return fmt.Errorf("seed variance reason %s: %w", r.ID, err)
		}
	}
	return nil
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
