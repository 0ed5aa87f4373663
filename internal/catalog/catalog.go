// Package catalog looks up hourly on-demand prices in a static EC2 price file.
//
// The file is a JSON object keyed by "<instanceType>.<Platform>", e.g.
// "t3.micro.Linux". Each value is a product document whose "terms" field is
// either a map of offer terms, each holding "priceDimensions", or a single
// price dimension.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DefaultPlatform is used when the provider reports no platform.
const DefaultPlatform = "linux"

// ErrCatalogMiss is returned when no product exists for a class/platform pair.
var ErrCatalogMiss = errors.New("catalog miss")

// Dimension is a single price dimension of an offer term.
type Dimension struct {
	Unit         string            `json:"unit,omitempty"`
	Description  string            `json:"description,omitempty"`
	PricePerUnit map[string]string `json:"pricePerUnit"`
}

type term struct {
	PriceDimensions map[string]json.RawMessage `json:"priceDimensions"`
}

// Entry is the result of a lookup.
type Entry struct {
	Key       string
	HourlyUSD float64
	// Product is the catalog document with "terms" replaced by the chosen
	// price dimension.
	Product map[string]any
}

// Catalog is an in-memory price table. It is read-only after Load.
type Catalog struct {
	products map[string]json.RawMessage
}

// Load reads a catalog file from disk.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path) // #nosec G304 -- path comes from config
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer func() { _ = f.Close() }()

	return Parse(f)
}

// Parse decodes a catalog from r.
func Parse(r io.Reader) (*Catalog, error) {
	products := make(map[string]json.RawMessage)
	if err := json.NewDecoder(r).Decode(&products); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return &Catalog{products: products}, nil
}

// New builds a catalog from already-decoded product documents.
func New(products map[string]any) (*Catalog, error) {
	raw := make(map[string]json.RawMessage, len(products))
	for k, v := range products {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode product %s: %w", k, err)
		}
		raw[k] = b
	}
	return &Catalog{products: raw}, nil
}

// Len returns the number of products in the catalog.
func (c *Catalog) Len() int {
	return len(c.products)
}

// Key builds the lookup key for an instance class and platform.
func Key(instanceClass, platform string) string {
	if platform == "" {
		platform = DefaultPlatform
	}
	return instanceClass + "." + cases.Title(language.Und).String(platform)
}

// PriceFor returns the hourly USD price for instanceClass on platform.
//
// When an entry carries more than one offer term or price dimension, keys
// are sorted and the first one wins.
func (c *Catalog) PriceFor(instanceClass, platform string) (Entry, error) {
	key := Key(instanceClass, platform)
	raw, ok := c.products[key]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrCatalogMiss, key)
	}

	var product map[string]any
	if err := json.Unmarshal(raw, &product); err != nil {
		return Entry{}, fmt.Errorf("decode product %s: %w", key, err)
	}

	var doc struct {
		Terms json.RawMessage `json:"terms"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Entry{}, fmt.Errorf("decode product %s: %w", key, err)
	}

	dimRaw, err := firstDimension(doc.Terms)
	if err != nil {
		return Entry{}, fmt.Errorf("product %s: %w", key, err)
	}

	var dim Dimension
	if err := json.Unmarshal(dimRaw, &dim); err != nil {
		return Entry{}, fmt.Errorf("decode price dimension %s: %w", key, err)
	}
	usd, ok := dim.PricePerUnit["USD"]
	if !ok {
		return Entry{}, fmt.Errorf("product %s: no USD price", key)
	}
	price, err := strconv.ParseFloat(usd, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("product %s: parse price %q: %w", key, usd, err)
	}

	var collapsed map[string]any
	if err := json.Unmarshal(dimRaw, &collapsed); err != nil {
		return Entry{}, fmt.Errorf("decode price dimension %s: %w", key, err)
	}
	product["terms"] = collapsed

	return Entry{Key: key, HourlyUSD: price, Product: product}, nil
}

// firstDimension resolves terms.*.priceDimensions.*, falling back to terms
// itself when the nested path does not exist.
func firstDimension(terms json.RawMessage) (json.RawMessage, error) {
	if len(terms) == 0 {
		return nil, errors.New("no terms")
	}

	var byTerm map[string]term
	if err := json.Unmarshal(terms, &byTerm); err == nil {
		for _, termKey := range sortedKeys(byTerm) {
			dims := byTerm[termKey].PriceDimensions
			if len(dims) == 0 {
				continue
			}
			return dims[sortedKeys(dims)[0]], nil
		}
	}

	return terms, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
