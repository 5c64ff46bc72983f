// pkg/registry/registry.go
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

func LoadRegistry(path string) (*ProductRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var reg ProductRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return &reg, nil
}

// Empty returns a registry that knows no products.
func Empty() *ProductRegistry {
	return &ProductRegistry{}
}

func (r *ProductRegistry) Validate() error {
	seen := make(map[string]bool, len(r.Products))
	for i, p := range r.Products {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("product %d: id is required", i)
		}
		if p.Kind != KindSubscription && p.Kind != KindProduct {
			return fmt.Errorf("product %s: kind must be %q or %q", p.ID, KindSubscription, KindProduct)
		}
		key := r.packageOf(p) + "/" + p.ID
		if seen[key] {
			return fmt.Errorf("product %s: duplicate id", p.ID)
		}
		seen[key] = true
	}
	return nil
}

// Lookup finds a product by id, preferring an entry bound to packageName.
func (r *ProductRegistry) Lookup(packageName, productID string) (Product, bool) {
	if r == nil {
		return Product{}, false
	}
	var fallback *Product
	for i := range r.Products {
		p := r.Products[i]
		if p.ID != productID {
			continue
		}
		if r.packageOf(p) == packageName {
			return p, true
		}
		if r.packageOf(p) == "" && fallback == nil {
			fallback = &r.Products[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return Product{}, false
}

func (r *ProductRegistry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Products)
}

func (r *ProductRegistry) packageOf(p Product) string {
	if p.PackageName != "" {
		return p.PackageName
	}
	return r.PackageName
}
