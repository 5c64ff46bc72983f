// pkg/registry/schema.go
package registry

// ProductRegistry is the catalog of Play products the app sells.
type ProductRegistry struct {
	Version     string    `json:"version"`
	LastUpdated string    `json:"lastUpdated"`
	PackageName string    `json:"packageName"`
	Products    []Product `json:"products"`
}

type Product struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"displayName"`
	Kind        string   `json:"kind"` // "subscription" or "product"
	PackageName string   `json:"packageName,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

const (
	KindSubscription = "subscription"
	KindProduct      = "product"
)
