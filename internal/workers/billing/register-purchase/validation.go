// internal/workers/billing/register-purchase/validation.go
package registerpurchase

import (
	"play-entitlements/internal/common/errors"
	"play-entitlements/internal/common/validation"
	"play-entitlements/internal/models"
)

var inputSchema = validation.JSONSchema{
	Type: "object",
	Properties: map[string]validation.Property{
		"userId": {
			Type:      "string",
			MinLength: validation.IntPtr(1),
			MaxLength: validation.IntPtr(128),
		},
		"token": {
			Type:      "string",
			MinLength: validation.IntPtr(1),
			MaxLength: validation.IntPtr(4096),
		},
		"productRef": {
			Type: "object",
			Properties: map[string]validation.Property{
				"packageName": {
					Type:    "string",
					Pattern: validation.StringPtr(`^[A-Za-z][A-Za-z0-9_]*(\.[A-Za-z0-9_]+)+$`),
				},
				"productId": {
					Type:      "string",
					MinLength: validation.IntPtr(1),
					MaxLength: validation.IntPtr(256),
				},
				"kind": {
					Type: "string",
					Enum: []string{string(models.ProductKindSubscription), string(models.ProductKindOneTime)},
				},
			},
			Required: []string{"packageName", "productId"},
		},
	},
	Required:             []string{"userId", "productRef", "token"},
	AdditionalProperties: false,
}

func validateInput(input *Input) error {
	result, err := validation.Validate(input, inputSchema)
	if err != nil {
		return errors.NewInternalError(err)
	}
	if !result.Valid {
		return errors.NewValidationError(result.Summary())
	}
	return nil
}

// resolveKind fills in the product kind. An explicit kind wins, then the
// catalog, then the subscription default older clients rely on.
func (s *Service) resolveKind(ref models.ProductRef) (models.ProductRef, error) {
	product, known := s.catalog.Lookup(ref.PackageName, ref.ProductID)
	if s.config.StrictCatalog && !known {
		return ref, errors.NewUnsupportedProductError(ref.ProductID)
	}
	if ref.Kind != "" {
		return ref, nil
	}
	if known {
		ref.Kind = models.ProductKind(product.Kind)
		return ref, nil
	}
	ref.Kind = models.ProductKindSubscription
	return ref, nil
}
