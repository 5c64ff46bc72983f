// internal/common/validation/schema_test.go
package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() JSONSchema {
	return JSONSchema{
		Type:     "object",
		Required: []string{"userId", "token"},
		Properties: map[string]Property{
			"userId": {Type: "string", MinLength: IntPtr(1)},
			"token":  {Type: "string", MinLength: IntPtr(1), MaxLength: IntPtr(10)},
			"kind":   {Type: "string", Enum: []string{"subscription", "product"}},
		},
		AdditionalProperties: false,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		document  interface{}
		wantValid bool
		wantField string
	}{
		{name: "valid struct", document: map[string]interface{}{"userId": "u1", "token": "t"}, wantValid: true},
		{name: "valid bytes", document: []byte(`{"userId":"u1","token":"t","kind":"product"}`), wantValid: true},
		{name: "missing token", document: []byte(`{"userId":"u1"}`), wantField: "(root)"},
		{name: "empty user", document: map[string]interface{}{"userId": "", "token": "t"}, wantField: "userId"},
		{name: "bad enum", document: []byte(`{"userId":"u1","token":"t","kind":"coins"}`), wantField: "kind"},
		{name: "extra field", document: []byte(`{"userId":"u1","token":"t","x":1}`), wantField: "(root)"},
		{name: "too long", document: []byte(`{"userId":"u1","token":"0123456789abc"}`), wantField: "token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Validate(tt.document, testSchema())
			require.NoError(t, err)
			assert.Equal(t, tt.wantValid, res.Valid)
			if !tt.wantValid {
				require.NotEmpty(t, res.Errors)
				assert.Equal(t, tt.wantField, res.Errors[0].Field)
				assert.NotEmpty(t, res.Summary())
			}
		})
	}
}

func TestValidate_NotJSON(t *testing.T) {
	_, err := Validate([]byte(`{not json`), testSchema())
	assert.Error(t, err)
}
