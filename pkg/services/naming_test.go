package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForeignKeyStem(t *testing.T) {
	tests := []struct {
		column string
		stem   string
		ok     bool
	}{
		{"customer_id", "customer", true},
		{"Customer_ID", "customer", true},
		{"order_item_id", "order_item", true},
		{"_id", "", false},
		{"id", "", false},
		{"customer", "", false},
		{"idea", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.column, func(t *testing.T) {
			stem, ok := foreignKeyStem(tt.column)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.stem, stem)
		})
	}
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Order Items", "order_items"},
		{"order-items", "order_items"},
		{"  Sales.Region  ", "sales_region"},
		{"a -- b", "a_b"},
		{"customers", "customers"},
		{"trailing_", "trailing"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeName(tt.in))
		})
	}
}

func TestSingularAndPluralNames(t *testing.T) {
	assert.Equal(t, "customer", singularName("Customers"))
	assert.Equal(t, "category", singularName("categories"))
	assert.Equal(t, "person", singularName("people"))
	assert.Equal(t, "customers", pluralName("customer"))
	assert.Equal(t, "categories", pluralName("category"))
}
