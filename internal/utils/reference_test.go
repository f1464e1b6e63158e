package utils

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateReferenceIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		ref := GenerateReference("PO")
		require.False(t, seen[ref], "duplicate reference %s", ref)
		seen[ref] = true
		assert.True(t, strings.HasPrefix(ref, "PO_"))
		assert.Len(t, strings.Split(ref, "_"), 3)
	}
}

func TestNewReferenceGeneratorRejectsBadNode(t *testing.T) {
	_, err := NewReferenceGenerator(4096)
	assert.Error(t, err)
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "$12.50", FormatAmount(decimal.RequireFromString("12.5"), "USD"))
	assert.Equal(t, "GH₵3.00", FormatAmount(decimal.NewFromInt(3), "ghs"))
	assert.Equal(t, "7.10 KES", FormatAmount(decimal.RequireFromString("7.1"), "KES"))
}
