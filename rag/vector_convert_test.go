package rag

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloat32ToFloat64(t *testing.T) {
	tests := []struct {
		name     string
		input    []float32
		expected []float64
	}{
		{
			name:     "nil input returns nil",
			input:    nil,
			expected: nil,
		},
		{
			name:     "empty slice",
			input:    []float32{},
			expected: []float64{},
		},
		{
			name:     "single element",
			input:    []float32{1.5},
			expected: []float64{1.5},
		},
		{
			name:     "multiple elements",
			input:    []float32{0.1, 0.2, 0.3},
			expected: []float64{0.10000000149011612, 0.20000000298023224, 0.30000001192092896},
		},
		{
			name:     "negative values",
			input:    []float32{-1.0, 0.0, 1.0},
			expected: []float64{-1.0, 0.0, 1.0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Float32ToFloat64(tt.input)
			if tt.input == nil {
				assert.Nil(t, result)
				return
			}
			require.Len(t, result, len(tt.expected))
			for i := range result {
				assert.InDelta(t, tt.expected[i], result[i], 1e-6, "index %d", i)
			}
		})
	}
}

func TestFloat64ToFloat32(t *testing.T) {
	tests := []struct {
		name     string
		input    []float64
		expected []float32
	}{
		{
			name:     "nil input returns nil",
			input:    nil,
			expected: nil,
		},
		{
			name:     "empty slice",
			input:    []float64{},
			expected: []float32{},
		},
		{
			name:     "single element",
			input:    []float64{1.5},
			expected: []float32{1.5},
		},
		{
			name:     "multiple elements",
			input:    []float64{0.1, 0.2, 0.3},
			expected: []float32{0.1, 0.2, 0.3},
		},
		{
			name:     "negative values",
			input:    []float64{-1.0, 0.0, 1.0},
			expected: []float32{-1.0, 0.0, 1.0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Float64ToFloat32(tt.input)
			if tt.input == nil {
				assert.Nil(t, result)
				return
			}
			require.Len(t, result, len(tt.expected))
			for i := range result {
				assert.InDelta(t, float64(tt.expected[i]), float64(result[i]), 1e-6, "index %d", i)
			}
		})
	}
}

func TestProperty_Float32Float64_RoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("round-tripping through float64 preserves float32 precision", prop.ForAll(
		func(values []float32) bool {
			converted := Float32ToFloat64(values)
			if len(converted) != len(values) {
				return false
			}
			roundTripped := Float64ToFloat32(converted)
			if len(roundTripped) != len(values) {
				return false
			}
			for i := range values {
				if values[i] != roundTripped[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Float32Range(-1e6, 1e6)),
	))

	properties.TestingRun(t)
}

func TestProperty_Float64Float32_LengthPreserved(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("conversion never changes slice length", prop.ForAll(
		func(values []float64) bool {
			result := Float64ToFloat32(values)
			if len(result) != len(values) {
				return false
			}
			return len(Float32ToFloat64(result)) == len(values)
		},
		gen.SliceOf(gen.Float64Range(-1e6, 1e6)),
	))

	properties.TestingRun(t)
}
