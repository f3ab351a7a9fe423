package budget

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func intPtr(v int) *int { return &v }

func TestAllocateReasoningDisabled(t *testing.T) {
	a := New(8192)
	for _, b := range []int{0, 500, 10000, 50000} {
		got := a.Allocate(intPtr(4096), false, b)
		assert.Equal(t, 4096, got.MaxTokens, "budget %d must not matter", b)
		assert.Zero(t, got.ReasoningBudget)
		assert.False(t, got.Clamped)
	}
	assert.Equal(t, Ceiling, a.Allocate(intPtr(20000), false, 0).MaxTokens)
	assert.Equal(t, 8192, a.Allocate(nil, false, 0).MaxTokens)
}

func TestAllocateReasoningEnabled(t *testing.T) {
	a := Allocator{}

	tests := []struct {
		name      string
		requested *int
		budget    int
		want      int
		clamped   bool
		reasoning int
	}{
		{"zero requested small budget", intPtr(0), 1024, 1024 + Reservation, false, 1024},
		{"below minimum budget", intPtr(0), 10, MinReasoning + Reservation, false, MinReasoning},
		{"requested above minimum", intPtr(6000), 2000, 6000, false, 2000},
		{"ceiling forces clamp", intPtr(0), 10000, Ceiling, true, 10000},
		{"budget above max", intPtr(0), 99999, Ceiling, true, MaxReasoning},
		{"default requested", nil, 1024, DefaultMaxTokens, false, 1024},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.Allocate(tt.requested, true, tt.budget)
			assert.Equal(t, tt.want, got.MaxTokens)
			assert.Equal(t, tt.clamped, got.Clamped)
			assert.Equal(t, tt.reasoning, got.ReasoningBudget)
		})
	}
}

func TestAllocateEnabledFormula(t *testing.T) {
	a := Allocator{}
	for _, b := range []int{0, 1024, 3000, 6192, 7000, 16000, 30000} {
		got := a.Allocate(intPtr(0), true, b)
		want := min(ClampReasoning(b)+Reservation, Ceiling)
		assert.Equal(t, want, got.MaxTokens, "budget %d", b)
	}
}

func TestClampReasoning(t *testing.T) {
	assert.Equal(t, MinReasoning, ClampReasoning(-5))
	assert.Equal(t, 5000, ClampReasoning(5000))
	assert.Equal(t, MaxReasoning, ClampReasoning(MaxReasoning+1))
}

func TestCustomLimits(t *testing.T) {
	a := Allocator{Ceiling: 32000, Reservation: 1000, Default: 4000}
	got := a.Allocate(nil, true, 10000)
	assert.Equal(t, 11000, got.MaxTokens)
	assert.False(t, got.Clamped)
}
