// Package budget allocates the max-output-tokens value shared between the
// reasoning trace and the visible response.
package budget

const (
	// Ceiling is the largest max_tokens value ever sent upstream.
	Ceiling = 8192
	// Reservation is the minimum room kept for the visible response on top
	// of the reasoning budget.
	Reservation = 2000
	// MinReasoning and MaxReasoning bound the reasoning budget.
	MinReasoning = 1024
	MaxReasoning = 16000
	// DefaultMaxTokens applies when neither the caller nor the options set one.
	DefaultMaxTokens = 8192
)

// Allocator computes max_tokens. The zero value uses the package constants.
type Allocator struct {
	Ceiling      int
	Reservation  int
	MinReasoning int
	MaxReasoning int
	Default      int
}

// Allocation is the result of one allocation.
type Allocation struct {
	MaxTokens int
	// ReasoningBudget is the clamped reasoning budget, 0 when reasoning is off.
	ReasoningBudget int
	// Clamped is set when the reasoning budget plus the reservation exceeds
	// the ceiling, so the response reservation could not be honored.
	Clamped bool
}

// New returns an allocator with the standard limits and the given default.
func New(defaultMaxTokens int) Allocator {
	return Allocator{Default: defaultMaxTokens}
}

// Allocate reconciles the requested max tokens with the reasoning budget.
// A nil requested means the caller did not ask for a value.
func (a Allocator) Allocate(requested *int, reasoningEnabled bool, reasoningBudget int) Allocation {
	a = a.withDefaults()

	want := a.Default
	if requested != nil {
		want = *requested
	}

	if !reasoningEnabled {
		return Allocation{MaxTokens: min(want, a.Ceiling)}
	}

	clamped := a.ClampReasoning(reasoningBudget)
	minimum := clamped + a.Reservation
	return Allocation{
		MaxTokens:       min(max(want, minimum), a.Ceiling),
		ReasoningBudget: clamped,
		Clamped:         minimum > a.Ceiling,
	}
}

// ClampReasoning bounds b to [MinReasoning, MaxReasoning].
func (a Allocator) ClampReasoning(b int) int {
	a = a.withDefaults()
	return min(max(b, a.MinReasoning), a.MaxReasoning)
}

// ClampReasoning bounds b with the standard limits.
func ClampReasoning(b int) int {
	return Allocator{}.ClampReasoning(b)
}

func (a Allocator) withDefaults() Allocator {
	if a.Ceiling <= 0 {
		a.Ceiling = Ceiling
	}
	if a.Reservation <= 0 {
		a.Reservation = Reservation
	}
	if a.MinReasoning <= 0 {
		a.MinReasoning = MinReasoning
	}
	if a.MaxReasoning <= 0 {
		a.MaxReasoning = MaxReasoning
	}
	if a.Default <= 0 {
		a.Default = DefaultMaxTokens
	}
	return a
}
