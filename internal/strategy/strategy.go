package strategy

// Selector draws an instance index for a pool of n slots.
// Implementations return a value in [0, n), or -1 when n < 1.
type Selector interface {
	Select(n int) int
}

// SelectorFunc adapts a function to the Selector interface.
type SelectorFunc func(n int) int

func (f SelectorFunc) Select(n int) int {
	if n < 1 {
		return -1
	}
	return f(n)
}
