package application

// Consumer accumulates a device's reported state. Merge may be called with
// partial or repeated state.
type Consumer interface {
	Merge(reported map[string]any)
}

// ConsumerFunc adapts a function to the Consumer interface.
type ConsumerFunc func(reported map[string]any)

func (f ConsumerFunc) Merge(reported map[string]any) {
	f(reported)
}
