package executor

// Batch holds what a Run collected.
type Batch[R any] struct {
	// Results in arrival order.
	Results []R

	// Completed lists worker ids in the order their completion markers
	// arrived.
	Completed []int
}

// Incomplete reports whether fewer than workers completion markers were
// seen.
func (b *Batch[R]) Incomplete(workers int) bool {
	return len(b.Completed) < workers
}
