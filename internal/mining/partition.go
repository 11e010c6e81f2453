package mining

// Partition splits [start, end) into threads disjoint ranges of
// (end-start)/threads nonces each. Nonces left over by the integer division
// are left unassigned unless assignRemainder is set, in which case the last
// range extends to end.
func Partition(start, end, threads uint64, assignRemainder bool) []WorkerAssignment {
	if threads == 0 || end <= start {
		return nil
	}

	size := (end - start) / threads
	assignments := make([]WorkerAssignment, threads)
	for i := uint64(0); i < threads; i++ {
		lo := start + i*size
		assignments[i] = WorkerAssignment{
			Index: int(i),
			Start: lo,
			End:   lo + size,
		}
	}

	if assignRemainder {
		assignments[threads-1].End = end
	}

	return assignments
}
