package order

// Partition splits items into consecutive batches of at most size
// elements. It yields ceil(len(items)/size) batches whose concatenation
// equals items; an empty input yields no batches. A size below one puts
// everything into a single batch.
func Partition[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(items)
	}

	batches := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[start:end:end])
	}
	return batches
}
