package dispatch

// Partition splits items into contiguous batches of at most size elements.
// The last batch may be shorter. The union of all batches is exactly the
// input, each item once.
func Partition(items []string, size int) [][]string {
	if len(items) == 0 {
		return nil
	}
	if size < 1 {
		size = 1
	}

	batches := make([][]string, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[start:end])
	}

	return batches
}
