package crud

// duplicateBatchSize caps how many keys go into a single IN clause when
// probing for rows that already exist in the archive table.
const duplicateBatchSize = 1000

// chunkStrings splits keys into slices of at most size, preserving order.
func chunkStrings(keys []string, size int) [][]string {
	if len(keys) == 0 {
		return nil
	}
	chunks := make([][]string, 0, len(keys)/size+1)
	for i := 0; i < len(keys); i += size {
		end := i + size
		if end > len(keys) {
			end = len(keys)
		}
		chunks = append(chunks, keys[i:end])
	}
	return chunks
}

// chunkPairs splits a parallel pair of key columns (used for the
// activities compound key) into batches of at most size.
func chunkPairs(a, b []string, size int) [][2][]string {
	if len(a) == 0 {
		return nil
	}
	var chunks [][2][]string
	for i := 0; i < len(a); i += size {
		end := i + size
		if end > len(a) {
			end = len(a)
		}
		chunks = append(chunks, [2][]string{a[i:end], b[i:end]})
	}
	return chunks
}
