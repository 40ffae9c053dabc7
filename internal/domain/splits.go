package domain

// CalculateSplits partitions a held amount into chunks no larger than
// maxAmount. The sum of the chunks equals heldAmount and chunks are settled
// strictly in order, one saga thread per index.
func CalculateSplits(heldAmount, maxAmount float64) []float64 {
	if heldAmount <= 0 || maxAmount <= 0 {
		return nil
	}
	if heldAmount <= maxAmount {
		return []float64{heldAmount}
	}
	splits := make([]float64, 0, int(heldAmount/maxAmount)+1)
	remaining := heldAmount
	for remaining > maxAmount {
		splits = append(splits, maxAmount)
		remaining -= maxAmount
	}
	if remaining > 0 {
		splits = append(splits, remaining)
	}
	return splits
}
