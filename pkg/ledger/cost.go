package ledger

// CostModel converts measured usage into ledger units.
type CostModel struct {
	// Multipliers scales usage per model id. Unlisted models count 1:1.
	Multipliers    map[string]int64
	ImageSurcharge int64
}

func (m CostModel) Text(model string, usage int64) int64 {
	if usage <= 0 {
		return 0
	}
	if mult, ok := m.Multipliers[model]; ok && mult > 0 {
		return usage * mult
	}
	return usage
}

func (m CostModel) Image(produced bool) int64 {
	if !produced {
		return 0
	}
	if m.ImageSurcharge > 0 {
		return m.ImageSurcharge
	}
	return ImageSurcharge
}
