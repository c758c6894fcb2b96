package ml

// Preprocessor runs the encoder and aligns the result to the columns a model
// was trained with.
type Preprocessor struct {
	Encoder *Encoder
	Columns []string
}

func (p *Preprocessor) Transform(records []RawRecord) (*FeatureTable, error) {
	encoder := p.Encoder
	if encoder == nil {
		encoder = &Encoder{}
	}
	table, err := encoder.Encode(records)
	if err != nil {
		return nil, err
	}
	if len(p.Columns) == 0 {
		return table, nil
	}
	return table.Align(p.Columns), nil
}

// MissingColumns lists model columns the encoded table does not produce.
// They are zero-filled by Align.
func (p *Preprocessor) MissingColumns(table *FeatureTable) []string {
	missing := make([]string, 0)
	for _, col := range p.Columns {
		if table.index(col) < 0 {
			missing = append(missing, col)
		}
	}
	return missing
}

// ExtraColumns lists encoded columns the model does not use.
func (p *Preprocessor) ExtraColumns(table *FeatureTable) []string {
	known := make(map[string]bool, len(p.Columns))
	for _, col := range p.Columns {
		known[col] = true
	}
	extra := make([]string, 0)
	for _, col := range table.Columns {
		if !known[col] {
			extra = append(extra, col)
		}
	}
	return extra
}
