package features

// Schema is the ordered column layout a scaling model was fitted on, with the
// per-column training mean used for columns the extractor does not produce.
type Schema struct {
	Columns []string
	Means   []float64
}

// Width returns the number of columns.
func (s *Schema) Width() int {
	if s == nil {
		return 0
	}
	return len(s.Columns)
}

// Assemble lays out extracted features in schema order. Every column starts at
// the schema mean and is overwritten when the extractor produced a value with
// exactly the same name. An empty schema yields a zero vector of fallbackDim.
func Assemble(f Features, schema *Schema, fallbackDim int) []float64 {
	if schema.Width() == 0 {
		if fallbackDim < 0 {
			fallbackDim = 0
		}
		return make([]float64, fallbackDim)
	}

	row := make([]float64, len(schema.Columns))
	for i, col := range schema.Columns {
		if i < len(schema.Means) {
			row[i] = schema.Means[i]
		}
		if v, ok := f[col]; ok {
			row[i] = v
		}
	}
	return row
}

// AssembleBatch assembles one row per feature map.
func AssembleBatch(rows []Features, schema *Schema, fallbackDim int) [][]float64 {
	out := make([][]float64, len(rows))
	for i, f := range rows {
		out[i] = Assemble(f, schema, fallbackDim)
	}
	return out
}
