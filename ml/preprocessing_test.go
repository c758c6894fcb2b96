package ml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeatureTableAlign(t *testing.T) {
	table := &FeatureTable{
		Columns: []string{"a", "b", "c"},
		Rows:    [][]float64{{1, 2, 3}, {4, 5, 6}},
	}
	aligned := table.Align([]string{"c", "x", "a"})

	assert.Equal(t, []string{"c", "x", "a"}, aligned.Columns)
	assert.Equal(t, [][]float64{{3, 0, 1}, {6, 0, 4}}, aligned.Rows)
	assert.Equal(t, []string{"a", "b", "c"}, table.Columns, "source table must not change")
}

func TestFeatureTableRowOutOfRange(t *testing.T) {
	table := &FeatureTable{Columns: []string{"a"}, Rows: [][]float64{{1}}}
	_, err := table.Row(1)
	assert.Error(t, err)
}

func TestPreprocessorTransform(t *testing.T) {
	columns := []string{ColTravelTime, "Coastal", ColCoachCount, "Hills", "March_Class"}
	p := &Preprocessor{Encoder: &Encoder{Now: fixedNow}, Columns: columns}

	table, err := p.Transform([]RawRecord{sampleRecord()})
	require.NoError(t, err)
	assert.Equal(t, columns, table.Columns)
	assert.Equal(t, [][]float64{{360, 0, 20, 1, 1}}, table.Rows)

	raw, err := p.Encoder.Encode([]RawRecord{sampleRecord()})
	require.NoError(t, err)
	assert.Equal(t, []string{"Coastal"}, p.MissingColumns(raw))
	assert.Contains(t, p.ExtraColumns(raw), "Plains")
	assert.NotContains(t, p.ExtraColumns(raw), "Hills")
}

func TestPreprocessorWithoutSchemaKeepsEncoderColumns(t *testing.T) {
	p := &Preprocessor{}
	table, err := p.Transform([]RawRecord{{ColCoachCount: "7"}})
	require.NoError(t, err)
	v, ok := table.Column(ColCoachCount)
	require.True(t, ok)
	assert.Equal(t, []float64{7}, v)
}

func TestFeatureTableVector(t *testing.T) {
	table := &FeatureTable{Columns: []string{"a", "b"}, Rows: [][]float64{{1, 2}}}
	v, err := table.Vector(0, []string{"b", "z", "a"})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 0, 1}, v)

	_, err = table.Vector(2, []string{"a"})
	assert.Error(t, err)
}
