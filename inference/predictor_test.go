package inference

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"traindelay/ml"
)

var classes = []string{"High", "Low", "Medium", "No Delay", "Very High"}

func fixedNow() time.Time {
	return time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC)
}

// travelTree predicts "No Delay" for journeys up to 400 minutes and "High"
// above.
func travelTree() *ml.DecisionTree {
	return ml.NewDecisionTree([]ml.TreeNode{
		{FeatureIdx: 0, Threshold: 400, LeftChild: 1, RightChild: 2},
		{FeatureIdx: -1, ClassLabel: 3, IsLeaf: true, Counts: []float64{1, 0, 0, 3, 0}},
		{FeatureIdx: -1, ClassLabel: 0, IsLeaf: true},
	})
}

func testBundle(name string, model ml.Classifier) *ml.Bundle {
	return &ml.Bundle{
		Manifest: ml.Manifest{Name: name, Type: ml.ModelTypeDecisionTree},
		Model:    model,
		Labels:   ml.NewLabelEncoder(classes),
		Columns:  []string{ml.ColTravelTime, ml.ColType, ml.ColCoachCount, "Hills"},
	}
}

type fakeSource struct {
	mu      sync.Mutex
	bundles map[string][]*ml.Bundle
	gets    int
}

// Get hands out the queued bundles in order and then keeps returning the
// last one.
func (f *fakeSource) Get(name string) (*ml.Bundle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	queue := f.bundles[name]
	if len(queue) == 0 {
		return nil, fmt.Errorf("%w: %q", ml.ErrModelNotFound, name)
	}
	b := queue[0]
	if len(queue) > 1 {
		f.bundles[name] = queue[1:]
	}
	return b, nil
}

type fakeRecorder struct {
	predictions []string
	failures    []string
}

func (r *fakeRecorder) ObservePrediction(model, label string, _ time.Duration) {
	r.predictions = append(r.predictions, model+"/"+label)
}

func (r *fakeRecorder) PredictionFailed(model, stage string) {
	r.failures = append(r.failures, model+"/"+stage)
}

func newTestPredictor(t *testing.T, source ModelSource, rec Recorder, obs Observer) *Predictor {
	return NewPredictor(source, Options{
		DefaultModel: "baseline",
		Now:          fixedNow,
		Logger:       zaptest.NewLogger(t),
		Recorder:     rec,
		Observer:     obs,
	})
}

func formInput() ml.JourneyInput {
	in := ml.DefaultJourneyInput(fixedNow())
	in.Type = "Express"
	in.Zone = "NR"
	in.Terrain = []string{"Hills"}
	return in
}

func TestPredictForm(t *testing.T) {
	source := &fakeSource{bundles: map[string][]*ml.Bundle{"baseline": {testBundle("baseline", travelTree())}}}
	rec := &fakeRecorder{}
	var seen []Prediction
	p := newTestPredictor(t, source, rec, ObserverFunc(func(pred Prediction) { seen = append(seen, pred) }))

	pred, err := p.Predict(context.Background(), "", formInput())
	require.NoError(t, err)

	assert.Equal(t, "baseline", pred.Model)
	assert.Equal(t, "No Delay", pred.Label)
	assert.Equal(t, 3, pred.ClassIndex)
	assert.InDelta(t, 0.75, pred.Confidence, 1e-9)
	assert.Equal(t, "Predicted Delay Category: No Delay", pred.Summary())
	assert.Equal(t, map[string]float64{
		ml.ColTravelTime: 360, ml.ColType: 0, ml.ColCoachCount: 20, "Hills": 1,
	}, pred.Features)
	assert.InDelta(t, 0.25, pred.Probabilities["High"], 1e-9)
	assert.InDelta(t, 0.75, pred.Probabilities["No Delay"], 1e-9)

	assert.Equal(t, []string{"baseline/No Delay"}, rec.predictions)
	require.Len(t, seen, 1)
	assert.Equal(t, "No Delay", seen[0].Label)
}

func TestPredictRejectsInvalidInput(t *testing.T) {
	source := &fakeSource{bundles: map[string][]*ml.Bundle{"baseline": {testBundle("baseline", travelTree())}}}
	rec := &fakeRecorder{}
	p := newTestPredictor(t, source, rec, nil)

	in := formInput()
	in.CoachCount = 99
	in.Pantry = "maybe"
	_, err := p.Predict(context.Background(), "", in)
	require.Error(t, err)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageValidate, stageErr.Stage)
	assert.Len(t, ml.FieldErrors(err), 2)
	assert.Equal(t, []string{"baseline/validate"}, rec.failures)
	assert.Zero(t, source.gets, "invalid input must not load a model")
}

func TestPredictUnknownModel(t *testing.T) {
	rec := &fakeRecorder{}
	p := newTestPredictor(t, &fakeSource{bundles: map[string][]*ml.Bundle{}}, rec, nil)
	_, err := p.Predict(context.Background(), "forest", formInput())
	assert.ErrorIs(t, err, ml.ErrModelNotFound)
	_, err = p.Predict(context.Background(), "forest-"+strings.Repeat("x", 64), formInput())
	assert.ErrorIs(t, err, ml.ErrModelNotFound)
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageModel, stageErr.Stage)
	assert.True(t, strings.HasPrefix(stageErr.Model, "forest-"))
	assert.Equal(t, []string{"unknown/model", "unknown/model"}, rec.failures)

	p = NewPredictor(&fakeSource{}, Options{})
	_, err = p.PredictRecords(context.Background(), "", []ml.RawRecord{{}})
	assert.ErrorIs(t, err, ml.ErrModelNotFound)
}

func TestPredictRecordsBatch(t *testing.T) {
	source := &fakeSource{bundles: map[string][]*ml.Bundle{"baseline": {testBundle("baseline", travelTree())}}}
	p := newTestPredictor(t, source, nil, nil)

	preds, err := p.PredictRecords(context.Background(), "baseline", []ml.RawRecord{
		{ml.ColDepartureTime: "06:00", ml.ColArrivalTime: "09:00"},
		{ml.ColDepartureTime: "06:00", ml.ColArrivalTime: "23:00"},
	})
	require.NoError(t, err)
	require.Len(t, preds, 2)
	assert.Equal(t, "No Delay", preds[0].Label)
	assert.Equal(t, "High", preds[1].Label)
	assert.Equal(t, 1020.0, preds[1].Features[ml.ColTravelTime])

	_, err = p.PredictRecords(context.Background(), "baseline", nil)
	assert.ErrorIs(t, err, ml.ErrEmptyBatch)
}

func TestPredictRecordsHonoursContext(t *testing.T) {
	source := &fakeSource{bundles: map[string][]*ml.Bundle{"baseline": {testBundle("baseline", travelTree())}}}
	p := newTestPredictor(t, source, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.PredictRecords(ctx, "", []ml.RawRecord{{}})
	assert.ErrorIs(t, err, context.Canceled)
}

type closedModel struct{}

func (closedModel) Predict([]float64) (int, float64, error) { return 0, 0, ml.ErrModelClosed }

func TestPredictReloadsClosedModel(t *testing.T) {
	source := &fakeSource{bundles: map[string][]*ml.Bundle{"baseline": {
		testBundle("baseline", closedModel{}),
		testBundle("baseline", travelTree()),
	}}}
	p := newTestPredictor(t, source, nil, nil)

	pred, err := p.Predict(context.Background(), "", formInput())
	require.NoError(t, err)
	assert.Equal(t, "No Delay", pred.Label)
	assert.Equal(t, 2, source.gets)
}

type badIndexModel struct{}

func (badIndexModel) Predict([]float64) (int, float64, error) { return 9, 1, nil }

func TestPredictDecodeFailure(t *testing.T) {
	source := &fakeSource{bundles: map[string][]*ml.Bundle{"baseline": {testBundle("baseline", badIndexModel{})}}}
	p := newTestPredictor(t, source, nil, nil)

	_, err := p.Predict(context.Background(), "", formInput())
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageDecode, stageErr.Stage)
	assert.ErrorIs(t, err, ml.ErrUnknownLabel)
}

func TestEncodeAlignsToModelColumns(t *testing.T) {
	source := &fakeSource{bundles: map[string][]*ml.Bundle{"baseline": {testBundle("baseline", travelTree())}}}
	p := newTestPredictor(t, source, nil, nil)

	table, err := p.Encode(context.Background(), "", []ml.RawRecord{formInput().Record()})
	require.NoError(t, err)
	assert.Equal(t, []string{ml.ColTravelTime, ml.ColType, ml.ColCoachCount, "Hills"}, table.Columns)
	assert.Equal(t, [][]float64{{360, 0, 20, 1}}, table.Rows)
}
