// Package inference turns journey input into a predicted delay category
// using a model bundle.
package inference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"traindelay/ml"
)

// Stages reported in StageError and in the error metrics.
const (
	StageValidate = "validate"
	StageModel    = "model"
	StageEncode   = "encode"
	StagePredict  = "predict"
	StageDecode   = "decode"
)

// ModelSource hands out loaded bundles by name. *ml.Registry implements it.
type ModelSource interface {
	Get(name string) (*ml.Bundle, error)
}

// Recorder receives prediction metrics. *monitoring.Metrics implements it.
type Recorder interface {
	ObservePrediction(model, label string, elapsed time.Duration)
	PredictionFailed(model, stage string)
}

// Observer is told about every successful prediction.
type Observer interface {
	PredictionMade(p Prediction)
}

type ObserverFunc func(p Prediction)

func (f ObserverFunc) PredictionMade(p Prediction) { f(p) }

// Prediction is the outcome for one journey.
type Prediction struct {
	Model         string             `json:"model"`
	Label         string             `json:"label"`
	ClassIndex    int                `json:"class_index"`
	Confidence    float64            `json:"confidence"`
	Probabilities map[string]float64 `json:"probabilities,omitempty"`
	Features      map[string]float64 `json:"features,omitempty"`
}

// Summary is the line the form shows for a prediction.
func (p Prediction) Summary() string {
	return "Predicted Delay Category: " + p.Label
}

// StageError records where a prediction failed.
type StageError struct {
	Stage string
	Model string
	Err   error
}

func (e *StageError) Error() string {
	if e.Model == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s with model %s: %v", e.Stage, e.Model, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Options configures a Predictor. Zero values are usable.
type Options struct {
	DefaultModel string
	Now          func() time.Time
	Logger       *zap.Logger
	Recorder     Recorder
	Observer     Observer
}

// Predictor encodes input the way the selected model was trained and runs it.
type Predictor struct {
	models       ModelSource
	defaultModel string
	now          func() time.Time
	logger       *zap.Logger
	recorder     Recorder
	observer     Observer
}

func NewPredictor(models ModelSource, opts Options) *Predictor {
	p := &Predictor{
		models:       models,
		defaultModel: opts.DefaultModel,
		now:          opts.Now,
		logger:       opts.Logger,
		recorder:     opts.Recorder,
		observer:     opts.Observer,
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	return p
}

// DefaultModel is the model used when a request names none.
func (p *Predictor) DefaultModel() string {
	return p.defaultModel
}

// Predict validates one form submission and predicts its delay category.
func (p *Predictor) Predict(ctx context.Context, model string, in ml.JourneyInput) (*Prediction, error) {
	in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, p.fail(p.modelName(model), StageValidate, err)
	}
	preds, err := p.PredictRecords(ctx, model, []ml.RawRecord{in.Record()})
	if err != nil {
		return nil, err
	}
	return &preds[0], nil
}

// PredictRecords predicts every raw record with one model. Records are
// encoded as one batch, so category codes follow the model's vocabulary
// when it has one and the batch otherwise.
func (p *Predictor) PredictRecords(ctx context.Context, model string, records []ml.RawRecord) ([]Prediction, error) {
	start := time.Now()
	name := p.modelName(model)

	var preds []Prediction
	var err error
	// A bundle evicted from the cache mid-request is closed under us; load
	// it again once.
	for attempt := 0; attempt < 2; attempt++ {
		preds, err = p.predict(ctx, name, records)
		if !errors.Is(err, ml.ErrModelClosed) {
			break
		}
		p.logger.Debug("model closed during prediction, retrying", zap.String("model", name))
	}
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	for _, pred := range preds {
		if p.recorder != nil {
			p.recorder.ObservePrediction(pred.Model, pred.Label, elapsed/time.Duration(len(preds)))
		}
		if p.observer != nil {
			p.observer.PredictionMade(pred)
		}
	}
	p.logger.Debug("prediction served",
		zap.String("model", name),
		zap.Int("records", len(records)),
		zap.Duration("elapsed", elapsed))
	return preds, nil
}

func (p *Predictor) predict(ctx context.Context, name string, records []ml.RawRecord) ([]Prediction, error) {
	bundle, table, err := p.encode(name, records)
	if err != nil {
		return nil, err
	}

	prob, hasProb := bundle.Model.(ml.ProbabilityClassifier)
	out := make([]Prediction, 0, table.Len())
	for i, row := range table.Rows {
		if err := ctx.Err(); err != nil {
			return nil, p.fail(name, StagePredict, err)
		}
		idx, confidence, err := bundle.Model.Predict(row)
		if err != nil {
			return nil, p.fail(name, StagePredict, err)
		}
		label, err := bundle.Labels.Decode(idx)
		if err != nil {
			return nil, p.fail(name, StageDecode, err)
		}
		features, err := table.Row(i)
		if err != nil {
			return nil, p.fail(name, StageEncode, err)
		}
		pred := Prediction{
			Model:      name,
			Label:      label,
			ClassIndex: idx,
			Confidence: confidence,
			Features:   features,
		}
		if hasProb {
			dist, err := prob.Probabilities(row)
			if err != nil {
				return nil, p.fail(name, StagePredict, err)
			}
			pred.Probabilities = labelDistribution(bundle.Labels, dist)
		}
		out = append(out, pred)
	}
	return out, nil
}

// Encode returns the feature table a model would receive for records,
// already aligned to its columns.
func (p *Predictor) Encode(ctx context.Context, model string, records []ml.RawRecord) (*ml.FeatureTable, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, table, err := p.encode(p.modelName(model), records)
	return table, err
}

func (p *Predictor) encode(name string, records []ml.RawRecord) (*ml.Bundle, *ml.FeatureTable, error) {
	if name == "" {
		return nil, nil, p.fail(name, StageModel, fmt.Errorf("%w: no model selected", ml.ErrModelNotFound))
	}
	bundle, err := p.models.Get(name)
	if err != nil {
		return nil, nil, p.fail(name, StageModel, err)
	}
	pre := bundle.Preprocessor(p.now)
	table, err := pre.Transform(records)
	if err != nil {
		return nil, nil, p.fail(name, StageEncode, err)
	}
	return bundle, table, nil
}

func (p *Predictor) modelName(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func (p *Predictor) fail(model, stage string, err error) error {
	if p.recorder != nil {
		label := model
		// Requested names are client input; only known models get a label.
		if stage == StageModel && errors.Is(err, ml.ErrModelNotFound) {
			label = "unknown"
		}
		p.recorder.PredictionFailed(label, stage)
	}
	if stage != StageValidate {
		p.logger.Warn("prediction failed",
			zap.String("model", model),
			zap.String("stage", stage),
			zap.Error(err))
	}
	return &StageError{Stage: stage, Model: model, Err: err}
}

func labelDistribution(labels *ml.LabelEncoder, dist []float64) map[string]float64 {
	out := make(map[string]float64, len(dist))
	for i, v := range dist {
		name, err := labels.Decode(i)
		if err != nil {
			continue
		}
		out[name] = v
	}
	return out
}
