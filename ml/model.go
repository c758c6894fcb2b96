package ml

import "errors"

var (
	ErrModelNotTrained = errors.New("model has no nodes")
	ErrModelClosed     = errors.New("model is closed")
)

// Classifier predicts a class index and a confidence for one aligned feature
// vector.
type Classifier interface {
	Predict(features []float64) (int, float64, error)
}

// ProbabilityClassifier also exposes the per-class distribution.
type ProbabilityClassifier interface {
	Classifier
	Probabilities(features []float64) ([]float64, error)
}

// Closer is implemented by classifiers holding native resources.
type Closer interface {
	Close() error
}
