package ml

import (
	"fmt"
)

const (
	ModelTypeDecisionTree = "decision_tree"
	ModelTypeRandomForest = "random_forest"
	ModelTypeONNX         = "onnx"
)

// LoadOptions carries what some model types need besides the file itself.
type LoadOptions struct {
	Features int
	Classes  int
	ONNX     ONNXOptions
}

func LoadModel(modelType, path string, opts LoadOptions) (Classifier, error) {
	switch modelType {
	case ModelTypeDecisionTree:
		model := &DecisionTree{}
		if err := model.Load(path); err != nil {
			return nil, err
		}
		return model, nil
	case ModelTypeRandomForest:
		model := &RandomForest{}
		if err := model.Load(path); err != nil {
			return nil, err
		}
		return model, nil
	case ModelTypeONNX:
		return LoadONNXModel(path, opts.Features, opts.Classes, opts.ONNX)
	default:
		return nil, fmt.Errorf("unsupported model type %q", modelType)
	}
}
