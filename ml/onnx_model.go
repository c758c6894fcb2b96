package ml

import (
	"fmt"
	"sync"

	onnxruntime "github.com/yalue/onnxruntime_go"
)

// ONNXOptions names the graph inputs and outputs of an exported classifier.
// The defaults match skl2onnx exports with zipmap disabled.
type ONNXOptions struct {
	Input             string `yaml:"input"`
	LabelOutput       string `yaml:"label_output"`
	ProbabilityOutput string `yaml:"probability_output"`
	// SharedLibrary points at the onnxruntime shared library. Empty uses the
	// library's default lookup.
	SharedLibrary string `yaml:"-"`
}

func (o ONNXOptions) withDefaults() ONNXOptions {
	if o.Input == "" {
		o.Input = "float_input"
	}
	if o.LabelOutput == "" {
		o.LabelOutput = "label"
	}
	if o.ProbabilityOutput == "" {
		o.ProbabilityOutput = "probabilities"
	}
	return o
}

var (
	onnxInitOnce sync.Once
	onnxInitErr  error
)

func initONNXRuntime(sharedLibrary string) error {
	onnxInitOnce.Do(func() {
		if sharedLibrary != "" {
			onnxruntime.SetSharedLibraryPath(sharedLibrary)
		}
		if onnxruntime.IsInitialized() {
			return
		}
		onnxInitErr = onnxruntime.InitializeEnvironment()
	})
	return onnxInitErr
}

// ONNXModel runs a classifier exported to ONNX.
type ONNXModel struct {
	mu       sync.RWMutex
	session  *onnxruntime.DynamicAdvancedSession
	features int
	classes  int
}

// LoadONNXModel opens a session for a model taking features inputs and
// scoring classes classes.
func LoadONNXModel(path string, features, classes int, opts ONNXOptions) (*ONNXModel, error) {
	if features <= 0 || classes <= 0 {
		return nil, fmt.Errorf("onnx model %s needs column and label lists", path)
	}
	opts = opts.withDefaults()
	if err := initONNXRuntime(opts.SharedLibrary); err != nil {
		return nil, fmt.Errorf("initialize onnx runtime: %w", err)
	}
	options, err := onnxruntime.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer options.Destroy()

	session, err := onnxruntime.NewDynamicAdvancedSession(path,
		[]string{opts.Input}, []string{opts.LabelOutput, opts.ProbabilityOutput}, options)
	if err != nil {
		return nil, fmt.Errorf("load onnx model %s: %w", path, err)
	}
	return &ONNXModel{session: session, features: features, classes: classes}, nil
}

func (m *ONNXModel) run(features []float64) (int, []float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return 0, nil, ErrModelClosed
	}
	if len(features) != m.features {
		return 0, nil, fmt.Errorf("expected %d features, got %d", m.features, len(features))
	}

	input := make([]float32, len(features))
	for i, v := range features {
		input[i] = float32(v)
	}
	inputTensor, err := onnxruntime.NewTensor(onnxruntime.NewShape(1, int64(m.features)), input)
	if err != nil {
		return 0, nil, fmt.Errorf("create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	labelTensor, err := onnxruntime.NewEmptyTensor[int64](onnxruntime.NewShape(1))
	if err != nil {
		return 0, nil, fmt.Errorf("create label tensor: %w", err)
	}
	defer labelTensor.Destroy()

	probTensor, err := onnxruntime.NewEmptyTensor[float32](onnxruntime.NewShape(1, int64(m.classes)))
	if err != nil {
		return 0, nil, fmt.Errorf("create probability tensor: %w", err)
	}
	defer probTensor.Destroy()

	err = m.session.Run([]onnxruntime.Value{inputTensor}, []onnxruntime.Value{labelTensor, probTensor})
	if err != nil {
		return 0, nil, fmt.Errorf("onnx inference: %w", err)
	}

	probs := make([]float64, m.classes)
	for i, p := range probTensor.GetData() {
		probs[i] = float64(p)
	}
	return int(labelTensor.GetData()[0]), probs, nil
}

func (m *ONNXModel) Predict(features []float64) (int, float64, error) {
	label, probs, err := m.run(features)
	if err != nil {
		return 0, 0, err
	}
	if label < 0 || label >= len(probs) {
		return 0, 0, fmt.Errorf("onnx label %d outside %d classes", label, len(probs))
	}
	return label, probs[label], nil
}

func (m *ONNXModel) Probabilities(features []float64) ([]float64, error) {
	_, probs, err := m.run(features)
	return probs, err
}

// Close releases the session. Predictions made afterwards fail with
// ErrModelClosed.
func (m *ONNXModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	return err
}
