package ml

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"
)

const ManifestFile = "manifest.yaml"

// Manifest describes a directory of pre-trained artifacts.
type Manifest struct {
	Name        string              `yaml:"name" json:"name"`
	Description string              `yaml:"description" json:"description,omitempty"`
	Type        string              `yaml:"type" json:"type"`
	Model       string              `yaml:"model" json:"-"`
	Labels      string              `yaml:"labels" json:"-"`
	Columns     string              `yaml:"columns" json:"-"`
	Categories  map[string][]string `yaml:"categories" json:"categories,omitempty"`
	ONNX        ONNXOptions         `yaml:"onnx" json:"-"`
}

func ReadManifest(dir string) (Manifest, error) {
	var m Manifest
	payload, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return m, err
	}
	if err := yaml.Unmarshal(payload, &m); err != nil {
		return m, fmt.Errorf("decode manifest in %s: %w", dir, err)
	}
	if m.Name == "" {
		m.Name = filepath.Base(dir)
	}
	if m.Model == "" || m.Labels == "" || m.Columns == "" {
		return m, fmt.Errorf("manifest in %s must name model, labels and columns files", dir)
	}
	return m, nil
}

// Bundle is a loaded model with the label decoder and column schema it was
// trained with.
type Bundle struct {
	Manifest Manifest
	Model    Classifier
	Labels   *LabelEncoder
	Columns  []string
	LoadedAt time.Time
}

// BundleOptions tunes how artifacts are opened.
type BundleOptions struct {
	ONNXLibrary string
}

func LoadBundle(dir string, opts BundleOptions) (*Bundle, error) {
	manifest, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	labels, err := LoadLabelEncoder(filepath.Join(dir, manifest.Labels))
	if err != nil {
		return nil, err
	}
	columns, err := LoadColumns(filepath.Join(dir, manifest.Columns))
	if err != nil {
		return nil, err
	}
	onnxOpts := manifest.ONNX
	onnxOpts.SharedLibrary = opts.ONNXLibrary
	model, err := LoadModel(manifest.Type, filepath.Join(dir, manifest.Model), LoadOptions{
		Features: len(columns),
		Classes:  labels.Len(),
		ONNX:     onnxOpts,
	})
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", manifest.Name, err)
	}
	return &Bundle{
		Manifest: manifest,
		Model:    model,
		Labels:   labels,
		Columns:  columns,
		LoadedAt: time.Now(),
	}, nil
}

// Preprocessor returns the encoder and schema this bundle expects.
func (b *Bundle) Preprocessor(now func() time.Time) *Preprocessor {
	return &Preprocessor{
		Encoder: &Encoder{Categories: b.Manifest.Categories, Now: now},
		Columns: b.Columns,
	}
}

func (b *Bundle) Close() error {
	if closer, ok := b.Model.(Closer); ok {
		return closer.Close()
	}
	return nil
}
