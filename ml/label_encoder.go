package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

var ErrUnknownLabel = errors.New("unknown label")

// LabelEncoder maps class indices to the delay categories the model was
// trained on, in encoder order.
type LabelEncoder struct {
	classes []string
	index   map[string]int
}

func NewLabelEncoder(classes []string) *LabelEncoder {
	le := &LabelEncoder{
		classes: append([]string(nil), classes...),
		index:   make(map[string]int, len(classes)),
	}
	for i, c := range classes {
		le.index[c] = i
	}
	return le
}

// LoadLabelEncoder reads a JSON array of class names.
func LoadLabelEncoder(path string) (*LabelEncoder, error) {
	var classes []string
	if err := readJSONFile(path, &classes); err != nil {
		return nil, err
	}
	if len(classes) == 0 {
		return nil, fmt.Errorf("label file %s lists no classes", path)
	}
	return NewLabelEncoder(classes), nil
}

func (le *LabelEncoder) Decode(index int) (string, error) {
	if index < 0 || index >= len(le.classes) {
		return "", fmt.Errorf("%w: class index %d of %d", ErrUnknownLabel, index, len(le.classes))
	}
	return le.classes[index], nil
}

func (le *LabelEncoder) Encode(label string) (int, error) {
	idx, ok := le.index[label]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownLabel, label)
	}
	return idx, nil
}

func (le *LabelEncoder) Classes() []string {
	return append([]string(nil), le.classes...)
}

func (le *LabelEncoder) Len() int {
	return len(le.classes)
}

// LoadColumns reads the JSON array of model input columns.
func LoadColumns(path string) ([]string, error) {
	var columns []string
	if err := readJSONFile(path, &columns); err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("column file %s lists no columns", path)
	}
	return columns, nil
}

func readJSONFile(path string, v interface{}) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
