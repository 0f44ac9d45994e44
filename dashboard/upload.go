package dashboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"calihouse/ml"
)

var (
	ErrEmptyUpload    = errors.New("uploaded file is empty")
	ErrNoInputTest    = errors.New(`uploaded JSON has no "input_test" object`)
	ErrNoInputSource  = errors.New("please either use manual input or upload a JSON file")
	errMalformedInput = errors.New("uploaded file is not valid JSON")
)

// uploadDocument is the upload file format: {"input_test": {<8 features>}}.
type uploadDocument struct {
	InputTest map[string]json.RawMessage `json:"input_test"`
}

// ParseUpload extracts the feature record from an uploaded document. Records
// missing a feature are rejected instead of being sent incomplete; unknown
// keys are ignored and values are not clamped.
func ParseUpload(data []byte) (ml.HousingFeatures, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return ml.HousingFeatures{}, ErrEmptyUpload
	}

	var doc uploadDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return ml.HousingFeatures{}, fmt.Errorf("%w: %v", errMalformedInput, err)
	}
	if doc.InputTest == nil {
		return ml.HousingFeatures{}, ErrNoInputTest
	}

	names := ml.FeatureNames()
	row := make([]float64, len(names))
	var missing []string
	for i, name := range names {
		raw, ok := doc.InputTest[name]
		if !ok || string(raw) == "null" {
			missing = append(missing, name)
			continue
		}
		if err := json.Unmarshal(raw, &row[i]); err != nil {
			return ml.HousingFeatures{}, fmt.Errorf("input_test.%s is not a number: %s", name, raw)
		}
	}
	if len(missing) > 0 {
		return ml.HousingFeatures{}, fmt.Errorf("input_test is missing %s", strings.Join(missing, ", "))
	}
	return ml.FeaturesFromVector(row), nil
}
