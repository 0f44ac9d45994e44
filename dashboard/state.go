package dashboard

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"calihouse/ml"
)

type Mode string

const (
	ModeManual Mode = "manual"
	ModeUpload Mode = "upload"
)

// State is everything one form submission carries. It is rebuilt from each
// request, so the most recent mode choice always wins.
type State struct {
	Mode       Mode
	Manual     ml.HousingFeatures
	Upload     []byte
	UploadName string
}

func NewState() *State {
	return &State{Mode: ModeManual, Manual: DefaultFeatures()}
}

// Input returns the record to submit for the current mode.
func (s *State) Input() (ml.HousingFeatures, error) {
	switch s.Mode {
	case ModeManual:
		return ClampFeatures(s.Manual), nil
	case ModeUpload:
		if len(s.Upload) == 0 {
			return ml.HousingFeatures{}, ErrNoInputSource
		}
		return ParseUpload(s.Upload)
	default:
		return ml.HousingFeatures{}, ErrNoInputSource
	}
}

// StateFromRequest decodes a dashboard form post. Manual values that are
// empty or not numbers fall back to the input's default; all manual values
// are clamped to their range.
func StateFromRequest(r *http.Request, maxUpload int64) (*State, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUpload); err != nil {
			return nil, fmt.Errorf("read form: %w", err)
		}
	} else if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("read form: %w", err)
	}

	state := NewState()
	if Mode(r.FormValue("mode")) == ModeUpload {
		state.Mode = ModeUpload
	}

	row := make([]float64, len(inputSpecs))
	for i, spec := range inputSpecs {
		row[i] = spec.Default
		if raw := strings.TrimSpace(r.FormValue(spec.Name)); raw != "" {
			if v, err := strconv.ParseFloat(raw, 64); err == nil {
				row[i] = spec.Clamp(v)
			}
		}
	}
	state.Manual = ml.FeaturesFromVector(row)

	if state.Mode != ModeUpload {
		return state, nil
	}

	file, header, err := r.FormFile("upload_file")
	switch {
	case err == nil:
		defer file.Close()
		data, err := io.ReadAll(io.LimitReader(file, maxUpload))
		if err != nil {
			return nil, fmt.Errorf("read upload: %w", err)
		}
		state.Upload = data
		state.UploadName = header.Filename
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		if text := strings.TrimSpace(r.FormValue("upload_json")); text != "" {
			state.Upload = []byte(text)
		}
	default:
		return nil, fmt.Errorf("read upload: %w", err)
	}
	return state, nil
}
