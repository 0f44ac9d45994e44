package ml

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"strconv"
	"strings"
)

// columnAliases maps accepted CSV headers onto serving feature names. The
// scikit-learn export uses the short names, the API uses the long ones.
var columnAliases = map[string]string{
	"medinc":            "median_income",
	"median_income":     "median_income",
	"houseage":          "median_house_age",
	"median_house_age":  "median_house_age",
	"averooms":          "average_rooms",
	"average_rooms":     "average_rooms",
	"avebedrms":         "average_bedrooms",
	"average_bedrooms":  "average_bedrooms",
	"population":        "population",
	"aveoccup":          "average_occupancy",
	"average_occupancy": "average_occupancy",
	"latitude":          "latitude",
	"longitude":         "longitude",
}

var targetAliases = []string{"medhouseval", "median_house_value", "target"}

type Dataset struct {
	Features [][]float64
	Targets  []float64
}

func (d *Dataset) Len() int { return len(d.Targets) }

type FeatureRange struct {
	Name string  `json:"name"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

func LoadCSV(path string) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadCSV(file)
}

// ReadCSV reads the California housing table. Columns may appear in any order;
// rows are reassembled into serving order.
func ReadCSV(r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	names := FeatureNames()
	position := make(map[string]int, len(names))
	for i, name := range names {
		position[name] = i
	}
	columns := make([]int, len(names))
	for i := range columns {
		columns[i] = -1
	}
	target := -1
	for col, raw := range header {
		key := strings.ToLower(strings.TrimSpace(raw))
		if name, ok := columnAliases[key]; ok {
			columns[position[name]] = col
			continue
		}
		for _, alias := range targetAliases {
			if key == alias {
				target = col
			}
		}
	}
	for i, col := range columns {
		if col < 0 {
			return nil, fmt.Errorf("missing column for %s", names[i])
		}
	}
	if target < 0 {
		return nil, errors.New("missing target column")
	}

	ds := &Dataset{}
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		row := make([]float64, len(columns))
		for i, col := range columns {
			v, err := strconv.ParseFloat(strings.TrimSpace(record[col]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %s: %w", line, names[i], err)
			}
			row[i] = v
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(record[target]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: target: %w", line, err)
		}
		ds.Features = append(ds.Features, row)
		ds.Targets = append(ds.Targets, y)
	}
	if ds.Len() == 0 {
		return nil, errors.New("dataset has no rows")
	}
	return ds, nil
}

// SplitDataset shuffles with a fixed seed so a retrain on the same file
// yields the same split.
func SplitDataset(ds *Dataset, testRatio float64, seed int64) (train, test *Dataset) {
	if testRatio <= 0 || testRatio >= 1 {
		testRatio = 0.2
	}
	rnd := rand.New(rand.NewSource(seed))
	indices := rnd.Perm(ds.Len())

	split := int(math.Round(float64(ds.Len()) * (1 - testRatio)))
	train, test = &Dataset{}, &Dataset{}
	for i, idx := range indices {
		if i < split {
			train.Features = append(train.Features, ds.Features[idx])
			train.Targets = append(train.Targets, ds.Targets[idx])
		} else {
			test.Features = append(test.Features, ds.Features[idx])
			test.Targets = append(test.Targets, ds.Targets[idx])
		}
	}
	return train, test
}

// Evaluate returns mean squared error and R² of model on ds.
func Evaluate(model Regressor, ds *Dataset) (mse, r2 float64, err error) {
	if ds.Len() == 0 {
		return 0, 0, errors.New("dataset is empty")
	}
	predictions, err := model.PredictBatch(ds.Features)
	if err != nil {
		return 0, 0, err
	}
	var mean float64
	for _, y := range ds.Targets {
		mean += y
	}
	mean /= float64(ds.Len())

	var ssRes, ssTot float64
	for i, y := range ds.Targets {
		d := y - predictions[i]
		ssRes += d * d
		t := y - mean
		ssTot += t * t
	}
	mse = ssRes / float64(ds.Len())
	if ssTot > 0 {
		r2 = 1 - ssRes/ssTot
	}
	return mse, r2, nil
}

func ComputeFeatureRanges(features [][]float64, names []string) []FeatureRange {
	if len(features) == 0 {
		return nil
	}
	ranges := make([]FeatureRange, len(names))
	for i, name := range names {
		ranges[i] = FeatureRange{Name: name, Min: math.Inf(1), Max: math.Inf(-1)}
	}
	for _, row := range features {
		for i := range ranges {
			ranges[i].Min = math.Min(ranges[i].Min, row[i])
			ranges[i].Max = math.Max(ranges[i].Max, row[i])
		}
	}
	return ranges
}
