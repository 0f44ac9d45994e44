package dashboard

import (
	"fmt"

	"calihouse/ml"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// FormatPrice renders a prediction in $100,000 units as dollars with
// thousands separators, e.g. 1.92 -> "$192,000.00".
func FormatPrice(value float64) string {
	return printer.Sprintf("$%.2f", value*100000)
}

func FormatUnits(value float64) string {
	return fmt.Sprintf("%.4f", value)
}

type SummaryItem struct {
	Label string
	Value string
}

// Summary lists the manual inputs in display form. Income is entered in
// $10,000 units and shown in dollars.
func Summary(f ml.HousingFeatures) []SummaryItem {
	return []SummaryItem{
		{Label: "Median Income", Value: printer.Sprintf("$%.0f", f.MedianIncome*10000)},
		{Label: "House Age", Value: fmt.Sprintf("%.0f years", f.MedianHouseAge)},
		{Label: "Average Rooms", Value: fmt.Sprintf("%.2f", f.AverageRooms)},
		{Label: "Average Bedrooms", Value: fmt.Sprintf("%.2f", f.AverageBedrooms)},
		{Label: "Population", Value: printer.Sprintf("%d", int64(f.Population))},
		{Label: "Average Occupancy", Value: fmt.Sprintf("%.2f", f.AverageOccupancy)},
		{Label: "Latitude", Value: fmt.Sprintf("%.2f", f.Latitude)},
		{Label: "Longitude", Value: fmt.Sprintf("%.2f", f.Longitude)},
	}
}
