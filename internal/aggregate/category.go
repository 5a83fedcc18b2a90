package aggregate

// Category is a US EPA air quality band for display
type Category struct {
	Label string `json:"label"`
	Color string `json:"color"`
}

var (
	CategoryUnknown = Category{"Unknown", "#CCCCCC"}

	epaCategories = map[int]Category{
		1: {"Good", "#00E400"},
		2: {"Moderate", "#FFFF00"},
		3: {"Unhealthy for Sensitive Groups", "#FF7E00"},
		4: {"Unhealthy", "#FF0000"},
		5: {"Very Unhealthy", "#99004C"},
		6: {"Hazardous", "#7E0023"},
	}
)

// Categorize maps a US EPA index to its band. Any value outside 1..6,
// including nil, is Unknown.
func Categorize(index *int) Category {
	if index == nil {
		return CategoryUnknown
	}
	if c, ok := epaCategories[*index]; ok {
		return c
	}
	return CategoryUnknown
}
