package hardware

// GPUField names a scalar derived from GPU sensors.
type GPUField int

const (
	GPUUsage GPUField = iota
	GPUTemperature
	GPUCoreClock
	GPUMemoryClock
	GPUPower
	GPUFanSpeed
	GPUFanControl
)

// ClassificationRule maps readings of one kind whose names contain one
// of Patterns to a GPU field. Patterns are tried in order.
type ClassificationRule struct {
	Field    GPUField
	Kind     SensorKind
	Patterns []string
}

// GPURules is the classification table for GPU sensors. Rules for the
// same field are consulted in order; the first hit wins.
var GPURules = []ClassificationRule{
	{Field: GPUUsage, Kind: Usage, Patterns: []string{"gpu core", "d3d 3d", "gpu"}},
	{Field: GPUTemperature, Kind: Temperature, Patterns: []string{"gpu core", "edge", "gpu"}},
	{Field: GPUCoreClock, Kind: Frequency, Patterns: []string{"gpu core", "graphics", "shader"}},
	{Field: GPUMemoryClock, Kind: Frequency, Patterns: []string{"gpu memory", "memory"}},
	{Field: GPUPower, Kind: Power, Patterns: []string{"gpu package", "gpu power", "board", "package", "gpu"}},
	{Field: GPUFanSpeed, Kind: Fan, Patterns: []string{"gpu fan", "fan"}},
	{Field: GPUFanControl, Kind: Control, Patterns: []string{"gpu fan", "fan"}},
}

// Classify resolves field against readings using GPURules.
func Classify(readings Readings, field GPUField) (float64, bool) {
	for _, rule := range GPURules {
		if rule.Field != field {
			continue
		}
		if v, ok := readings.FirstMatching(rule.Kind, rule.Patterns...); ok {
			return v, true
		}
	}

	return 0, false
}
