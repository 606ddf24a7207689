package sensor

import "strconv"

// Node is a static Device. Providers build a tree of nodes on each
// refresh; tests build them by hand.
type Node struct {
	ID       string
	Label    string
	Kind     HardwareType
	Readings []Sensor
	Children []*Node
	Err      error
	Cores    int
	Threads  int
}

func (n *Node) Identifier() string { return n.ID }
func (n *Node) Name() string       { return n.Label }
func (n *Node) Type() HardwareType { return n.Kind }

func (n *Node) Sensors() ([]Sensor, error) {
	if n.Err != nil {
		return nil, n.Err
	}

	return n.Readings, nil
}

func (n *Node) SubHardware() []Device {
	if len(n.Children) == 0 {
		return nil
	}

	out := make([]Device, len(n.Children))
	for i, c := range n.Children {
		out[i] = c
	}

	return out
}

func (n *Node) Topology() (cores, threads int) {
	return n.Cores, n.Threads
}

// Add appends a sensor with a value and derives its identifier from the
// node identifier, the sensor type and its index among same-typed
// sensors, e.g. "/cpu/0/load/3".
func (n *Node) Add(name string, typ SensorType, value float64) *Node {
	n.Readings = append(n.Readings, Sensor{
		Name:       name,
		Type:       typ,
		Value:      Float(value),
		Identifier: n.sensorID(typ),
	})

	return n
}

// AddRange is Add with min/max bounds.
func (n *Node) AddRange(name string, typ SensorType, value, minValue, maxValue float64) *Node {
	n.Readings = append(n.Readings, Sensor{
		Name:       name,
		Type:       typ,
		Value:      Float(value),
		Min:        Float(minValue),
		Max:        Float(maxValue),
		Identifier: n.sensorID(typ),
	})

	return n
}

func (n *Node) sensorID(typ SensorType) string {
	idx := 0
	for _, s := range n.Readings {
		if s.Type == typ {
			idx++
		}
	}

	return n.ID + "/" + typ.slug() + "/" + strconv.Itoa(idx)
}

func (t SensorType) slug() string {
	switch t {
	case SensorVoltage:
		return "voltage"
	case SensorCurrent:
		return "current"
	case SensorPower:
		return "power"
	case SensorClock:
		return "clock"
	case SensorTemperature:
		return "temperature"
	case SensorLoad:
		return "load"
	case SensorFrequency:
		return "frequency"
	case SensorFan:
		return "fan"
	case SensorFlow:
		return "flow"
	case SensorControl:
		return "control"
	case SensorLevel:
		return "level"
	case SensorFactor:
		return "factor"
	case SensorData:
		return "data"
	case SensorSmallData:
		return "smalldata"
	case SensorThroughput:
		return "throughput"
	case SensorTimeSpan:
		return "timespan"
	case SensorEnergy:
		return "energy"
	case SensorNoise:
		return "noise"
	default:
		return "unknown"
	}
}
