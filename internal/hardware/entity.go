package hardware

import "time"

// Kind is the hardware variant an entity represents.
type Kind int

const (
	KindCPU Kind = iota
	KindGPU
	KindMemory
	KindMotherboard
	KindStorage
	KindNetwork
	KindFan
)

// Kinds lists every entity kind in snapshot order.
var Kinds = []Kind{KindCPU, KindGPU, KindMemory, KindMotherboard, KindStorage, KindNetwork, KindFan}

var kindNames = [...]string{
	KindCPU:         "cpu",
	KindGPU:         "gpu",
	KindMemory:      "memory",
	KindMotherboard: "motherboard",
	KindStorage:     "storage",
	KindNetwork:     "network",
	KindFan:         "fan",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}

	return kindNames[k]
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ParseKind resolves a kind name as produced by Kind.String.
func ParseKind(s string) (Kind, bool) {
	for i, name := range kindNames {
		if name == s {
			return Kind(i), true
		}
	}

	return 0, false
}

// Entity is the normalized view of one physical or logical device.
// The identifier is stable for as long as the device stays visible.
type Entity interface {
	ID() string
	Name() string
	Kind() Kind
	Sensors() Readings
	LastUpdated() time.Time
	Online() bool
}

// TemperatureSource is implemented by entities that report a
// representative temperature.
type TemperatureSource interface {
	Temperature() (float64, bool)
}

// UsageSource is implemented by entities that report a utilization
// percentage.
type UsageSource interface {
	Usage() (float64, bool)
}

// Base carries the fields shared by all entity variants.
type Base struct {
	Identifier  string    `json:"identifier"`
	DisplayName string    `json:"name"`
	Type        Kind      `json:"kind"`
	Readings    Readings  `json:"sensors"`
	Updated     time.Time `json:"last_updated"`
	IsOnline    bool      `json:"online"`
}

func (b Base) ID() string             { return b.Identifier }
func (b Base) Name() string           { return b.DisplayName }
func (b Base) Kind() Kind             { return b.Type }
func (b Base) Sensors() Readings      { return b.Readings }
func (b Base) LastUpdated() time.Time { return b.Updated }
func (b Base) Online() bool           { return b.IsOnline }
