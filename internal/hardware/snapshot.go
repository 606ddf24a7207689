package hardware

import "time"

// Snapshot is the result of one sampling cycle. A snapshot is never
// modified after it has been published.
type Snapshot struct {
	CPUs         []*CPUInfo         `json:"cpus"`
	GPUs         []*GPUInfo         `json:"gpus"`
	Memory       []*MemoryInfo      `json:"memory"`
	Motherboards []*MotherboardInfo `json:"motherboards"`
	Storage      []*StorageInfo     `json:"storage"`
	Network      []*NetworkInfo     `json:"network"`
	Fans         []*FanInfo         `json:"fans"`
	CapturedAt   time.Time          `json:"captured_at"`
	Uptime       time.Duration      `json:"uptime"`
}

// Entities returns every entity in the snapshot, grouped by kind in
// Kinds order.
func (s *Snapshot) Entities() []Entity {
	if s == nil {
		return nil
	}

	out := make([]Entity, 0, s.Len())
	for _, e := range s.CPUs {
		out = append(out, e)
	}
	for _, e := range s.GPUs {
		out = append(out, e)
	}
	for _, e := range s.Memory {
		out = append(out, e)
	}
	for _, e := range s.Motherboards {
		out = append(out, e)
	}
	for _, e := range s.Storage {
		out = append(out, e)
	}
	for _, e := range s.Network {
		out = append(out, e)
	}
	for _, e := range s.Fans {
		out = append(out, e)
	}

	return out
}

// Len is the total number of entities.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}

	return len(s.CPUs) + len(s.GPUs) + len(s.Memory) + len(s.Motherboards) +
		len(s.Storage) + len(s.Network) + len(s.Fans)
}

// Index maps entity identifiers to entities.
func (s *Snapshot) Index() map[string]Entity {
	entities := s.Entities()
	index := make(map[string]Entity, len(entities))
	for _, e := range entities {
		index[e.ID()] = e
	}

	return index
}

// Entity looks up an entity by identifier.
func (s *Snapshot) Entity(id string) (Entity, bool) {
	for _, e := range s.Entities() {
		if e.ID() == id {
			return e, true
		}
	}

	return nil, false
}
