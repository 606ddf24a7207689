package host

import (
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
)

type tempGroup int

const (
	groupBoard tempGroup = iota
	groupCPU
	groupStorage
	groupGPU
)

// chipGroups maps hwmon chip names onto the device they belong to.
var chipGroups = map[string]tempGroup{
	"coretemp":  groupCPU,
	"k10temp":   groupCPU,
	"zenpower":  groupCPU,
	"cpu":       groupCPU,
	"nvme":      groupStorage,
	"drivetemp": groupStorage,
	"amdgpu":    groupGPU,
	"radeon":    groupGPU,
}

type namedTemp struct {
	name  string
	value float64
	max   float64
}

// chipTemps is the readings of one chip instance.
type chipTemps struct {
	chip  string
	group tempGroup
	temps []namedTemp
}

// groupTemperatures splits gopsutil temperature stats into chip
// instances. gopsutil keys look like "coretemp_core0" or
// "nvme_composite"; a repeated first key of a chip starts a new
// instance, which separates several drives of the same kind.
func groupTemperatures(stats []host.TemperatureStat) []chipTemps {
	var out []chipTemps
	for _, st := range stats {
		chip, label := splitKey(st.SensorKey)
		group := chipGroups[chip]

		n := len(out)
		if n == 0 || out[n-1].chip != chip || startsNewInstance(out[n-1], label) {
			out = append(out, chipTemps{chip: chip, group: group})
			n++
		}

		out[n-1].temps = append(out[n-1].temps, namedTemp{
			name:  tempName(chip, group, label),
			value: st.Temperature,
			max:   st.Critical,
		})
	}

	for i := range out {
		if out[i].group == groupCPU {
			denseCores(&out[i])
		}
	}

	return out
}

// denseCores renumbers the "Core N" readings of a CPU chip to 0..k-1 in
// ascending N. coretemp labels carry physical core IDs, which may have
// gaps.
func denseCores(c *chipTemps) {
	var ids []int
	for _, t := range c.temps {
		if id, ok := coreID(t.name); ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)

	dense := make(map[int]int, len(ids))
	for i, id := range ids {
		dense[id] = i
	}
	for i := range c.temps {
		if id, ok := coreID(c.temps[i].name); ok {
			c.temps[i].name = "Core " + strconv.Itoa(dense[id])
		}
	}
}

func coreID(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, "Core ")
	if !ok {
		return 0, false
	}
	id, err := strconv.Atoi(rest)

	return id, err == nil
}

func splitKey(key string) (chip, label string) {
	key = strings.ToLower(strings.TrimSpace(key))
	chip, label, _ = strings.Cut(key, "_")

	return chip, label
}

func startsNewInstance(c chipTemps, label string) bool {
	if len(c.temps) == 0 {
		return false
	}
	first := tempName(c.chip, c.group, label)

	return c.temps[0].name == first
}

var (
	coreLabel = regexp.MustCompile(`^core(\d+)$`)
	ccdLabel  = regexp.MustCompile(`^tccd(\d+)$`)
)

func tempName(chip string, group tempGroup, label string) string {
	switch group {
	case groupCPU:
		switch {
		case coreLabel.MatchString(label):
			return "Core " + coreLabel.FindStringSubmatch(label)[1]
		case strings.HasPrefix(label, "package"):
			return "CPU Package"
		case label == "tctl" || label == "tdie":
			return "Core (Tctl/Tdie)"
		case ccdLabel.MatchString(label):
			return "CCD " + ccdLabel.FindStringSubmatch(label)[1]
		}
	case groupGPU:
		switch label {
		case "edge", "":
			return "GPU Core"
		case "junction":
			return "GPU Hot Spot"
		case "mem":
			return "GPU Memory Junction"
		}
	case groupStorage:
		if label == "" || label == "composite" {
			return "Temperature"
		}
	}

	if label == "" {
		return titleCase(chip)
	}

	return titleCase(label)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}

	return strings.ToUpper(s[:1]) + s[1:]
}
