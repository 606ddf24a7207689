package host

import (
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

// fanChannel is one fan header of a hwmon chip. Control is the PWM duty
// cycle in percent, or -1 when the header has no PWM output.
type fanChannel struct {
	index   int
	label   string
	rpm     float64
	control float64
}

type fanChip struct {
	name     string
	channels []fanChannel
}

var fanInput = regexp.MustCompile(`fan(\d+)_input$`)

// readFans collects fan speeds and PWM duty cycles from
// /sys/class/hwmon. gopsutil does not expose fans.
func (s sysfs) readFans() []fanChip {
	var chips []fanChip
	for _, dir := range s.glob("sys", "class", "hwmon", "hwmon*") {
		chip := fanChip{name: filepath.Base(dir)}
		if name, ok := s.readString(rel(s, dir), "name"); ok {
			chip.name = name
		}

		for _, input := range s.glob(rel(s, dir), "fan*_input") {
			m := fanInput.FindStringSubmatch(input)
			if m == nil {
				continue
			}
			idx, _ := strconv.Atoi(m[1])

			rpm, ok := s.readInt(rel(s, input))
			if !ok {
				continue
			}

			ch := fanChannel{index: idx, rpm: float64(rpm), control: -1}
			if label, ok := s.readString(rel(s, dir), "fan"+m[1]+"_label"); ok {
				ch.label = label
			}
			if pwm, ok := s.readInt(rel(s, dir), "pwm"+m[1]); ok {
				ch.control = float64(pwm) / 255 * 100
			}
			chip.channels = append(chip.channels, ch)
		}

		if len(chip.channels) == 0 {
			continue
		}
		sort.Slice(chip.channels, func(i, j int) bool {
			return chip.channels[i].index < chip.channels[j].index
		})
		chips = append(chips, chip)
	}

	return chips
}

// rel turns a path returned by glob back into a root-relative one.
func rel(s sysfs, path string) string {
	r, err := filepath.Rel(s.root, path)
	if err != nil {
		return path
	}

	return r
}

// hwmonDevice is a hwmon chip instance that reports temperatures.
type hwmonDevice struct {
	dir string
	// key names the device the chip is attached to (nvme0, a SCSI
	// address, a PCI address). Empty when the link cannot be resolved.
	key string
}

// hwmonDevices lists the chips called name that have temperature
// inputs, in the order gopsutil reports them.
func (s sysfs) hwmonDevices(name string) []hwmonDevice {
	var out []hwmonDevice
	for _, dir := range s.glob("sys", "class", "hwmon", "hwmon*") {
		r := rel(s, dir)
		if n, ok := s.readString(r, "name"); !ok || n != name {
			continue
		}
		if len(s.glob(r, "temp*_input")) == 0 {
			continue
		}

		d := hwmonDevice{dir: r}
		if target, err := filepath.EvalSymlinks(filepath.Join(dir, "device")); err == nil {
			d.key = filepath.Base(target)
		}
		out = append(out, d)
	}

	return out
}

// deviceKeys hands out the hwmon device of each chip instance in turn.
type deviceKeys struct {
	fs   sysfs
	devs map[string][]hwmonDevice
	next map[string]int
}

func newDeviceKeys(fs sysfs) *deviceKeys {
	return &deviceKeys{fs: fs, devs: make(map[string][]hwmonDevice), next: make(map[string]int)}
}

func (k *deviceKeys) take(chip string) (hwmonDevice, bool) {
	devs, ok := k.devs[chip]
	if !ok {
		devs = k.fs.hwmonDevices(chip)
		k.devs[chip] = devs
	}

	i := k.next[chip]
	k.next[chip]++
	if i >= len(devs) || devs[i].key == "" {
		return hwmonDevice{}, false
	}

	return devs[i], true
}
