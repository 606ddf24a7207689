package host

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
)

// Info answers host questions the sensor tree does not: CPU topology
// and uptime.
type Info struct {
	once    sync.Once
	cores   int
	threads int
}

func NewInfo() *Info {
	return &Info{}
}

// CoreCounts returns physical cores and logical threads, falling back
// to the Go runtime's CPU count when the OS does not say.
func (i *Info) CoreCounts() (cores, threads int) {
	i.once.Do(func() {
		i.cores, i.threads = countCPUs(context.Background())
	})

	return i.cores, i.threads
}

func (i *Info) Uptime() time.Duration {
	secs, err := host.Uptime()
	if err != nil {
		return 0
	}

	return time.Duration(secs) * time.Second
}

func countCPUs(ctx context.Context) (cores, threads int) {
	if n, err := cpu.CountsWithContext(ctx, false); err == nil {
		cores = n
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		threads = n
	}
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	if cores <= 0 {
		cores = threads
	}

	return cores, threads
}
