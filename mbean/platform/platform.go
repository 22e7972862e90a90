// Package platform registers managed objects describing the running
// process, the Go runtime and the host.
package platform

import (
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/aethiopicuschan/zapcat/mbean"
)

const (
	MemoryName    = "go.runtime:type=Memory"
	RuntimeName   = "go.runtime:type=Runtime"
	ThreadingName = "go.runtime:type=Threading"
	HostName      = "os:type=Host"
	ProcessName   = "os:type=Process"
)

// Register adds the platform objects to s.
func Register(s *mbean.Server) error {
	started := time.Now()
	objects := map[string]mbean.Attributes{
		MemoryName:    memoryAttributes(),
		RuntimeName:   runtimeAttributes(started),
		ThreadingName: threadingAttributes(),
		HostName:      hostAttributes(),
		ProcessName:   processAttributes(int32(os.Getpid())),
	}
	for name, attrs := range objects {
		if err := s.Register(name, attrs); err != nil {
			return errors.Wrapf(err, "registering %s", name)
		}
	}
	return nil
}

func readMemStats() *runtime.MemStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return &ms
}

func memoryAttributes() mbean.Attributes {
	stat := func(f func(*runtime.MemStats) any) mbean.Attribute {
		return func() (any, error) { return f(readMemStats()), nil }
	}
	return mbean.Attributes{
		"HeapAlloc":    stat(func(m *runtime.MemStats) any { return m.HeapAlloc }),
		"HeapSys":      stat(func(m *runtime.MemStats) any { return m.HeapSys }),
		"HeapIdle":     stat(func(m *runtime.MemStats) any { return m.HeapIdle }),
		"HeapInuse":    stat(func(m *runtime.MemStats) any { return m.HeapInuse }),
		"HeapObjects":  stat(func(m *runtime.MemStats) any { return m.HeapObjects }),
		"TotalAlloc":   stat(func(m *runtime.MemStats) any { return m.TotalAlloc }),
		"Sys":          stat(func(m *runtime.MemStats) any { return m.Sys }),
		"NumGC":        stat(func(m *runtime.MemStats) any { return m.NumGC }),
		"PauseTotalNs": stat(func(m *runtime.MemStats) any { return m.PauseTotalNs }),
		"HeapMemoryUsage": stat(func(m *runtime.MemStats) any {
			return map[string]any{
				"used":      m.HeapAlloc,
				"committed": m.HeapSys,
				"idle":      m.HeapIdle,
			}
		}),
	}
}

func runtimeAttributes(started time.Time) mbean.Attributes {
	hostname, _ := os.Hostname()
	return mbean.Attributes{
		"Name":      mbean.Static(strconv.Itoa(os.Getpid()) + "@" + hostname),
		"GoVersion": mbean.Static(runtime.Version()),
		"GOOS":      mbean.Static(runtime.GOOS),
		"GOARCH":    mbean.Static(runtime.GOARCH),
		"NumCPU":    mbean.Static(runtime.NumCPU()),
		"StartTime": mbean.Static(started.UnixMilli()),
		"Uptime": func() (any, error) {
			return time.Since(started).Milliseconds(), nil
		},
	}
}

func threadingAttributes() mbean.Attributes {
	return mbean.Attributes{
		"GoroutineCount": func() (any, error) { return runtime.NumGoroutine(), nil },
		"GOMAXPROCS":     func() (any, error) { return runtime.GOMAXPROCS(0), nil },
		"NumCgoCall":     func() (any, error) { return runtime.NumCgoCall(), nil },
	}
}

func hostAttributes() mbean.Attributes {
	info := func(f func(*host.InfoStat) any) mbean.Attribute {
		return func() (any, error) {
			hi, err := host.Info()
			if err != nil {
				return nil, errors.Wrap(err, "host info")
			}
			return f(hi), nil
		}
	}
	memory := func(f func(*mem.VirtualMemoryStat) any) mbean.Attribute {
		return func() (any, error) {
			vm, err := mem.VirtualMemory()
			if err != nil {
				return nil, errors.Wrap(err, "virtual memory")
			}
			return f(vm), nil
		}
	}
	return mbean.Attributes{
		"Hostname":        info(func(h *host.InfoStat) any { return h.Hostname }),
		"Uptime":          info(func(h *host.InfoStat) any { return h.Uptime }),
		"BootTime":        info(func(h *host.InfoStat) any { return h.BootTime }),
		"Platform":        info(func(h *host.InfoStat) any { return h.Platform }),
		"PlatformVersion": info(func(h *host.InfoStat) any { return h.PlatformVersion }),
		"KernelVersion":   info(func(h *host.InfoStat) any { return h.KernelVersion }),
		"MemTotal":        memory(func(m *mem.VirtualMemoryStat) any { return m.Total }),
		"MemFree":         memory(func(m *mem.VirtualMemoryStat) any { return m.Free }),
		"MemUsed":         memory(func(m *mem.VirtualMemoryStat) any { return m.Used }),
		"MemAvailable":    memory(func(m *mem.VirtualMemoryStat) any { return m.Available }),
		"LoadAverage": func() (any, error) {
			avg, err := load.Avg()
			if err != nil {
				return nil, errors.Wrap(err, "load average")
			}
			return map[string]any{"1": avg.Load1, "5": avg.Load5, "15": avg.Load15}, nil
		},
	}
}

func processAttributes(pid int32) mbean.Attributes {
	proc := func(f func(*process.Process) (any, error)) mbean.Attribute {
		return func() (any, error) {
			p, err := process.NewProcess(pid)
			if err != nil {
				return nil, errors.Wrapf(err, "process %d", pid)
			}
			return f(p)
		}
	}
	return mbean.Attributes{
		"Pid": mbean.Static(pid),
		"ResidentMemory": proc(func(p *process.Process) (any, error) {
			mi, err := p.MemoryInfo()
			if err != nil {
				return nil, err
			}
			return mi.RSS, nil
		}),
		"VirtualMemory": proc(func(p *process.Process) (any, error) {
			mi, err := p.MemoryInfo()
			if err != nil {
				return nil, err
			}
			return mi.VMS, nil
		}),
		"ThreadCount": proc(func(p *process.Process) (any, error) { return p.NumThreads() }),
		"CPUPercent":  proc(func(p *process.Process) (any, error) { return p.CPUPercent() }),
		"OpenFiles":   proc(func(p *process.Process) (any, error) { return p.NumFDs() }),
	}
}
