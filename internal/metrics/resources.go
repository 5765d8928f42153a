package metrics

import (
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/domain"
)

// SampleResources reads host figures fresh at call time. Load average and
// memory percentages come from /proc and stay zero on hosts without it.
func SampleResources() domain.ResourceSnapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	snap := domain.ResourceSnapshot{
		HeapAllocBytes: mem.HeapAlloc,
		HeapSysBytes:   mem.HeapSys,
		Goroutines:     runtime.NumGoroutine(),
	}
	snap.Load1, snap.Load5, snap.Load15 = readLoadAvg()
	snap.MemoryUsedPct = readMemoryUsedPct()
	return snap
}

// readLoadAvg parses /proc/loadavg.
func readLoadAvg() (load1, load5, load15 float64) {
	content, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0, 0, 0
	}
	fields := strings.Fields(string(content))
	if len(fields) < 3 {
		return 0, 0, 0
	}
	load1, _ = strconv.ParseFloat(fields[0], 64)
	load5, _ = strconv.ParseFloat(fields[1], 64)
	load15, _ = strconv.ParseFloat(fields[2], 64)
	return load1, load5, load15
}

// readMemoryUsedPct derives used-memory percentage from /proc/meminfo.
func readMemoryUsedPct() float64 {
	kv, err := parseKeyValueFile("/proc/meminfo")
	if err != nil {
		return 0
	}
	total := parseKB(kv["MemTotal"])
	available := parseKB(kv["MemAvailable"])
	if total == 0 {
		return 0
	}
	used := total - available
	return float64(used) / float64(total) * 100
}

func parseKeyValueFile(path string) (map[string]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	kv := make(map[string]string)
	for _, line := range strings.Split(string(content), "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		kv[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return kv, nil
}

// parseKB parses a meminfo value like "1234 kB" and returns bytes.
func parseKB(s string) uint64 {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, " kB")
	s = strings.TrimSuffix(s, "kB")
	s = strings.TrimSpace(s)
	v, _ := strconv.ParseUint(s, 10, 64)
	return v * 1024
}
