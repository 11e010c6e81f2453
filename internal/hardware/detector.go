package hardware

import (
	"fmt"
	"runtime"

	"github.com/klauspost/cpuid/v2"
	"github.com/pbnjay/memory"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// Info describes the host the worker pool runs on.
type Info struct {
	Model         string   `json:"model"`
	Vendor        string   `json:"vendor"`
	LogicalCPUs   int      `json:"logical_cpus"`
	PhysicalCores int      `json:"physical_cores"`
	Features      []string `json:"features"`
	TotalMemory   uint64   `json:"total_memory"`
}

// Detector probes host parallelism and memory.
type Detector struct {
	logger *zap.Logger
}

// NewDetector creates a new hardware detector
func NewDetector(logger *zap.Logger) *Detector {
	return &Detector{logger: logger}
}

// Detect collects host information. Probes that fail fall back to runtime values.
func (d *Detector) Detect() Info {
	info := Info{
		Model:         cpuid.CPU.BrandName,
		Vendor:        cpuid.CPU.VendorString,
		LogicalCPUs:   d.LogicalCPUs(),
		PhysicalCores: cpuid.CPU.PhysicalCores,
		Features:      cpuid.CPU.FeatureSet(),
		TotalMemory:   d.TotalMemory(),
	}

	if cores, err := cpu.Counts(false); err == nil && cores > 0 {
		info.PhysicalCores = cores
	}
	if info.PhysicalCores == 0 {
		info.PhysicalCores = info.LogicalCPUs
	}

	return info
}

// LogicalCPUs returns the available hardware concurrency.
func (d *Detector) LogicalCPUs() int {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		d.logger.Debug("Falling back to runtime CPU count", zap.Error(err))
		return runtime.NumCPU()
	}
	return n
}

// TotalMemory returns total system memory in bytes.
func (d *Detector) TotalMemory() uint64 {
	vm, err := mem.VirtualMemory()
	if err == nil && vm.Total > 0 {
		return vm.Total
	}
	d.logger.Debug("Falling back to sysctl memory probe", zap.Error(err))
	return memory.TotalMemory()
}

// CheckScratchBudget verifies that threads scratch buffers of scratchSize bytes
// fit in fraction of total memory. A total of zero means unknown and passes;
// callers bound the thread count some other way in that case.
func CheckScratchBudget(threads uint64, scratchSize int, total uint64, fraction float64) error {
	if total == 0 || scratchSize <= 0 {
		return nil
	}
	budget := uint64(float64(total) * fraction)
	perWorker := uint64(scratchSize)
	if threads > budget/perWorker {
		return fmt.Errorf("%d workers need %d bytes of scratch, budget is %d bytes", threads, threads*perWorker, budget)
	}
	return nil
}
