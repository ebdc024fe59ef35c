package measurement

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Sensor names understood by the recorder.
const (
	SensorExecutionTime = "execution_time"
	SensorCPUTotal      = "cpu_total"
	SensorRAPL          = "rapl"
)

const timestampLayout = time.RFC3339Nano

// Sensor produces CSV rows for one measurement source.
type Sensor interface {
	Name() string
	// Probe returns an error when the source is not available on this host.
	Probe() error
	Header() []string
	// Begin records the baseline at session start.
	Begin(now time.Time) error
	// Sample returns rows covering the time since the previous sample.
	Sample(ctx context.Context, now time.Time) ([][]string, error)
	// End returns the final rows at session stop.
	End(ctx context.Context, now time.Time) ([][]string, error)
}

// instruments are the otel instruments sensors report into.
type instruments struct {
	energy metric.Float64Counter
	cpu    metric.Float64Histogram
}

// --- execution_time (edge) ---

type executionTimeSensor struct {
	start time.Time
}

func (s *executionTimeSensor) Name() string { return SensorExecutionTime }
func (s *executionTimeSensor) Probe() error { return nil }
func (s *executionTimeSensor) Header() []string {
	return []string{"start", "end", "duration_seconds"}
}

func (s *executionTimeSensor) Begin(now time.Time) error {
	s.start = now
	return nil
}

func (s *executionTimeSensor) Sample(context.Context, time.Time) ([][]string, error) {
	return nil, nil
}

func (s *executionTimeSensor) End(_ context.Context, now time.Time) ([][]string, error) {
	return [][]string{{
		s.start.UTC().Format(timestampLayout),
		now.UTC().Format(timestampLayout),
		strconv.FormatFloat(now.Sub(s.start).Seconds(), 'f', 3, 64),
	}}, nil
}

// --- cpu_total (interval) ---

type cpuTimes struct {
	total uint64
	idle  uint64
}

type cpuTotalSensor struct {
	statPath string
	last     cpuTimes
	inst     *instruments
}

func newCPUTotalSensor(procRoot string, inst *instruments) *cpuTotalSensor {
	return &cpuTotalSensor{statPath: filepath.Join(procRoot, "stat"), inst: inst}
}

func (s *cpuTotalSensor) Name() string { return SensorCPUTotal }

func (s *cpuTotalSensor) Probe() error {
	_, err := readCPUTimes(s.statPath)
	return err
}

func (s *cpuTotalSensor) Header() []string {
	return []string{"timestamp", "cpu_percent"}
}

func (s *cpuTotalSensor) Begin(time.Time) error {
	t, err := readCPUTimes(s.statPath)
	if err != nil {
		return err
	}
	s.last = t
	return nil
}

func (s *cpuTotalSensor) Sample(ctx context.Context, now time.Time) ([][]string, error) {
	t, err := readCPUTimes(s.statPath)
	if err != nil {
		return nil, err
	}
	prev := s.last
	s.last = t

	if t.total <= prev.total {
		return nil, nil
	}
	dTotal := float64(t.total - prev.total)
	dIdle := float64(0)
	if t.idle > prev.idle {
		dIdle = float64(t.idle - prev.idle)
	}
	percent := (dTotal - dIdle) / dTotal * 100

	if s.inst != nil && s.inst.cpu != nil {
		s.inst.cpu.Record(ctx, percent)
	}

	return [][]string{{
		now.UTC().Format(timestampLayout),
		strconv.FormatFloat(percent, 'f', 2, 64),
	}}, nil
}

func (s *cpuTotalSensor) End(ctx context.Context, now time.Time) ([][]string, error) {
	return s.Sample(ctx, now)
}

// readCPUTimes parses the aggregate "cpu" line of /proc/stat.
func readCPUTimes(path string) (cpuTimes, error) {
	f, err := os.Open(path)
	if err != nil {
		return cpuTimes{}, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 || fields[0] != "cpu" {
			continue
		}

		var values []uint64
		// user nice system idle iowait irq softirq steal; guest time is
		// already included in user/nice.
		for i, field := range fields[1:] {
			if i >= 8 {
				break
			}
			v, err := strconv.ParseUint(field, 10, 64)
			if err != nil {
				return cpuTimes{}, fmt.Errorf("parse %s: %w", path, err)
			}
			values = append(values, v)
		}

		var t cpuTimes
		for _, v := range values {
			t.total += v
		}
		t.idle = values[3]
		if len(values) > 4 {
			t.idle += values[4]
		}
		return t, nil
	}
	if err := scanner.Err(); err != nil {
		return cpuTimes{}, err
	}
	return cpuTimes{}, fmt.Errorf("no aggregate cpu line in %s", path)
}

// --- rapl (interval, linux only) ---

type raplDomain struct {
	name      string
	dir       string
	maxRange  uint64
	lastValue uint64
}

type raplSensor struct {
	powercapDir string
	domains     []*raplDomain
	lastSample  time.Time
	inst        *instruments
}

func newRAPLSensor(sysRoot string, inst *instruments) *raplSensor {
	return &raplSensor{powercapDir: filepath.Join(sysRoot, "class", "powercap"), inst: inst}
}

func (s *raplSensor) Name() string { return SensorRAPL }

func (s *raplSensor) Probe() error {
	domains, err := discoverRAPLDomains(s.powercapDir)
	if err != nil {
		return err
	}
	s.domains = domains
	return nil
}

func (s *raplSensor) Header() []string {
	return []string{"timestamp", "domain", "energy_joules", "power_watts"}
}

func (s *raplSensor) Begin(now time.Time) error {
	for _, d := range s.domains {
		v, err := readUint(filepath.Join(d.dir, "energy_uj"))
		if err != nil {
			return err
		}
		d.lastValue = v
	}
	s.lastSample = now
	return nil
}

func (s *raplSensor) Sample(ctx context.Context, now time.Time) ([][]string, error) {
	elapsed := now.Sub(s.lastSample).Seconds()
	s.lastSample = now

	var rows [][]string
	var errs []error
	for _, d := range s.domains {
		v, err := readUint(filepath.Join(d.dir, "energy_uj"))
		if err != nil {
			errs = append(errs, err)
			continue
		}

		var delta uint64
		if v >= d.lastValue {
			delta = v - d.lastValue
		} else if d.maxRange > 0 {
			// Counter wrapped around.
			delta = d.maxRange - d.lastValue + v
		}
		d.lastValue = v

		joules := float64(delta) / 1e6
		watts := 0.0
		if elapsed > 0 {
			watts = joules / elapsed
		}

		if s.inst != nil && s.inst.energy != nil {
			s.inst.energy.Add(ctx, joules, metric.WithAttributes(attribute.String("domain", d.name)))
		}

		rows = append(rows, []string{
			now.UTC().Format(timestampLayout),
			d.name,
			strconv.FormatFloat(joules, 'f', 6, 64),
			strconv.FormatFloat(watts, 'f', 3, 64),
		})
	}
	return rows, errors.Join(errs...)
}

func (s *raplSensor) End(ctx context.Context, now time.Time) ([][]string, error) {
	return s.Sample(ctx, now)
}

func discoverRAPLDomains(powercapDir string) ([]*raplDomain, error) {
	dirs, err := filepath.Glob(filepath.Join(powercapDir, "intel-rapl:*"))
	if err != nil {
		return nil, err
	}
	sort.Strings(dirs)

	var domains []*raplDomain
	var lastErr error
	for _, dir := range dirs {
		// energy_uj is root-only on recent kernels; skip domains we cannot read.
		if _, err := readUint(filepath.Join(dir, "energy_uj")); err != nil {
			lastErr = err
			continue
		}

		name := filepath.Base(dir)
		if raw, err := os.ReadFile(filepath.Join(dir, "name")); err == nil {
			name = fmt.Sprintf("%s(%s)", strings.TrimSpace(string(raw)), filepath.Base(dir))
		}
		maxRange, _ := readUint(filepath.Join(dir, "max_energy_range_uj"))

		domains = append(domains, &raplDomain{name: name, dir: dir, maxRange: maxRange})
	}

	if len(domains) == 0 {
		if lastErr != nil {
			return nil, fmt.Errorf("no readable RAPL domain under %s: %w", powercapDir, lastErr)
		}
		return nil, fmt.Errorf("no RAPL domain under %s", powercapDir)
	}
	return domains, nil
}

func readUint(path string) (uint64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	return v, nil
}
