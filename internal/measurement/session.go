// Package measurement brackets a time window with energy and performance
// sensors and writes one CSV file per sensor.
package measurement

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Session is a start/stop bracket around a measured window.
// Start never fails the caller; Stop is idempotent.
type Session interface {
	Start(ctx context.Context)
	Stop(ctx context.Context)
}

// Mode says when a sensor records.
type Mode string

const (
	// ModeEdge records once at start and stop.
	ModeEdge Mode = "edge"
	// ModeInterval samples on every tick.
	ModeInterval Mode = "interval"
)

// SensorConfig enables one sensor.
type SensorConfig struct {
	Name    string
	Enabled bool
	Mode    Mode
}

// Config holds configuration for a measurement session.
type Config struct {
	Interval time.Duration // default: 1s
	Sensors  []SensorConfig
	// Suppressed lists sensors left out because the host cannot support them.
	Suppressed []string

	// ProcRoot and SysRoot default to /proc and /sys.
	ProcRoot string
	SysRoot  string
}

// DefaultConfig enables execution_time, cpu_total and, on Linux, rapl.
func DefaultConfig(goos string) Config {
	cfg := Config{
		Interval: 1 * time.Second,
		Sensors: []SensorConfig{
			{Name: SensorExecutionTime, Enabled: true, Mode: ModeEdge},
			{Name: SensorCPUTotal, Enabled: true, Mode: ModeInterval},
		},
	}
	if goos == "linux" {
		cfg.Sensors = append(cfg.Sensors, SensorConfig{Name: SensorRAPL, Enabled: true, Mode: ModeInterval})
	} else {
		cfg.Suppressed = append(cfg.Suppressed, SensorRAPL)
	}
	return cfg
}

type state int

const (
	stateIdle state = iota
	stateRunning
	stateNoop
	stateStopped
)

type sink struct {
	sensor Sensor
	file   *os.File
	writer *csv.Writer
}

func (s *sink) write(rows [][]string) {
	for _, row := range rows {
		_ = s.writer.Write(row)
	}
}

// Recorder is the file-backed Session implementation.
type Recorder struct {
	dir    string
	config Config
	logger *slog.Logger
	now    func() time.Time
	inst   *instruments

	mu     sync.Mutex
	state  state
	runDir string
	sinks  []*sink
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a recorder that will write under dir.
func New(dir string, config Config, logger *slog.Logger) *Recorder {
	if config.Interval <= 0 {
		config.Interval = 1 * time.Second
	}
	if config.ProcRoot == "" {
		config.ProcRoot = "/proc"
	}
	if config.SysRoot == "" {
		config.SysRoot = "/sys"
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	meter := otel.Meter("measurement")
	inst := &instruments{}
	inst.energy, _ = meter.Float64Counter("measurement_energy_joules",
		metric.WithDescription("Energy consumed during measured runs"),
		metric.WithUnit("J"))
	inst.cpu, _ = meter.Float64Histogram("measurement_cpu_percent",
		metric.WithDescription("Host CPU utilisation sampled during measured runs"),
		metric.WithUnit("%"))

	return &Recorder{
		dir:    dir,
		config: config,
		logger: logger,
		now:    time.Now,
		inst:   inst,
	}
}

// Dir returns the directory the session writes to, or "" before Start.
func (r *Recorder) Dir() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runDir
}

// Start creates the session directory and starts every available sensor.
// When nothing can be measured it logs a warning and the session becomes a no-op.
func (r *Recorder) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != stateIdle {
		r.logger.Debug("Energy Logger already started")
		return
	}

	now := r.now()
	runID := now.Format("02-01-2006_15-04-05")
	r.logger.Info("Initializing Energy Logger", "run_id", runID)

	for _, name := range r.config.Suppressed {
		r.logger.Info("Sensor disabled on this platform", "sensor", name)
	}

	runDir := filepath.Join(r.dir, "energy_"+runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		r.logger.Warn("Failed to create energy log directory. Energy logging skipped.", "dir", runDir, "error", err)
		r.state = stateNoop
		return
	}

	var sinks []*sink
	for _, sc := range r.config.Sensors {
		if !sc.Enabled {
			continue
		}
		sensor := r.newSensor(sc.Name)
		if sensor == nil {
			r.logger.Warn("Unknown sensor, skipped", "sensor", sc.Name)
			continue
		}
		if err := sensor.Probe(); err != nil {
			r.logger.Warn("Sensor unavailable, skipped", "sensor", sc.Name, "error", err)
			continue
		}
		if err := sensor.Begin(now); err != nil {
			r.logger.Warn("Sensor failed to start, skipped", "sensor", sc.Name, "error", err)
			continue
		}

		f, err := os.Create(filepath.Join(runDir, sensor.Name()+".csv"))
		if err != nil {
			r.logger.Warn("Failed to create sensor output, skipped", "sensor", sc.Name, "error", err)
			continue
		}
		w := csv.NewWriter(f)
		_ = w.Write(sensor.Header())
		sinks = append(sinks, &sink{sensor: sensor, file: f, writer: w})
	}

	if len(sinks) == 0 {
		r.logger.Warn("No measurement sensor available. Energy logging skipped.")
		r.state = stateNoop
		return
	}

	sampleCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.runDir = runDir
	r.sinks = sinks
	r.cancel = cancel
	r.done = make(chan struct{})
	r.state = stateRunning

	go r.sampleLoop(sampleCtx, sinks, r.done)

	r.logger.Info("Energy Logger started", "dir", runDir, "sensors", len(sinks))
}

// Stop ends sampling, writes the closing rows and closes every file.
// It is safe to call more than once and after a no-op Start.
func (r *Recorder) Stop(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case stateIdle, stateNoop:
		r.logger.Debug("Energy Logger not running, nothing to stop")
		r.state = stateStopped
		return
	case stateStopped:
		r.logger.Debug("Energy Logger already stopped")
		return
	}

	r.logger.Info("Stopping Energy Logger...")
	r.cancel()
	<-r.done

	now := r.now()
	for _, s := range r.sinks {
		rows, err := s.sensor.End(ctx, now)
		if err != nil {
			r.logger.Error("Error stopping sensor", "sensor", s.sensor.Name(), "error", err)
		}
		s.write(rows)
		s.writer.Flush()
		if err := s.writer.Error(); err != nil {
			r.logger.Error("Error writing sensor output", "sensor", s.sensor.Name(), "error", err)
		}
		if err := s.file.Close(); err != nil {
			r.logger.Error("Error closing sensor output", "sensor", s.sensor.Name(), "error", err)
		}
	}

	r.sinks = nil
	r.state = stateStopped

	abs, err := filepath.Abs(r.runDir)
	if err != nil {
		abs = r.runDir
	}
	r.logger.Info(fmt.Sprintf("Energy Logger stopped. Logs saved to %s", abs))
}

func (r *Recorder) sampleLoop(ctx context.Context, sinks []*sink, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := r.now()
			for _, s := range sinks {
				rows, err := s.sensor.Sample(ctx, now)
				if err != nil {
					r.logger.Debug("Sensor sample failed", "sensor", s.sensor.Name(), "error", err)
				}
				s.write(rows)
			}
		}
	}
}

func (r *Recorder) newSensor(name string) Sensor {
	switch name {
	case SensorExecutionTime:
		return &executionTimeSensor{}
	case SensorCPUTotal:
		return newCPUTotalSensor(r.config.ProcRoot, r.inst)
	case SensorRAPL:
		return newRAPLSensor(r.config.SysRoot, r.inst)
	default:
		return nil
	}
}

// Nop is a Session that does nothing.
type Nop struct{}

func (Nop) Start(context.Context) {}
func (Nop) Stop(context.Context)  {}
