package storage

import (
	"sync"
	"sync/atomic"
	"time"
)

// FlushableBufferPool is the slice of BufferPoolManager the flusher needs:
// enough to size the dirty ratio and pick victims, nothing about pinning or
// the page table.
type FlushableBufferPool interface {
	GetDirtyPageCount() int
	GetCapacity() int
	GetDirtyPages(maxPages int) []PageID
	FlushPage(pageID PageID) error
}

// pidController holds the running state of a standard proportional-
// integral-derivative loop: accumulated error (integral), the previous
// error (for the derivative term), and the windup bound. Separated from
// AdaptiveFlusher so the control law can be reasoned about, and tested,
// independently of the goroutine driving it.
type pidController struct {
	kp, ki, kd  float64
	integral    float64
	lastError   float64
	maxIntegral float64
}

func newPIDController(kp, ki, kd float64) *pidController {
	return &pidController{kp: kp, ki: ki, kd: kd, maxIntegral: 10.0}
}

// step feeds one new error sample through the loop and returns the
// controller's output for it.
func (p *pidController) step(errVal float64) float64 {
	p.integral += errVal
	if p.integral > p.maxIntegral {
		p.integral = p.maxIntegral
	} else if p.integral < -p.maxIntegral {
		p.integral = -p.maxIntegral
	}

	derivative := errVal - p.lastError
	p.lastError = errVal

	return p.kp*errVal + p.ki*p.integral + p.kd*derivative
}

// AdaptiveFlushConfig tunes how aggressively the background flusher writes
// back dirty pages as a function of how full the buffer pool's dirty set
// is.
type AdaptiveFlushConfig struct {
	TargetDirtyRatio float64 // flushing kicks in above this fraction dirty
	MaxDirtyRatio    float64 // above this, flush at MaxFlushPages regardless of the PID output

	CheckInterval time.Duration

	MinFlushPages int
	MaxFlushPages int

	Kp, Ki, Kd float64

	EnableAdaptive     bool
	WriteRateThreshold float64
	CheckpointInterval time.Duration
}

// DefaultAdaptiveFlushConfig targets 60% dirty with aggressive flushing
// above 80%, checked ten times a second.
func DefaultAdaptiveFlushConfig() AdaptiveFlushConfig {
	return AdaptiveFlushConfig{
		TargetDirtyRatio:   0.60,
		MaxDirtyRatio:      0.80,
		CheckInterval:      100 * time.Millisecond,
		MinFlushPages:      10,
		MaxFlushPages:      100,
		Kp:                 2.0,
		Ki:                 0.5,
		Kd:                 0.1,
		EnableAdaptive:     true,
		WriteRateThreshold: 100.0,
		CheckpointInterval: 30 * time.Second,
	}
}

// AdaptiveFlushStats is a point-in-time snapshot of the flusher's activity,
// returned by GetStats without needing to read the flush-time histogram
// directly.
type AdaptiveFlushStats struct {
	FlushesIssued  uint64
	PagesFlushed   uint64
	CurrentRate    float64
	DirtyRatio     float64
	AvgFlushTimeUs float64
	LastAdjustment time.Time
}

// AdaptiveFlusher runs a PID-controlled background loop that keeps the
// buffer pool's dirty-page ratio near a target by issuing FlushPage calls
// at a rate derived from how far off-target the pool currently is, rather
// than flushing everything on a fixed timer or only on eviction.
type AdaptiveFlusher struct {
	bufferPool FlushableBufferPool
	config     AdaptiveFlushConfig

	running       atomic.Bool
	flushesIssued atomic.Uint64
	pagesFlushed  atomic.Uint64

	mu            sync.Mutex
	pid           *pidController
	lastFlushRate float64
	dirtyRatio    float64
	lastAdjust    time.Time

	// flushTimes reuses the histogram type the rest of the engine uses
	// for latency tracking, rather than a hand-rolled moving average.
	flushTimes *Histogram

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewAdaptiveFlusher wires a PID controller around bp, replacing an
// out-of-range TargetDirtyRatio, MaxDirtyRatio or CheckInterval with
// DefaultAdaptiveFlushConfig's value; the other fields are used as given.
func NewAdaptiveFlusher(bp FlushableBufferPool, config AdaptiveFlushConfig) *AdaptiveFlusher {
	if config.TargetDirtyRatio <= 0 || config.TargetDirtyRatio >= 1 {
		config.TargetDirtyRatio = 0.60
	}
	if config.MaxDirtyRatio <= config.TargetDirtyRatio || config.MaxDirtyRatio >= 1 {
		config.MaxDirtyRatio = 0.80
	}
	if config.CheckInterval < 10*time.Millisecond {
		config.CheckInterval = 100 * time.Millisecond
	}

	return &AdaptiveFlusher{
		bufferPool:    bp,
		config:        config,
		pid:           newPIDController(config.Kp, config.Ki, config.Kd),
		lastFlushRate: float64(config.MinFlushPages),
		flushTimes:    NewHistogram(1000),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Start launches the background flush loop. Calling Start twice without an
// intervening Stop is an error.
func (af *AdaptiveFlusher) Start() error {
	if af.running.Load() {
		return NewStorageError(ErrCodeInternal, "AdaptiveFlusher.Start", "flusher already running", nil)
	}
	af.running.Store(true)
	go af.run()
	return nil
}

// Stop signals the loop to exit and waits for it to do so. Stop on an
// already-stopped flusher is a no-op.
func (af *AdaptiveFlusher) Stop() error {
	if !af.running.Load() {
		return nil
	}
	close(af.stopCh)
	<-af.doneCh
	af.running.Store(false)
	return nil
}

func (af *AdaptiveFlusher) run() {
	defer close(af.doneCh)

	ticker := time.NewTicker(af.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-af.stopCh:
			return
		case <-ticker.C:
			af.tick()
		}
	}
}

// tick measures the current dirty ratio, asks the PID controller how many
// pages that warrants, and flushes that many.
func (af *AdaptiveFlusher) tick() {
	dirty := af.bufferPool.GetDirtyPageCount()
	capacity := af.bufferPool.GetCapacity()
	if capacity == 0 {
		return
	}

	dirtyRatio := float64(dirty) / float64(capacity)
	target := af.nextFlushTarget(dirtyRatio)
	if target <= 0 {
		return
	}

	start := time.Now()
	flushed := af.flushUpTo(target)
	af.flushTimes.Record(float64(time.Since(start).Microseconds()))

	af.flushesIssued.Add(1)
	af.pagesFlushed.Add(uint64(flushed))

	af.mu.Lock()
	af.dirtyRatio = dirtyRatio
	af.lastAdjust = time.Now()
	af.mu.Unlock()
}

// nextFlushTarget runs one PID step against the distance from
// TargetDirtyRatio and maps its output onto [MinFlushPages, MaxFlushPages],
// overriding with MaxFlushPages outright once MaxDirtyRatio is crossed.
func (af *AdaptiveFlusher) nextFlushTarget(dirtyRatio float64) int {
	af.mu.Lock()
	defer af.mu.Unlock()

	if dirtyRatio < af.config.TargetDirtyRatio {
		af.lastFlushRate = 0
		return 0
	}

	output := af.pid.step(dirtyRatio - af.config.TargetDirtyRatio)
	if dirtyRatio >= af.config.MaxDirtyRatio {
		output = float64(af.config.MaxFlushPages)
	}

	span := float64(af.config.MaxFlushPages - af.config.MinFlushPages)
	rate := float64(af.config.MinFlushPages) + output*span
	switch {
	case rate < float64(af.config.MinFlushPages):
		rate = float64(af.config.MinFlushPages)
	case rate > float64(af.config.MaxFlushPages):
		rate = float64(af.config.MaxFlushPages)
	}

	af.lastFlushRate = rate
	return int(rate)
}

// flushUpTo writes back up to maxPages dirty pages, stopping early on the
// first flush error for a page (the next tick will pick it up again).
func (af *AdaptiveFlusher) flushUpTo(maxPages int) int {
	flushed := 0
	for _, pageID := range af.bufferPool.GetDirtyPages(maxPages) {
		if err := af.bufferPool.FlushPage(pageID); err != nil {
			break
		}
		flushed++
	}
	return flushed
}

// TriggerFlush runs one flush cycle synchronously, outside the ticker,
// useful for callers that want a flush without waiting on CheckInterval.
func (af *AdaptiveFlusher) TriggerFlush(maxPages int) int {
	if maxPages <= 0 {
		maxPages = af.config.MaxFlushPages
	}
	flushed := af.flushUpTo(maxPages)
	af.flushesIssued.Add(1)
	af.pagesFlushed.Add(uint64(flushed))
	return flushed
}

// GetStats snapshots the flusher's counters and the mean of its recent
// flush durations.
func (af *AdaptiveFlusher) GetStats() AdaptiveFlushStats {
	af.mu.Lock()
	rate := af.lastFlushRate
	ratio := af.dirtyRatio
	adjusted := af.lastAdjust
	af.mu.Unlock()

	return AdaptiveFlushStats{
		FlushesIssued:  af.flushesIssued.Load(),
		PagesFlushed:   af.pagesFlushed.Load(),
		CurrentRate:    rate,
		DirtyRatio:     ratio,
		AvgFlushTimeUs: af.flushTimes.Mean(),
		LastAdjustment: adjusted,
	}
}

// SetTargetDirtyRatio adjusts the target at runtime; it must stay below
// the current MaxDirtyRatio.
func (af *AdaptiveFlusher) SetTargetDirtyRatio(ratio float64) error {
	if ratio <= 0 || ratio >= 1 {
		return NewStorageError(ErrCodeInternal, "SetTargetDirtyRatio", "ratio must be in (0, 1)", nil)
	}

	af.mu.Lock()
	defer af.mu.Unlock()
	if ratio >= af.config.MaxDirtyRatio {
		return NewStorageError(ErrCodeInternal, "SetTargetDirtyRatio", "target ratio must be below max ratio", nil)
	}
	af.config.TargetDirtyRatio = ratio
	return nil
}

// SetMaxDirtyRatio adjusts the aggressive-flush threshold at runtime; it
// must stay above the current TargetDirtyRatio.
func (af *AdaptiveFlusher) SetMaxDirtyRatio(ratio float64) error {
	if ratio <= 0 || ratio >= 1 {
		return NewStorageError(ErrCodeInternal, "SetMaxDirtyRatio", "ratio must be in (0, 1)", nil)
	}

	af.mu.Lock()
	defer af.mu.Unlock()
	if ratio <= af.config.TargetDirtyRatio {
		return NewStorageError(ErrCodeInternal, "SetMaxDirtyRatio", "max ratio must be above target ratio", nil)
	}
	af.config.MaxDirtyRatio = ratio
	return nil
}

// IsRunning reports whether the background loop is active.
func (af *AdaptiveFlusher) IsRunning() bool {
	return af.running.Load()
}

// GetConfig returns the flusher's current (possibly runtime-adjusted)
// configuration.
func (af *AdaptiveFlusher) GetConfig() AdaptiveFlushConfig {
	af.mu.Lock()
	defer af.mu.Unlock()
	return af.config
}
