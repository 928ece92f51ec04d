// Package statistics keeps latency digests of the load stages.
package statistics

import (
	"sync"
	"time"

	"github.com/caio/go-tdigest"

	"github.com/pg-sharding/bulkload/pkg/loadlog"
)

type Stage string

const (
	StageSnapshot = Stage("snapshot")
	StageAssemble = Stage("assemble")
	StageSubmit   = Stage("submit")
	StageStage    = Stage("stage")
	StageExtract  = Stage("extract")
	StageEncode   = Stage("encode")
	StageWrite    = Stage("write")
)

type statistics struct {
	mu        sync.Mutex
	StageTime map[Stage]*tdigest.TDigest
	Quantiles []float64
}

var stageStatistics = statistics{
	StageTime: make(map[Stage]*tdigest.TDigest),
	Quantiles: []float64{0.5, 0.9, 0.99},
}

func SetQuantiles(q []float64) {
	stageStatistics.mu.Lock()
	defer stageStatistics.mu.Unlock()
	stageStatistics.Quantiles = append([]float64(nil), q...)
}

func GetQuantiles() []float64 {
	stageStatistics.mu.Lock()
	defer stageStatistics.mu.Unlock()
	return append([]float64(nil), stageStatistics.Quantiles...)
}

// RecordStage adds one observation, in milliseconds, to the stage digest.
func RecordStage(stage Stage, d time.Duration) {
	stageStatistics.mu.Lock()
	defer stageStatistics.mu.Unlock()

	td, ok := stageStatistics.StageTime[stage]
	if !ok {
		td, _ = tdigest.New()
		stageStatistics.StageTime[stage] = td
	}
	_ = td.Add(float64(d.Microseconds()) / 1000)
}

// RecordSince records the time elapsed from start. Meant for defer.
func RecordSince(stage Stage, start time.Time) {
	RecordStage(stage, time.Since(start))
}

// StageQuantiles returns the configured quantiles of a stage in
// milliseconds. A stage without observations yields nil.
func StageQuantiles(stage Stage) map[float64]float64 {
	stageStatistics.mu.Lock()
	defer stageStatistics.mu.Unlock()

	td, ok := stageStatistics.StageTime[stage]
	if !ok || td.Count() == 0 {
		return nil
	}
	ret := make(map[float64]float64, len(stageStatistics.Quantiles))
	for _, q := range stageStatistics.Quantiles {
		ret[q] = td.Quantile(q)
	}
	return ret
}

// StageCount returns the number of observations of a stage.
func StageCount(stage Stage) uint64 {
	stageStatistics.mu.Lock()
	defer stageStatistics.mu.Unlock()

	if td, ok := stageStatistics.StageTime[stage]; ok {
		return td.Count()
	}
	return 0
}

// Reset drops every digest.
func Reset() {
	stageStatistics.mu.Lock()
	defer stageStatistics.mu.Unlock()
	stageStatistics.StageTime = make(map[Stage]*tdigest.TDigest)
}

// LogStages writes the quantiles of every observed stage at debug level.
func LogStages() {
	for _, stage := range []Stage{StageSnapshot, StageAssemble, StageSubmit, StageStage, StageExtract, StageEncode, StageWrite} {
		qs := StageQuantiles(stage)
		if qs == nil {
			continue
		}
		ev := loadlog.Zero.Debug().Str("stage", string(stage)).Uint64("count", StageCount(stage))
		for q, v := range qs {
			ev = ev.Float64(formatQuantile(q), v)
		}
		ev.Msg("statistics: stage latency")
	}
}

func formatQuantile(q float64) string {
	return "p" + trimFloat(q*100)
}
