package statistics_test

import (
	"sync"
	"testing"
	"time"

	"github.com/pg-sharding/bulkload/pkg/statistics"
	"github.com/stretchr/testify/assert"
)

func TestStageStatistics(t *testing.T) {
	assert := assert.New(t)

	statistics.Reset()
	statistics.SetQuantiles([]float64{0.5})
	defer statistics.SetQuantiles([]float64{0.5, 0.9, 0.99})

	assert.Nil(statistics.StageQuantiles(statistics.StageSnapshot))

	for i := 1; i <= 3; i++ {
		statistics.RecordStage(statistics.StageSnapshot, time.Duration(i)*time.Millisecond)
	}

	qs := statistics.StageQuantiles(statistics.StageSnapshot)
	assert.Len(qs, 1)
	assert.InDelta(2, qs[0.5], 0.5)
	assert.Equal(uint64(3), statistics.StageCount(statistics.StageSnapshot))
	assert.Equal([]float64{0.5}, statistics.GetQuantiles())

	statistics.LogStages()
}

func TestStageStatisticsConcurrent(t *testing.T) {
	statistics.Reset()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				statistics.RecordSince(statistics.StageEncode, time.Now())
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(800), statistics.StageCount(statistics.StageEncode))
}
