package serving

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"examscore/ml"
)

const DefaultCacheSize = 1024

// predictionCache memoizes row predictions for one Context.
type predictionCache struct {
	entries *lru.Cache[ml.FeatureRow, float64]
}

// newPredictionCache returns nil for a negative size (cache disabled).
func newPredictionCache(size int) (*predictionCache, error) {
	if size < 0 {
		return nil, nil
	}
	if size == 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New[ml.FeatureRow, float64](size)
	if err != nil {
		return nil, err
	}
	return &predictionCache{entries: entries}, nil
}

// lookup fills hits into out and returns the indices that missed.
func (c *predictionCache) lookup(rows []ml.FeatureRow, out []float64) []int {
	misses := make([]int, 0, len(rows))
	for i, row := range rows {
		if c == nil {
			misses = append(misses, i)
			continue
		}
		if v, ok := c.entries.Get(row); ok {
			out[i] = v
			continue
		}
		misses = append(misses, i)
	}
	return misses
}

func (c *predictionCache) store(row ml.FeatureRow, v float64) {
	if c == nil {
		return
	}
	c.entries.Add(row, v)
}

func (c *predictionCache) Len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}
