package recognition

import (
	"fmt"
	"time"
)

// Options configures acceptance rules and the cache.
type Options struct {
	ConfidenceThreshold      float64
	MinimumShapeSize         float64
	EnableGeometryValidation bool
	CacheExpiration          time.Duration
	EnablePolygonRecognition bool
	// CacheCapacity is the per-shard LRU capacity of the result cache.
	CacheCapacity int
	// QueueSize bounds the number of pending tasks. Producers wait when full.
	QueueSize int
	// FastFingerprint selects the point count + endpoint cache key instead
	// of the full geometry hash.
	FastFingerprint bool
}

func DefaultOptions() Options {
	return Options{
		ConfidenceThreshold:      0.6,
		MinimumShapeSize:         10,
		EnableGeometryValidation: true,
		CacheExpiration:          5 * time.Minute,
		EnablePolygonRecognition: true,
		CacheCapacity:            32,
		QueueSize:                64,
	}
}

func (o Options) Validate() error {
	if o.ConfidenceThreshold < 0 || o.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold %v outside [0,1]", o.ConfidenceThreshold)
	}
	if o.MinimumShapeSize < 0 {
		return fmt.Errorf("negative minimum shape size %v", o.MinimumShapeSize)
	}
	if o.CacheExpiration < 0 {
		return fmt.Errorf("negative cache expiration %v", o.CacheExpiration)
	}
	return nil
}
