package logging

import "strings"

// ProgressSampler thins out progress logging: a record is emitted when the
// stage changes or the percentage enters a new bucket.
type ProgressSampler struct {
	step   float64
	stage  string
	bucket int
}

// NewProgressSampler returns a sampler with buckets of step percent
// (10 when step is not positive).
func NewProgressSampler(step float64) *ProgressSampler {
	if step <= 0 {
		step = 10
	}
	return &ProgressSampler{step: step, bucket: -1}
}

// ShouldLog reports whether to log this update. Negative percentages mean
// the total is unknown, so only a stage change emits. A nil sampler logs
// everything.
func (s *ProgressSampler) ShouldLog(percent float64, stage string) bool {
	if s == nil {
		return true
	}
	emit := false
	if stage = strings.TrimSpace(stage); stage != "" && stage != s.stage {
		s.stage, s.bucket = stage, -1
		emit = true
	}
	if percent < 0 {
		return emit
	}
	if bucket := int(min(percent, 100) / s.step); bucket > s.bucket {
		s.bucket = bucket
		emit = true
	}
	return emit
}

// Reset forgets the last stage and bucket.
func (s *ProgressSampler) Reset() {
	if s != nil {
		s.stage, s.bucket = "", -1
	}
}
