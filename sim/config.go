package sim

import "fmt"

// Config groups the settings a Scheduler is built from.
type Config struct {
	FinishTime int64 // reference finish condition votes stop at step >= FinishTime
	Workers    int   // 0 or 1 = sequential strategy, N>1 = pool of N workers
	Seed       int64 // master seed for PartitionedRNG
}

// Validate returns an error describing the first invalid field.
func (c Config) Validate() error {
	if c.FinishTime < 0 {
		return fmt.Errorf("finish time must be >= 0, got %d", c.FinishTime)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", c.Workers)
	}
	return nil
}
