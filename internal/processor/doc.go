// Package processor runs the bounded worker pool that drives claimed
// tasks through the pipeline. Results stream out in completion order;
// cancellation is cooperative, checked before every claim and between
// stages inside the driver.
package processor
