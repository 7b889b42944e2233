package health

import "time"

// Thresholds translate raw numbers into a Status.
//
// Response time, error rate and capacity grow worse upwards: the critical value is the
// larger one. Success rate is compared the other way round: a rate at or above
// SuccessRateCritical is Healthy and one at or above SuccessRateWarning is Degraded, so
// SuccessRateCritical is the larger value and acts as the "good" cutoff.
type Thresholds struct {
	ResponseTimeWarning  time.Duration `json:"response_time_warning" yaml:"response_time_warning"`
	ResponseTimeCritical time.Duration `json:"response_time_critical" yaml:"response_time_critical"`
	SuccessRateWarning   float64       `json:"success_rate_warning" yaml:"success_rate_warning"`
	SuccessRateCritical  float64       `json:"success_rate_critical" yaml:"success_rate_critical"`
	ErrorRateWarning     float64       `json:"error_rate_warning" yaml:"error_rate_warning"`
	ErrorRateCritical    float64       `json:"error_rate_critical" yaml:"error_rate_critical"`
	CapacityWarning      float64       `json:"capacity_warning" yaml:"capacity_warning"`
	CapacityCritical     float64       `json:"capacity_critical" yaml:"capacity_critical"`
}

// DefaultThresholds returns the default thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ResponseTimeWarning:  time.Second,
		ResponseTimeCritical: 5 * time.Second,
		SuccessRateWarning:   0.90,
		SuccessRateCritical:  0.95,
		ErrorRateWarning:     0.05,
		ErrorRateCritical:    0.10,
		CapacityWarning:      0.80,
		CapacityCritical:     0.95,
	}
}

// withDefaults fills zero fields.
func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.ResponseTimeWarning <= 0 {
		t.ResponseTimeWarning = d.ResponseTimeWarning
	}
	if t.ResponseTimeCritical <= 0 {
		t.ResponseTimeCritical = d.ResponseTimeCritical
	}
	if t.SuccessRateWarning <= 0 {
		t.SuccessRateWarning = d.SuccessRateWarning
	}
	if t.SuccessRateCritical <= 0 {
		t.SuccessRateCritical = d.SuccessRateCritical
	}
	if t.ErrorRateWarning <= 0 {
		t.ErrorRateWarning = d.ErrorRateWarning
	}
	if t.ErrorRateCritical <= 0 {
		t.ErrorRateCritical = d.ErrorRateCritical
	}
	if t.CapacityWarning <= 0 {
		t.CapacityWarning = d.CapacityWarning
	}
	if t.CapacityCritical <= 0 {
		t.CapacityCritical = d.CapacityCritical
	}
	return t
}

// ClassifySuccessRate: >= SuccessRateCritical is Healthy, >= SuccessRateWarning Degraded.
func (t Thresholds) ClassifySuccessRate(rate float64) Status {
	switch {
	case rate >= t.SuccessRateCritical:
		return Healthy
	case rate >= t.SuccessRateWarning:
		return Degraded
	}
	return Unhealthy
}

// ClassifyErrorRate: above ErrorRateCritical is Unhealthy, above ErrorRateWarning Degraded.
func (t Thresholds) ClassifyErrorRate(rate float64) Status {
	switch {
	case rate > t.ErrorRateCritical:
		return Unhealthy
	case rate > t.ErrorRateWarning:
		return Degraded
	}
	return Healthy
}

// ClassifyResponseTime: above ResponseTimeCritical is Unhealthy, above ResponseTimeWarning Degraded.
func (t Thresholds) ClassifyResponseTime(d time.Duration) Status {
	switch {
	case d > t.ResponseTimeCritical:
		return Unhealthy
	case d > t.ResponseTimeWarning:
		return Degraded
	}
	return Healthy
}

// ClassifyCapacity takes utilisation in [0,1]: at or above CapacityCritical is Unhealthy,
// at or above CapacityWarning Degraded.
func (t Thresholds) ClassifyCapacity(utilisation float64) Status {
	switch {
	case utilisation >= t.CapacityCritical:
		return Unhealthy
	case utilisation >= t.CapacityWarning:
		return Degraded
	}
	return Healthy
}
