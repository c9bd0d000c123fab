// Package health models binder and listener health as verdicts that can be
// composed, probed with a timeout and exported as metrics.
package health

import (
	"bytes"
	"context"
	"fmt"

	"github.com/drblury/streambridge/internal/runtime/jsoncodec"
)

// Status is the coarse health state of a component.
type Status string

const (
	StatusUp      Status = "UP"
	StatusDown    Status = "DOWN"
	StatusUnknown Status = "UNKNOWN"
)

// Detail is one key/value pair attached to a verdict.
type Detail struct {
	Key   string
	Value any
}

// Details keeps insertion order so verdicts serialize deterministically.
type Details []Detail

// Get returns the value stored under key.
func (d Details) Get(key string) (any, bool) {
	for _, detail := range d {
		if detail.Key == key {
			return detail.Value, true
		}
	}
	return nil, false
}

// MarshalJSON encodes the details as a JSON object in insertion order.
func (d Details) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, detail := range d {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := jsoncodec.Marshal(detail.Key)
		if err != nil {
			return nil, err
		}
		value := detail.Value
		if err, ok := value.(error); ok {
			value = err.Error()
		}
		encoded, err := jsoncodec.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("health detail %q: %w", detail.Key, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(encoded)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Verdict is the result of one health check.
type Verdict struct {
	Status  Status  `json:"status"`
	Details Details `json:"details,omitempty"`
}

// With returns a copy of v with one more detail.
func (v Verdict) With(key string, value any) Verdict {
	details := make(Details, len(v.Details), len(v.Details)+1)
	copy(details, v.Details)
	v.Details = append(details, Detail{Key: key, Value: value})
	return v
}

// Err returns the error carried by a DOWN verdict, if any.
func (v Verdict) Err() error {
	value, ok := v.Details.Get("error")
	if !ok {
		return nil
	}
	err, _ := value.(error)
	return err
}

func Up() Verdict      { return Verdict{Status: StatusUp} }
func Down() Verdict    { return Verdict{Status: StatusDown} }
func Unknown() Verdict { return Verdict{Status: StatusUnknown} }

// DownWithError builds a DOWN verdict carrying err under the "error" key.
func DownWithError(err error) Verdict {
	return Down().With("error", err)
}

// Indicator reports the health of one component. Implementations must be safe
// for sequential calls from a single prober goroutine.
type Indicator interface {
	Health(ctx context.Context) Verdict
}

// IndicatorFunc adapts a function to Indicator.
type IndicatorFunc func(ctx context.Context) Verdict

func (f IndicatorFunc) Health(ctx context.Context) Verdict { return f(ctx) }

// HealthProbeError is carried in a DOWN verdict when a probe fails, times out
// or panics.
type HealthProbeError struct {
	Indicator string
	Err       error
}

func (e *HealthProbeError) Error() string {
	if e.Indicator == "" {
		return fmt.Sprintf("streambridge: health probe failed: %v", e.Err)
	}
	return fmt.Sprintf("streambridge: health probe %s failed: %v", e.Indicator, e.Err)
}

func (e *HealthProbeError) Unwrap() error { return e.Err }
