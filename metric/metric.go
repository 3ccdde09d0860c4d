// Package metric exposes pipeline counters through expvar. Counters are
// grouped by the type of the measured component, so every node of the
// same type shares one set of values.
package metric

import (
	"expvar"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"
)

const componentsLabel = "fast.components"

const (
	// ExecutionCounter measures number of executions.
	ExecutionCounter = "Executions"
	// FrameCounter measures number of published frames.
	FrameCounter = "Frames"
	// DropCounter measures number of frames dropped before consumption.
	DropCounter = "Drops"
	// LatencyCounter measures latency between execution calls.
	LatencyCounter = "Latency"
	// ComponentCounter counts number of components.
	ComponentCounter = "Components"
)

var (
	components = metrics{
		m: make(map[string]metric),
	}

	counters = []string{
		ExecutionCounter,
		FrameCounter,
		DropCounter,
		LatencyCounter,
		ComponentCounter,
	}
)

// Get metrics values for provided component type.
func Get(component interface{}) map[string]string {
	return getCounters(getType(component))
}

// GetAll returns counters for all measured components.
func GetAll() map[string]map[string]string {
	m := make(map[string]map[string]string)
	components.Lock()
	defer components.Unlock()
	for component := range components.m {
		m[component] = getCounters(component)
	}
	return m
}

func getCounters(componentType string) map[string]string {
	m := make(map[string]string)
	for _, counter := range counters {
		v := expvar.Get(key(componentType, counter))
		if v != nil {
			m[counter] = v.String()
		}
	}
	return m
}

// ResetFunc returns new Measure closure. This closure is needed to postpone metrics
// capture until component is actually running.
type ResetFunc func() MeasureFunc

// MeasureFunc captures metrics when the component has executed. Frames
// is the number of frames published by the execution.
type MeasureFunc func(frames int64)

// DropFunc captures number of dropped frames.
type DropFunc func(n int64)

// Meter creates new meter closure to capture component counters.
func Meter(component interface{}) ResetFunc {
	t := getType(component)
	metric := components.get(t)
	metric.components.Add(1)
	return func() MeasureFunc {
		calledAt := time.Now()
		return func(frames int64) {
			metric.latency.set(time.Since(calledAt))
			metric.executions.Add(1)
			metric.frames.Add(frames)
			calledAt = time.Now()
		}
	}
}

// Dropper creates new closure to capture dropped frames of the component.
func Dropper(component interface{}) DropFunc {
	metric := components.get(getType(component))
	return func(n int64) {
		metric.drops.Add(n)
	}
}

type metrics struct {
	sync.Mutex
	m map[string]metric
}

func (m *metrics) get(componentType string) metric {
	m.Lock()
	defer m.Unlock()
	if metric, ok := m.m[componentType]; ok {
		// return existing metric if available
		return metric
	}
	// create new metric
	metric := newMetric(componentType)
	m.m[componentType] = metric
	return metric
}

type metric struct {
	key        string
	components *expvar.Int
	executions *expvar.Int
	frames     *expvar.Int
	drops      *expvar.Int
	latency    *duration
}

func newMetric(componentType string) metric {
	m := metric{
		key:        componentType,
		components: expvar.NewInt(key(componentType, ComponentCounter)),
		executions: expvar.NewInt(key(componentType, ExecutionCounter)),
		frames:     expvar.NewInt(key(componentType, FrameCounter)),
		drops:      expvar.NewInt(key(componentType, DropCounter)),
		latency:    &duration{},
	}
	expvar.Publish(key(componentType, LatencyCounter), m.latency)
	return m
}

func key(componentType, counter string) string {
	return fmt.Sprintf("%s.%s.%s", componentsLabel, componentType, counter)
}

func getType(component interface{}) string {
	rv := reflect.ValueOf(component)
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		rv = rv.Elem()
	}
	return rv.Type().String()
}

// duration allows to format time.Duration metric values.
type duration struct {
	d int64
}

func (v *duration) String() string {
	return fmt.Sprintf("%q", time.Duration(atomic.LoadInt64(&v.d)))
}

func (v *duration) set(value time.Duration) {
	atomic.StoreInt64(&v.d, int64(value))
}
