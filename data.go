package fast

import (
	"reflect"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

type (
	// DataObject is a unit of pipeline data. Implementations embed Base
	// and may override Free and FreeAll to reclaim device memory or
	// internal caches.
	DataObject interface {
		base() *Base
		ID() string
		Timestamp() uint64
		CreationTimestamp() uint64
		Free(Device)
		FreeAll()
	}

	// Device identifies an execution device or memory space that can hold
	// a copy of data.
	Device interface {
		DeviceID() string
	}

	hostDevice struct{}
)

// Host is the main memory of the process.
var Host Device = hostDevice{}

func (hostDevice) DeviceID() string { return "host" }

// Base carries bookkeeping shared by all data objects. The zero value is
// ready to use and holds the producer's reference.
type Base struct {
	once     sync.Once
	id       string
	released int32
	refs     int32 // references beyond the initial one
	frozen   atomic.Bool

	stamp    atomic.Uint64
	creation atomic.Uint64

	mu      sync.Mutex
	devices map[string]Device
}

func (b *Base) base() *Base { return b }

// ID returns the unique id of the object. It is assigned lazily.
func (b *Base) ID() string {
	b.once.Do(func() {
		b.id = uuid.New().String()
	})
	return b.id
}

// Timestamp returns the port sequence assigned when the object was
// published for the first time. Zero means not yet published.
func (b *Base) Timestamp() uint64 {
	return b.stamp.Load()
}

// CreationTimestamp returns the producer-declared creation time in
// milliseconds. Streamers use it for pacing.
func (b *Base) CreationTimestamp() uint64 {
	return b.creation.Load()
}

// SetCreationTimestamp sets the creation time in milliseconds.
func (b *Base) SetCreationTimestamp(ms uint64) error {
	if b.Frozen() {
		return ErrImmutable
	}
	b.creation.Store(ms)
	return nil
}

// Frozen reports whether the object was published. Concrete types must
// check it before mutating their content.
func (b *Base) Frozen() bool {
	return b.frozen.Load()
}

// SetResident records that the device holds a valid copy of the data.
func (b *Base) SetResident(d Device) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.devices == nil {
		b.devices = make(map[string]Device)
	}
	b.devices[d.DeviceID()] = d
}

// IsResident reports whether the device holds a valid copy of the data.
func (b *Base) IsResident(d Device) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.devices[d.DeviceID()]
	return ok
}

// Devices returns the devices holding a valid copy, sorted by id.
func (b *Base) Devices() []Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	devices := make([]Device, 0, len(b.devices))
	for _, d := range b.devices {
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].DeviceID() < devices[j].DeviceID()
	})
	return devices
}

// Free drops the copy held by the device.
func (b *Base) Free(d Device) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.devices, d.DeviceID())
}

// FreeAll drops the copies held by all devices.
func (b *Base) FreeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.devices = nil
}

// References returns the number of live references.
func (b *Base) References() int {
	if atomic.LoadInt32(&b.released) != 0 {
		return 0
	}
	return int(atomic.LoadInt32(&b.refs)) + 1
}

// freeze assigns the timestamp once and marks the object published. A
// frozen object always reports its timestamp.
func (b *Base) freeze(seq uint64) {
	b.stamp.CompareAndSwap(0, seq)
	b.frozen.Store(true)
}

// Retain adds a reference to the object.
func Retain(obj DataObject) {
	atomic.AddInt32(&obj.base().refs, 1)
}

// Release drops a reference to the object. When the last reference is
// released, FreeAll is called.
func Release(obj DataObject) {
	b := obj.base()
	if atomic.AddInt32(&b.refs, -1) >= 0 {
		return
	}
	if atomic.CompareAndSwapInt32(&b.released, 0, 1) {
		obj.FreeAll()
	}
}

// TypeOf returns the port type for T. Use an interface type to accept
// any implementation.
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// AnyData is the port type that accepts every data object.
var AnyData = TypeOf[DataObject]()
