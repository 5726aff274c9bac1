package sysmanager

import (
	"reflect"
	"unsafe"
)

// Typed[T] wraps a Manager lookup for a single persistent value of type T,
// mirroring the teacher's AccessibleComponent[T] generic-accessor style
// (componentaccessible.go) applied to the system manager's blob stores
// instead of an archetype column.
type Typed[T any] struct {
	key Key
}

// NewTyped returns a typed accessor bound to key.
func NewTyped[T any](key Key) Typed[T] {
	return Typed[T]{key: key}
}

func sizeOf[T any]() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

func typeName[T any]() string {
	var zero T
	return reflect.TypeOf(zero).String()
}

func asT[T any](data []byte) *T {
	return (*T)(unsafe.Pointer(&data[0]))
}

// SetPersistent stores value under t's key for the world's lifetime.
func (t Typed[T]) SetPersistent(m *Manager, value T) {
	m.SetPersistent(t.key, typeName[T](), sizeOf[T](), func(buf []byte) {
		*asT[T](buf) = value
	})
}

// GetPersistent returns a pointer into the stored value, crashing if absent.
func (t Typed[T]) GetPersistent(m *Manager) *T {
	return asT[T](m.GetPersistent(t.key))
}

// TryGetPersistent is the non-crashing variant of GetPersistent.
func (t Typed[T]) TryGetPersistent(m *Manager) (*T, bool) {
	data, ok := m.TryGetPersistent(t.key)
	if !ok {
		return nil, false
	}
	return asT[T](data), true
}

// SetTemporary stores value under t's key for the current frame.
func (t Typed[T]) SetTemporary(m *Manager, value T) {
	m.SetTemporary(t.key, typeName[T](), sizeOf[T](), func(buf []byte) {
		*asT[T](buf) = value
	})
}

// GetTemporary returns a pointer into the stored value, crashing if absent.
func (t Typed[T]) GetTemporary(m *Manager) *T {
	return asT[T](m.GetTemporary(t.key))
}

// TryGetTemporary is the non-crashing variant of GetTemporary.
func (t Typed[T]) TryGetTemporary(m *Manager) (*T, bool) {
	data, ok := m.TryGetTemporary(t.key)
	if !ok {
		return nil, false
	}
	return asT[T](data), true
}
