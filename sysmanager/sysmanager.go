// Package sysmanager implements the process-wide key->value store of spec
// module J: persistent data (world-lifetime), temporary data (frame-lifetime,
// backed by a linear allocator cleared every frame) and per-system settings.
package sysmanager

import (
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/forgelake/warehouse/ecsalloc"
)

// Logger is the system manager's package-level logger, left at a no-op
// level by default so the core stays silent unless a host wires output
// (mirrors concurrent.Logger).
var Logger = zerolog.New(io.Discard).Level(zerolog.Disabled)

// Key is the ASCII key every lookup accepts (spec §4.11).
type Key = string

// KeyMissingError is the panic value of a try_* lookup's crashing sibling
// when key has no entry. try_* variants return (zero, false) instead.
type KeyMissingError struct {
	Store string
	Key   Key
}

func (e KeyMissingError) Error() string {
	return fmt.Sprintf("sysmanager: %s has no entry for key %q", e.Store, e.Key)
}

// blob is an opaque byte payload plus the type name it was stored under, so a
// mismatched Get panics loudly instead of silently reinterpreting bytes.
type blob struct {
	typeName string
	data     []byte
}

// Manager is the system manager of spec §4.11: persistent data, temporary
// (per-frame) data, and named per-system settings blobs.
type Manager struct {
	persistent sync.Map // Key -> blob

	tempMu   sync.Mutex
	temp     map[Key]blob
	tempArgs ecsalloc.ThreadSafeAllocator

	settingsMu sync.Mutex
	settings   map[string]map[Key]blob // system name -> key -> blob
}

// New returns an empty manager. tempArena backs the temporary store's
// allocations. ClearFrame below only drops the map entries; the manager
// never rewinds tempArena itself, and neither does the task manager's frame
// loop, so rewinding it is up to the caller owning the arena.
func New(tempArena ecsalloc.ThreadSafeAllocator) *Manager {
	return &Manager{
		temp:     make(map[Key]blob),
		tempArgs: tempArena,
		settings: make(map[string]map[Key]blob),
	}
}

func encode(typeName string, size int, write func([]byte)) blob {
	data := make([]byte, size)
	write(data)
	return blob{typeName: typeName, data: data}
}

// SetPersistent stores size bytes (written by write) under key for the
// lifetime of the world.
func (m *Manager) SetPersistent(key Key, typeName string, size int, write func([]byte)) {
	m.persistent.Store(key, encode(typeName, size, write))
}

// GetPersistent crashes with KeyMissingError if key has no persistent entry.
func (m *Manager) GetPersistent(key Key) []byte {
	v, ok := m.persistent.Load(key)
	if !ok {
		err := KeyMissingError{Store: "persistent", Key: key}
		Logger.Error().Str("store", err.Store).Str("key", err.Key).Msg(err.Error())
		panic(err)
	}
	return v.(blob).data
}

// TryGetPersistent is the non-crashing variant of GetPersistent.
func (m *Manager) TryGetPersistent(key Key) ([]byte, bool) {
	v, ok := m.persistent.Load(key)
	if !ok {
		return nil, false
	}
	return v.(blob).data, true
}

// SetTemporary stores size bytes, allocated from the per-frame arena, under
// key. Entries are dropped at ClearFrame.
func (m *Manager) SetTemporary(key Key, typeName string, size int, write func([]byte)) {
	buf := m.tempArgs.AllocTS(size, 1)
	write(buf)
	m.tempMu.Lock()
	m.temp[key] = blob{typeName: typeName, data: buf}
	m.tempMu.Unlock()
}

// GetTemporary crashes with KeyMissingError if key has no temporary entry.
func (m *Manager) GetTemporary(key Key) []byte {
	m.tempMu.Lock()
	defer m.tempMu.Unlock()
	b, ok := m.temp[key]
	if !ok {
		err := KeyMissingError{Store: "temporary", Key: key}
		Logger.Error().Str("store", err.Store).Str("key", err.Key).Msg(err.Error())
		panic(err)
	}
	return b.data
}

// TryGetTemporary is the non-crashing variant of GetTemporary.
func (m *Manager) TryGetTemporary(key Key) ([]byte, bool) {
	m.tempMu.Lock()
	defer m.tempMu.Unlock()
	b, ok := m.temp[key]
	if !ok {
		return nil, false
	}
	return b.data, true
}

// ClearFrame drops every temporary entry, readying the store for the next
// frame. It does not rewind the backing arena, and nothing in this module
// calls it automatically: the task manager's "finish frame" static task only
// flushes deferred commands.
func (m *Manager) ClearFrame() {
	m.tempMu.Lock()
	defer m.tempMu.Unlock()
	for k := range m.temp {
		delete(m.temp, k)
	}
}

// SetSetting stores a named settings blob under a system name.
func (m *Manager) SetSetting(system string, key Key, typeName string, size int, write func([]byte)) {
	m.settingsMu.Lock()
	defer m.settingsMu.Unlock()
	bucket, ok := m.settings[system]
	if !ok {
		bucket = make(map[Key]blob)
		m.settings[system] = bucket
	}
	bucket[key] = encode(typeName, size, write)
	Logger.Debug().Str("system", system).Str("key", key).Str("type", typeName).Msg("setting registered")
}

// GetSetting crashes with KeyMissingError if system/key has no entry.
func (m *Manager) GetSetting(system string, key Key) []byte {
	m.settingsMu.Lock()
	defer m.settingsMu.Unlock()
	bucket, ok := m.settings[system]
	if !ok {
		err := KeyMissingError{Store: "settings:" + system, Key: key}
		Logger.Error().Str("store", err.Store).Str("key", err.Key).Msg(err.Error())
		panic(err)
	}
	b, ok := bucket[key]
	if !ok {
		err := KeyMissingError{Store: "settings:" + system, Key: key}
		Logger.Error().Str("store", err.Store).Str("key", err.Key).Msg(err.Error())
		panic(err)
	}
	return b.data
}

// TryGetSetting is the non-crashing variant of GetSetting.
func (m *Manager) TryGetSetting(system string, key Key) ([]byte, bool) {
	m.settingsMu.Lock()
	defer m.settingsMu.Unlock()
	bucket, ok := m.settings[system]
	if !ok {
		return nil, false
	}
	b, ok := bucket[key]
	if !ok {
		return nil, false
	}
	return b.data, true
}
