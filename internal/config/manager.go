package config

import (
	"sync"

	"go.uber.org/zap"
)

// Manager owns the configuration file and publishes snapshots of it. A failed
// load or edit leaves the previously published configuration in effect.
type Manager struct {
	path   string
	holder *Holder
	logger *zap.Logger

	mu        sync.Mutex
	file      *File
	listeners []func(*File)
}

// NewManager creates a Manager for the file at path. Until Load succeeds the
// published snapshot is the default configuration with no mappings. An empty
// path keeps the configuration in memory only.
func NewManager(path string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := Default()
	return &Manager{
		path:   path,
		holder: NewHolder(f.Snapshot()),
		logger: logger,
		file:   f,
	}
}

// Holder returns the holder the manager publishes snapshots to.
func (m *Manager) Holder() *Holder {
	return m.holder
}

// Path returns the configuration file path.
func (m *Manager) Path() string {
	return m.path
}

// File returns a copy of the current configuration.
func (m *Manager) File() *File {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.file.clone()
}

// OnChange registers fn to be called after every successful publish.
func (m *Manager) OnChange(fn func(*File)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Load reads the configuration file and publishes it.
func (m *Manager) Load() error {
	f, err := Load(m.path)
	if err != nil {
		m.logger.Error("Failed to load configuration", zap.String("path", m.path), zap.Error(err))
		return err
	}
	for _, g := range f.UnknownGestures() {
		m.logger.Warn("Mapping uses unknown gesture", zap.String("gesture", g))
	}

	m.mu.Lock()
	m.publish(f)
	listeners := m.listenersLocked()
	m.mu.Unlock()

	m.logger.Info("Configuration loaded",
		zap.String("path", m.path),
		zap.Int("mappings", len(f.Mappings)),
	)
	notify(listeners, f)
	return nil
}

// Reload is Load under the name callers use after startup.
func (m *Manager) Reload() error {
	m.logger.Info("Reloading configuration", zap.String("path", m.path))
	return m.Load()
}

// Set validates f and publishes it without touching the file on disk.
func (m *Manager) Set(f *File) error {
	if err := f.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.publish(f.clone())
	listeners := m.listenersLocked()
	m.mu.Unlock()
	notify(listeners, f)
	return nil
}

// AddMapping appends a mapping, saves and publishes the result.
func (m *Manager) AddMapping(mp Mapping) error {
	return m.edit(func(f *File) (*File, error) {
		return f.WithMapping(mp), nil
	})
}

// UpdateMapping replaces the mapping at index, saves and publishes the result.
func (m *Manager) UpdateMapping(index int, mp Mapping) error {
	return m.edit(func(f *File) (*File, error) {
		return f.WithMappingAt(index, mp)
	})
}

// RemoveMapping deletes the mapping at index, saves and publishes the result.
func (m *Manager) RemoveMapping(index int) (Mapping, error) {
	var removed Mapping
	err := m.edit(func(f *File) (*File, error) {
		next, r, err := f.WithoutMapping(index)
		removed = r
		return next, err
	})
	return removed, err
}

func (m *Manager) edit(change func(*File) (*File, error)) error {
	m.mu.Lock()
	next, err := change(m.file)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if err := next.Validate(); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.path != "" {
		if err := Save(m.path, next); err != nil {
			m.mu.Unlock()
			m.logger.Error("Failed to save configuration", zap.String("path", m.path), zap.Error(err))
			return err
		}
	}
	m.publish(next)
	listeners := m.listenersLocked()
	m.mu.Unlock()

	m.logger.Info("Configuration updated", zap.Int("mappings", len(next.Mappings)))
	notify(listeners, next)
	return nil
}

// publish must be called with mu held.
func (m *Manager) publish(f *File) {
	m.file = f
	m.holder.Store(f.Snapshot())
}

func (m *Manager) listenersLocked() []func(*File) {
	out := make([]func(*File), len(m.listeners))
	copy(out, m.listeners)
	return out
}

func notify(listeners []func(*File), f *File) {
	for _, fn := range listeners {
		fn(f.clone())
	}
}
