package config

import (
	"errors"
	"fmt"
)

// ErrMappingIndex is returned when a mapping index is out of range.
var ErrMappingIndex = errors.New("mapping index out of range")

// WithMapping returns a copy of f with m appended.
func (f *File) WithMapping(m Mapping) *File {
	c := f.clone()
	c.Mappings = append(c.Mappings, m)
	return c
}

// WithMappingAt returns a copy of f with the mapping at index replaced by m.
func (f *File) WithMappingAt(index int, m Mapping) (*File, error) {
	if index < 0 || index >= len(f.Mappings) {
		return nil, fmt.Errorf("%w: %d", ErrMappingIndex, index)
	}
	c := f.clone()
	c.Mappings[index] = m
	return c, nil
}

// WithoutMapping returns a copy of f with the mapping at index removed, and
// the removed mapping.
func (f *File) WithoutMapping(index int) (*File, Mapping, error) {
	if index < 0 || index >= len(f.Mappings) {
		return nil, Mapping{}, fmt.Errorf("%w: %d", ErrMappingIndex, index)
	}
	c := f.clone()
	removed := c.Mappings[index]
	c.Mappings = append(c.Mappings[:index], c.Mappings[index+1:]...)
	return c, removed, nil
}
