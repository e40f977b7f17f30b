package utils

import "sync"

// CMap is a typed wrapper around sync.Map. dataq uses it where entries are
// written once and read from many goroutines (response routing, pending
// view queries).
type CMap[K comparable, V any] struct {
	sm sync.Map
}

func (m *CMap[K, V]) Load(key K) (value V, ok bool) {
	v, o := m.sm.Load(key)
	if !o {
		return value, o
	}
	return v.(V), o
}

func (m *CMap[K, V]) Store(key K, value V) {
	m.sm.Store(key, value)
}

func (m *CMap[K, V]) LoadOrStore(key K, value V) (actual V, loaded bool) {
	a, l := m.sm.LoadOrStore(key, value)
	return a.(V), l
}

func (m *CMap[K, V]) LoadAndDelete(key K) (value V, loaded bool) {
	v, l := m.sm.LoadAndDelete(key)
	if !l {
		return value, l
	}
	return v.(V), l
}

func (m *CMap[K, V]) Delete(key K) {
	m.sm.Delete(key)
}

func (m *CMap[K, V]) Range(f func(key K, value V) bool) {
	m.sm.Range(func(key, value any) bool {
		return f(key.(K), value.(V))
	})
}
