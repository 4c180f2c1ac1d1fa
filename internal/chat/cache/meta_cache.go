package cache

import "sync"

// Speaker is the cached speaker projection used for default-speaker resolution.
type Speaker struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	Color  string `json:"color,omitempty"`
	IsUser bool   `json:"is_user"`
}

// MetaCache holds the speaker set and settings key/values. It is uncapped.
type MetaCache struct {
	mu           sync.RWMutex
	speakers     map[string]Speaker
	speakersFull bool
	settings     map[string]string
	settingsFull bool
}

func NewMetaCache() *MetaCache {
	return &MetaCache{
		speakers: make(map[string]Speaker),
		settings: make(map[string]string),
	}
}

func (m *MetaCache) Speaker(id string) (Speaker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.speakers[id]
	return s, ok
}

// Speakers returns the full speaker set, or false when it has not been loaded since the last
// wholesale invalidation.
func (m *MetaCache) Speakers() ([]Speaker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.speakersFull {
		return nil, false
	}
	out := make([]Speaker, 0, len(m.speakers))
	for _, s := range m.speakers {
		out = append(out, s)
	}
	return out, true
}

func (m *MetaCache) SetSpeakers(all []Speaker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.speakers = make(map[string]Speaker, len(all))
	for _, s := range all {
		m.speakers[s.ID] = s
	}
	m.speakersFull = true
}

func (m *MetaCache) PutSpeaker(s Speaker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.speakers[s.ID] = s
}

// InvalidateSpeaker drops one speaker; the full set is no longer considered complete.
func (m *MetaCache) InvalidateSpeaker(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.speakers, id)
	m.speakersFull = false
}

func (m *MetaCache) InvalidateSpeakers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.speakers = make(map[string]Speaker)
	m.speakersFull = false
}

func (m *MetaCache) Setting(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.settings[key]
	return v, ok
}

func (m *MetaCache) Settings() (map[string]string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.settingsFull {
		return nil, false
	}
	out := make(map[string]string, len(m.settings))
	for k, v := range m.settings {
		out[k] = v
	}
	return out, true
}

func (m *MetaCache) SetSettings(all map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = make(map[string]string, len(all))
	for k, v := range all {
		m.settings[k] = v
	}
	m.settingsFull = true
}

func (m *MetaCache) PutSetting(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = value
}

func (m *MetaCache) InvalidateSetting(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.settings, key)
	m.settingsFull = false
}

func (m *MetaCache) InvalidateSettings() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = make(map[string]string)
	m.settingsFull = false
}
