package services

import (
	"github.com/yungbote/branchchat-backend/internal/realtime"
)

// CacheInvalidator applies bus events to this instance's caches, so a mutation served by a peer
// instance drops the stale entry here too.
type CacheInvalidator struct {
	Chats    ChatTreeService
	Speakers SpeakerService
	Settings SettingService
}

func (c *CacheInvalidator) Handle(msg realtime.SSEMessage) {
	switch msg.Event {
	case realtime.SSEEventChatUpdated, realtime.SSEEventChatDeleted:
		d, ok := msg.Data.(realtime.ChatUpdated)
		if ok && c.Chats != nil {
			c.Chats.Invalidate(d.ChatID)
		}
	case realtime.SSEEventSpeakersChanged:
		if c.Speakers != nil {
			d, _ := msg.Data.(realtime.MetaChanged)
			c.Speakers.Invalidate(d.ID)
		}
	case realtime.SSEEventSettingsChanged:
		if c.Settings != nil {
			d, _ := msg.Data.(realtime.MetaChanged)
			c.Settings.Invalidate(d.ID)
		}
	}
}
