package model

import "time"

type ConversationKind string

const (
	ConversationKindSingle ConversationKind = "single"
	ConversationKindGroup  ConversationKind = "group"
)

// UserSpeakerID marks the user as the last speaker.
const UserSpeakerID int64 = 0

// Conversation is a 1:1 or group thread. Consecutive-speak counters are kept as
// (LastSpeakerID, SpeakerStreak): a counter resets whenever someone else speaks,
// so only the last speaker can have a nonzero count.
type Conversation struct {
	ID                 int64            `json:"id"`
	Kind               ConversationKind `json:"kind"`
	Title              string           `json:"title"`
	MemberIDs          []int64          `json:"member_ids"`
	AllowAIToAI        bool             `json:"allow_ai_to_ai"`
	LastSpeakerID      int64            `json:"last_speaker_id"`
	SpeakerStreak      int              `json:"speaker_streak"`
	LastMessagePreview string           `json:"last_message_preview"`
	LastMessageAt      *time.Time       `json:"last_message_at,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	DeletedAt          *time.Time       `json:"deleted_at,omitempty"`
}

func (c *Conversation) IsGroup() bool {
	return c.Kind == ConversationKindGroup
}

// ConsecutiveSpeaks returns how many times in a row entityID has spoken.
func (c *Conversation) ConsecutiveSpeaks(entityID int64) int {
	if entityID == UserSpeakerID || c.LastSpeakerID != entityID {
		return 0
	}
	return c.SpeakerStreak
}

// RecordSpeaker advances the streak for the same speaker and resets it otherwise.
func (c *Conversation) RecordSpeaker(speakerID int64) {
	if speakerID != UserSpeakerID && c.LastSpeakerID == speakerID {
		c.SpeakerStreak++
		return
	}
	c.LastSpeakerID = speakerID
	if speakerID == UserSpeakerID {
		c.SpeakerStreak = 0
		return
	}
	c.SpeakerStreak = 1
}

// Counters exposes the streak as a per-entity map for the responder selector.
func (c *Conversation) Counters() map[int64]int {
	if c.LastSpeakerID == UserSpeakerID || c.SpeakerStreak == 0 {
		return map[int64]int{}
	}
	return map[int64]int{c.LastSpeakerID: c.SpeakerStreak}
}

func (c *Conversation) HasMember(entityID int64) bool {
	for _, id := range c.MemberIDs {
		if id == entityID {
			return true
		}
	}
	return false
}
