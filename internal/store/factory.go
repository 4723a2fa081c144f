package store

import (
	"basegraph.app/chorus/core/db"
)

type Stores struct {
	db db.DBTX
}

// NewStores binds every store to q, which may be the pool or a transaction.
func NewStores(q db.DBTX) *Stores {
	return &Stores{db: q}
}

func (s *Stores) Conversations() ConversationStore {
	return newConversationStore(s.db)
}

func (s *Stores) Messages() MessageStore {
	return newMessageStore(s.db)
}

func (s *Stores) Entities() EntityStore {
	return newEntityStore(s.db)
}

func (s *Stores) Tasks() TaskStore {
	return newTaskStore(s.db)
}

func (s *Stores) Settings() SettingsStore {
	return newSettingsStore(s.db)
}
