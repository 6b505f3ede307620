package followup

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Store persists actions and follow-up entries. Implementations must make
// CreateAction and InsertActionEntries idempotent on (action id, offset) so
// a retry after a partial write never duplicates entries.
type Store interface {
	CreateAction(ctx context.Context, action Action, entries []Entry) error
	InsertActionEntries(ctx context.Context, entries []Entry) (int, error)
	// InsertBullyingEntry stores entry unless the conversation already has a
	// bullying follow-up; it reports whether the entry was stored.
	InsertBullyingEntry(ctx context.Context, entry Entry) (bool, error)
	GetAction(ctx context.Context, actionID string) (Action, error)
	ListActions(ctx context.Context, userID string, filter ActionFilter) ([]Action, error)
	// UpdateActionStatus changes the status and, for completed or cancelled,
	// skips every still-pending entry of the action. It returns the number of
	// skipped entries.
	UpdateActionStatus(ctx context.Context, actionID string, status ActionStatus, at time.Time) (Action, int, error)
	ListEntries(ctx context.Context, actionID string) ([]Entry, error)
	ListPendingForUser(ctx context.Context, userID string) ([]Entry, error)
	GetEntry(ctx context.Context, entryID string) (Entry, error)
	MarkSent(ctx context.Context, entryID string, at time.Time) error
	MarkResponded(ctx context.Context, entryID, response string, at time.Time) (Entry, error)
	DuePending(ctx context.Context, now time.Time, limit int) ([]DueEntry, error)
}

// MemoryStore keeps everything in process. It backs local runs without a
// database and the tests.
type MemoryStore struct {
	mu       sync.Mutex
	actions  map[string]Action
	entries  map[string]Entry
	byOffset map[string]string
	guards   map[string]struct{}
	seq      []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		actions:  map[string]Action{},
		entries:  map[string]Entry{},
		byOffset: map[string]string{},
		guards:   map[string]struct{}{},
	}
}

func offsetKey(actionID string, offset int) string {
	return fmt.Sprintf("%s/%d", actionID, offset)
}

func (s *MemoryStore) CreateAction(_ context.Context, action Action, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.actions[action.ID]; !exists {
		s.actions[action.ID] = action
	}
	s.insertActionEntriesLocked(entries)
	return nil
}

func (s *MemoryStore) InsertActionEntries(_ context.Context, entries []Entry) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range entries {
		if entry.ActionID == nil {
			return 0, fmt.Errorf("%w: entry %s has no action", ErrInvalidAction, entry.ID)
		}
		if _, ok := s.actions[*entry.ActionID]; !ok {
			return 0, fmt.Errorf("action %s: %w", *entry.ActionID, ErrNotFound)
		}
	}
	return s.insertActionEntriesLocked(entries), nil
}

func (s *MemoryStore) insertActionEntriesLocked(entries []Entry) int {
	inserted := 0
	for _, entry := range entries {
		if entry.ActionID == nil {
			continue
		}
		key := offsetKey(*entry.ActionID, entry.OffsetDays)
		if _, dup := s.byOffset[key]; dup {
			continue
		}
		s.byOffset[key] = entry.ID
		s.entries[entry.ID] = entry
		s.seq = append(s.seq, entry.ID)
		inserted++
	}
	return inserted
}

func (s *MemoryStore) InsertBullyingEntry(_ context.Context, entry Entry) (bool, error) {
	if entry.ConversationID == nil {
		return false, fmt.Errorf("%w: bullying follow-up needs a conversation", ErrInvalidAction)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, done := s.guards[*entry.ConversationID]; done {
		return false, nil
	}
	s.guards[*entry.ConversationID] = struct{}{}
	s.entries[entry.ID] = entry
	s.seq = append(s.seq, entry.ID)
	return true, nil
}

func (s *MemoryStore) GetAction(_ context.Context, actionID string) (Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	action, ok := s.actions[actionID]
	if !ok {
		return Action{}, fmt.Errorf("action %s: %w", actionID, ErrNotFound)
	}
	return action, nil
}

func (s *MemoryStore) ListActions(_ context.Context, userID string, filter ActionFilter) ([]Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := []Action{}
	for _, action := range s.actions {
		if action.UserID != userID {
			continue
		}
		if filter.Status != "" && action.Status != filter.Status {
			continue
		}
		if filter.Theme != "" && action.Theme != filter.Theme {
			continue
		}
		result = append(result, action)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) UpdateActionStatus(_ context.Context, actionID string, status ActionStatus, at time.Time) (Action, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	action, ok := s.actions[actionID]
	if !ok {
		return Action{}, 0, fmt.Errorf("action %s: %w", actionID, ErrNotFound)
	}
	action.Status = status
	action.UpdatedAt = at
	if status == ActionCompleted {
		completedAt := at
		action.CompletedAt = &completedAt
	}
	s.actions[actionID] = action

	skipped := 0
	if status.closes() {
		for id, entry := range s.entries {
			if entry.ActionID != nil && *entry.ActionID == actionID && entry.Status == EntryPending {
				entry.Status = EntrySkipped
				s.entries[id] = entry
				skipped++
			}
		}
	}
	return action, skipped, nil
}

func (s *MemoryStore) ListEntries(_ context.Context, actionID string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := []Entry{}
	for _, id := range s.seq {
		entry := s.entries[id]
		if entry.ActionID != nil && *entry.ActionID == actionID {
			result = append(result, entry)
		}
	}
	sortEntries(result)
	return result, nil
}

func (s *MemoryStore) ListPendingForUser(_ context.Context, userID string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := []Entry{}
	for _, id := range s.seq {
		entry := s.entries[id]
		if entry.UserID == userID && entry.Status == EntryPending {
			result = append(result, entry)
		}
	}
	sortEntries(result)
	return result, nil
}

func (s *MemoryStore) GetEntry(_ context.Context, entryID string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[entryID]
	if !ok {
		return Entry{}, fmt.Errorf("follow-up %s: %w", entryID, ErrNotFound)
	}
	return entry, nil
}

func (s *MemoryStore) MarkSent(_ context.Context, entryID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[entryID]
	if !ok {
		return fmt.Errorf("follow-up %s: %w", entryID, ErrNotFound)
	}
	if entry.Status != EntryPending {
		return fmt.Errorf("%w: follow-up %s is %s", ErrInvalidTransition, entryID, entry.Status)
	}
	entry.Status = EntrySent
	entry.NotifiedAt = &at
	s.entries[entryID] = entry
	return nil
}

func (s *MemoryStore) MarkResponded(_ context.Context, entryID, response string, at time.Time) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[entryID]
	if !ok {
		return Entry{}, fmt.Errorf("follow-up %s: %w", entryID, ErrNotFound)
	}
	if entry.Status != EntrySent {
		return Entry{}, fmt.Errorf("%w: follow-up %s is %s", ErrInvalidTransition, entryID, entry.Status)
	}
	entry.Status = EntryResponded
	entry.Response = &response
	entry.RespondedAt = &at
	s.entries[entryID] = entry
	return entry, nil
}

func (s *MemoryStore) DuePending(_ context.Context, now time.Time, limit int) ([]DueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	due := []Entry{}
	for _, id := range s.seq {
		entry := s.entries[id]
		if entry.Status == EntryPending && !entry.DueAt.After(now) {
			due = append(due, entry)
		}
	}
	sortEntries(due)
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	result := make([]DueEntry, 0, len(due))
	for _, entry := range due {
		item := DueEntry{Entry: entry}
		if entry.ActionID != nil {
			action := s.actions[*entry.ActionID]
			item.ActionText = action.Text
			item.Theme = action.Theme
		}
		result = append(result, item)
	}
	return result, nil
}

func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].DueAt.Before(entries[j].DueAt)
	})
}
