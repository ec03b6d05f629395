package workspace

import (
	"fmt"
	"slices"

	"github.com/shhac/grpcdesk/internal/domain"
	"github.com/shhac/grpcdesk/internal/errors"
)

// RecordHistory prepends a completed call to the history, trimming the
// oldest entries beyond the limit.
func (s *Store) RecordHistory(entry domain.HistoryEntry) (domain.HistoryEntry, error) {
	if entry.ID == "" {
		entry.ID = newID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	entry.Metadata = domain.CloneMetadata(entry.Metadata)
	entry.Messages = slices.Clone(entry.Messages)
	entry.Auth = entry.Auth.Clone()

	err := s.mutate("record history", func(ws *domain.Workspace) error {
		ws.History = slices.Insert(ws.History, 0, entry)
		if len(ws.History) > s.historyLimit {
			ws.History = ws.History[:s.historyLimit]
		}
		return nil
	})
	if err != nil {
		return domain.HistoryEntry{}, err
	}
	return entry, nil
}

// History returns up to limit entries, most recent first. limit <= 0
// returns everything.
func (s *Store) History(limit int) ([]domain.HistoryEntry, error) {
	var out []domain.HistoryEntry
	err := s.view(func(ws *domain.Workspace) {
		n := len(ws.History)
		if limit > 0 && limit < n {
			n = limit
		}
		out = slices.Clone(ws.History[:n])
	})
	return out, err
}

// HistoryEntry returns one entry by id.
func (s *Store) HistoryEntry(id string) (domain.HistoryEntry, error) {
	var (
		out domain.HistoryEntry
		ok  bool
	)
	if err := s.view(func(ws *domain.Workspace) {
		if i := slices.IndexFunc(ws.History, func(h domain.HistoryEntry) bool { return h.ID == id }); i >= 0 {
			out, ok = ws.History[i], true
		}
	}); err != nil {
		return domain.HistoryEntry{}, err
	}
	if !ok {
		return domain.HistoryEntry{}, fmt.Errorf("history entry %s: %w", id, errors.ErrNotFound)
	}
	return out, nil
}

// DeleteHistory removes one entry.
func (s *Store) DeleteHistory(id string) error {
	return s.mutate("delete history", func(ws *domain.Workspace) error {
		i := slices.IndexFunc(ws.History, func(h domain.HistoryEntry) bool { return h.ID == id })
		if i < 0 {
			return fmt.Errorf("history entry %s: %w", id, errors.ErrNotFound)
		}
		ws.History = slices.Delete(ws.History, i, i+1)
		return nil
	})
}

// ClearHistory removes all entries.
func (s *Store) ClearHistory() error {
	return s.mutate("clear history", func(ws *domain.Workspace) error {
		ws.History = []domain.HistoryEntry{}
		return nil
	})
}
