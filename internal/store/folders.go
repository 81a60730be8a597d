package store

import (
	"time"

	"astrachat/internal/domain"
)

// ArchiveFolderName is the folder ArchiveAll files every conversation into.
const ArchiveFolderName = "Archive"

// CreateFolder inserts a new expanded folder.
func (s *Store) CreateFolder(name string) domain.Folder {
	s.mu.Lock()
	f := domain.Folder{
		ID:       newULID(time.Now()),
		Name:     name,
		Expanded: true,
	}
	s.folders = append(s.folders, f)
	fire := s.changed()
	out := copyFolder(f)
	s.mu.Unlock()
	fire()
	return out
}

// RenameFolder changes a folder's display name.
func (s *Store) RenameFolder(id, name string) bool {
	s.mu.Lock()
	f := s.findFolder(id)
	if f == nil {
		s.mu.Unlock()
		return false
	}
	f.Name = name
	fire := s.changed()
	s.mu.Unlock()
	fire()
	return true
}

// DeleteFolder removes a folder. Its conversations survive unless
// deleteConversations is set.
func (s *Store) DeleteFolder(id string, deleteConversations bool) bool {
	s.mu.Lock()
	idx := -1
	for i := range s.folders {
		if s.folders[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	members := s.folders[idx].Conversations
	s.folders = append(s.folders[:idx], s.folders[idx+1:]...)
	fire := s.changed()
	s.mu.Unlock()
	fire()
	if deleteConversations {
		for _, convID := range members {
			s.DeleteConversation(convID)
		}
	}
	return true
}

// MoveToFolder files a conversation into the folder, removing it from any
// other folder first (membership is exclusive). An empty folderID just
// un-files the conversation.
func (s *Store) MoveToFolder(convID, folderID string) bool {
	s.mu.Lock()
	if s.findConversation(convID) == nil {
		s.mu.Unlock()
		return false
	}
	var target *domain.Folder
	if folderID != "" {
		target = s.findFolder(folderID)
		if target == nil {
			s.mu.Unlock()
			return false
		}
	}
	for i := range s.folders {
		s.folders[i].Conversations = removeString(s.folders[i].Conversations, convID)
	}
	if target != nil {
		target.Conversations = append(target.Conversations, convID)
	}
	fire := s.changed()
	s.mu.Unlock()
	fire()
	return true
}

// ToggleFolder flips the expand/collapse flag.
func (s *Store) ToggleFolder(id string) bool {
	s.mu.Lock()
	f := s.findFolder(id)
	if f == nil {
		s.mu.Unlock()
		return false
	}
	f.Expanded = !f.Expanded
	fire := s.changed()
	s.mu.Unlock()
	fire()
	return true
}

// ArchiveAll moves every conversation into the Archive folder, creating it
// if absent and clearing any other membership.
func (s *Store) ArchiveAll() {
	s.mu.Lock()
	var archive *domain.Folder
	for i := range s.folders {
		if s.folders[i].Name == ArchiveFolderName {
			archive = &s.folders[i]
			break
		}
	}
	if archive == nil {
		s.folders = append(s.folders, domain.Folder{
			ID:       newULID(time.Now()),
			Name:     ArchiveFolderName,
			Expanded: true,
		})
		archive = &s.folders[len(s.folders)-1]
	}
	for i := range s.folders {
		if s.folders[i].ID != archive.ID {
			s.folders[i].Conversations = nil
		}
	}
	archive.Conversations = nil
	for i := range s.conversations {
		archive.Conversations = append(archive.Conversations, s.conversations[i].ID)
	}
	fire := s.changed()
	s.mu.Unlock()
	fire()
}

// Folders returns a copy of the folder list.
func (s *Store) Folders() []domain.Folder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Folder, len(s.folders))
	for i, f := range s.folders {
		out[i] = copyFolder(f)
	}
	return out
}

func (s *Store) findFolder(id string) *domain.Folder {
	if id == "" {
		return nil
	}
	for i := range s.folders {
		if s.folders[i].ID == id {
			return &s.folders[i]
		}
	}
	return nil
}
