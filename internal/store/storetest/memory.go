// Package storetest provides an in-memory store.Store for tests.
package storetest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/picflow/internal/store"
	"github.com/kiranshivaraju/picflow/pkg/models"
)

// MemoryStore implements store.Store on maps guarded by a mutex.
// The hook fields let tests inject failures.
type MemoryStore struct {
	mu       sync.Mutex
	users    map[int64]*models.User
	keys     map[uuid.UUID]*models.APIKey
	pictures map[int64]*models.Picture
	tags     map[int64]*models.Tag
	picTags  map[[2]int64]bool
	userTags map[[2]int64]bool
	nextID   int64
	updates  map[int64]int

	PingErr error
	// CreateTagHook runs before CreateTag; a non-nil error is returned as is.
	CreateTagHook func(name string) error
	// UpdateHook runs before UpdatePicture.
	UpdateHook func(id int64) error
}

func New() *MemoryStore {
	return &MemoryStore{
		users:    make(map[int64]*models.User),
		keys:     make(map[uuid.UUID]*models.APIKey),
		pictures: make(map[int64]*models.Picture),
		tags:     make(map[int64]*models.Tag),
		picTags:  make(map[[2]int64]bool),
		userTags: make(map[[2]int64]bool),
		updates:  make(map[int64]int),
	}
}

func (s *MemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *MemoryStore) Ping(context.Context) error { return s.PingErr }

func (s *MemoryStore) CreateUser(_ context.Context, username string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			return nil, store.ErrDuplicateKey
		}
	}
	u := &models.User{ID: s.id(), Username: username, CreatedAt: time.Now().UTC()}
	s.users[u.ID] = u
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.APIKey
	for _, k := range s.keys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok {
		return store.ErrNotFound
	}
	now := time.Now().UTC()
	k.LastUsedAt = &now
	return nil
}

func (s *MemoryStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	cp := *key
	s.keys[key.ID] = &cp
	return nil
}

func (s *MemoryStore) CreatePicture(_ context.Context, p *models.Picture) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.id()
	} else if p.ID >= s.nextID {
		s.nextID = p.ID
	}
	if p.ProcessingStatus == "" {
		p.ProcessingStatus = models.StatusPending
	}
	if p.StorageBackend == "" {
		p.StorageBackend = "local"
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	cp := *p
	s.pictures[p.ID] = &cp
	return nil
}

// AddPicture stores p as given, keeping its ID.
func (s *MemoryStore) AddPicture(p models.Picture) {
	_ = s.CreatePicture(context.Background(), &p)
}

func (s *MemoryStore) GetPicture(_ context.Context, id int64) (*models.Picture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pictures[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// Picture returns a copy of the stored row, or nil.
func (s *MemoryStore) Picture(id int64) *models.Picture {
	p, err := s.GetPicture(context.Background(), id)
	if err != nil {
		return nil
	}
	return p
}

func (s *MemoryStore) ListPicturesByStatus(_ context.Context, statuses ...models.ProcessingStatus) ([]*models.Picture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[models.ProcessingStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	out := []*models.Picture{}
	for _, p := range s.pictures {
		if want[p.ProcessingStatus] {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdatePicture(_ context.Context, id int64, opts ...store.PictureUpdateOption) error {
	if s.UpdateHook != nil {
		if err := s.UpdateHook(id); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pictures[id]
	if !ok {
		return store.ErrNotFound
	}
	if store.ApplyPictureUpdate(p, opts...) {
		p.UpdatedAt = time.Now().UTC()
		s.updates[id]++
	}
	return nil
}

// Updates returns how many non-empty updates the picture received.
func (s *MemoryStore) Updates(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates[id]
}

func (s *MemoryStore) ListTagNames(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := []string{}
	for _, t := range s.tags {
		names = append(names, t.Name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemoryStore) FindTagByName(_ context.Context, name string) (*models.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t := s.findTag(name); t != nil {
		cp := *t
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (s *MemoryStore) findTag(name string) *models.Tag {
	for _, t := range s.tags {
		if strings.EqualFold(t.Name, name) {
			return t
		}
	}
	return nil
}

func (s *MemoryStore) CreateTag(_ context.Context, name, description string) (*models.Tag, error) {
	if s.CreateTagHook != nil {
		if err := s.CreateTagHook(name); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findTag(name) != nil {
		return nil, store.ErrDuplicateKey
	}
	t := &models.Tag{ID: s.id(), Name: name, Description: description, CreatedAt: time.Now().UTC()}
	s.tags[t.ID] = t
	cp := *t
	return &cp, nil
}

// AddTag creates a tag directly, bypassing hooks.
func (s *MemoryStore) AddTag(name string) *models.Tag {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &models.Tag{ID: s.id(), Name: name, CreatedAt: time.Now().UTC()}
	s.tags[t.ID] = t
	cp := *t
	return &cp
}

func (s *MemoryStore) AttachTagToPicture(_ context.Context, pictureID, tagID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.picTags[[2]int64{pictureID, tagID}] = true
	return nil
}

func (s *MemoryStore) AttachTagToUser(_ context.Context, userID, tagID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userTags[[2]int64{userID, tagID}] = true
	return nil
}

func (s *MemoryStore) ListPictureTags(_ context.Context, pictureID int64) ([]*models.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.Tag{}
	for k := range s.picTags {
		if k[0] != pictureID {
			continue
		}
		if t, ok := s.tags[k[1]]; ok {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// UserTagCount returns how many tags are attached to the user.
func (s *MemoryStore) UserTagCount(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.userTags {
		if k[0] == userID {
			n++
		}
	}
	return n
}

var _ store.Store = (*MemoryStore)(nil)
