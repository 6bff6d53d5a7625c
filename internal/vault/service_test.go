package vault

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tildaslashalef/murmur/internal/sync"
)

type fakeRepo struct {
	snippets map[string]*Snippet
	synced   map[string]time.Time
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		snippets: make(map[string]*Snippet),
		synced:   make(map[string]time.Time),
	}
}

func (r *fakeRepo) Create(_ context.Context, s *Snippet) error {
	cp := *s
	r.snippets[s.ID] = &cp
	return nil
}

func (r *fakeRepo) GetByID(_ context.Context, id string) (*Snippet, error) {
	s, ok := r.snippets[id]
	if !ok {
		return nil, ErrSnippetNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *fakeRepo) List(_ context.Context, tag string, _, _ int) ([]*Snippet, error) {
	var out []*Snippet
	for _, s := range r.snippets {
		if tag != "" {
			found := false
			for _, t := range s.Tags {
				if t == tag {
					found = true
				}
			}
			if !found {
				continue
			}
		}
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeRepo) Update(_ context.Context, s *Snippet) error {
	if _, ok := r.snippets[s.ID]; !ok {
		return ErrSnippetNotFound
	}
	cp := *s
	r.snippets[s.ID] = &cp
	return nil
}

func (r *fakeRepo) Delete(_ context.Context, id string) error {
	if _, ok := r.snippets[id]; !ok {
		return ErrSnippetNotFound
	}
	delete(r.snippets, id)
	return nil
}

func (r *fakeRepo) MarkSynced(_ context.Context, id string, at time.Time) error {
	if _, ok := r.snippets[id]; !ok {
		return ErrSnippetNotFound
	}
	r.synced[id] = at
	return nil
}

func TestService_SaveAndRetag(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, nil, nil)

	snip, err := svc.Save(context.Background(), "jq cheatsheet", "jq '.[] | .name'", []string{"Shell", "shell", " jq "}, "", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"shell", "jq"}, snip.Tags, "tags are lowercased and deduplicated")

	retagged, err := svc.Retag(context.Background(), snip.ID, []string{"reference"})
	require.NoError(t, err)
	assert.Equal(t, []string{"reference"}, retagged.Tags)
}

func TestSnippet_SyncGroup(t *testing.T) {
	linked := New("from a chat", "content", nil)
	linked.ChatID = "chat_source"
	assert.Equal(t, "chat_source", linked.SyncGroup(), "linked snippets sync with their chat's group")

	standalone := New("standalone", "content", nil)
	assert.Equal(t, standalone.ID, standalone.SyncGroup())
}

func TestService_Apply(t *testing.T) {
	t.Run("remote create lands locally", func(t *testing.T) {
		repo := newFakeRepo()
		svc := NewService(repo, nil, nil)

		incoming := New("Remote", "saved on another device", nil)
		payload, err := json.Marshal(incoming)
		require.NoError(t, err)

		svc.Apply(sync.Event{
			EntityType: sync.EntityTypeVaultSnippet,
			EntityID:   incoming.ID,
			Op:         sync.WriteOpCreate,
			Payload:    payload,
		})

		got, err := svc.Get(context.Background(), incoming.ID)
		require.NoError(t, err)
		assert.Equal(t, "Remote", got.Title)
	})

	t.Run("stale remote update does not clobber a newer local copy", func(t *testing.T) {
		repo := newFakeRepo()
		svc := NewService(repo, nil, nil)

		snip, err := svc.Save(context.Background(), "local", "newer content", nil, "", "")
		require.NoError(t, err)

		stale := *snip
		stale.Content = "older content"
		stale.UpdatedAt = snip.UpdatedAt.Add(-time.Minute)
		payload, err := json.Marshal(&stale)
		require.NoError(t, err)

		svc.Apply(sync.Event{
			EntityType: sync.EntityTypeVaultSnippet,
			EntityID:   snip.ID,
			Op:         sync.WriteOpUpdate,
			Payload:    payload,
		})

		got, err := svc.Get(context.Background(), snip.ID)
		require.NoError(t, err)
		assert.Equal(t, "newer content", got.Content)
	})

	t.Run("delete of unknown snippet is quiet", func(t *testing.T) {
		svc := NewService(newFakeRepo(), nil, nil)
		svc.Apply(sync.Event{
			EntityType: sync.EntityTypeVaultSnippet,
			EntityID:   "vlt_missing",
			Op:         sync.WriteOpDelete,
		})
	})
}

func TestService_WriteConfirmed(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, nil, nil)

	snip, err := svc.Save(context.Background(), "title", "content", nil, "", "")
	require.NoError(t, err)

	at := time.Now()
	svc.WriteConfirmed(context.Background(), &sync.PendingWrite{
		EntityType: sync.EntityTypeVaultSnippet,
		EntityID:   snip.ID,
	}, &sync.RemoteEntity{ID: snip.ID, UpdatedAt: at})

	assert.Equal(t, at, repo.synced[snip.ID])
}
