package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/mogi/internal/engine"
	"github.com/ashita-ai/mogi/internal/model"
)

// Directory methods mirror the Postgres store's organization and actor
// surface so memory mode serves the full API, not just the run engine.

func (s *Store) CreateOrganization(_ context.Context, org model.Organization) (model.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if org.ID == uuid.Nil {
		org.ID = uuid.New()
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}
	if org.Features == nil {
		org.Features = []string{}
	}
	s.organizations[org.ID] = org
	return org, nil
}

func (s *Store) GetOrganization(_ context.Context, id uuid.UUID) (model.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	org, ok := s.organizations[id]
	if !ok {
		return model.Organization{}, engine.ErrOrganizationNotFound
	}
	return org, nil
}

func (s *Store) GetOrganizationByName(_ context.Context, name string) (model.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, org := range s.organizations {
		if org.Name == name {
			return org, nil
		}
	}
	return model.Organization{}, engine.ErrOrganizationNotFound
}

func (s *Store) UpdateOrganizationFeatures(_ context.Context, id uuid.UUID, features []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	org, ok := s.organizations[id]
	if !ok {
		return engine.ErrOrganizationNotFound
	}
	if features == nil {
		features = []string{}
	}
	org.Features = features
	s.organizations[id] = org
	return nil
}

func (s *Store) CreateActor(_ context.Context, actor model.Actor, audit []model.AuditEntry) (model.Actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if actor.ID == uuid.Nil {
		actor.ID = uuid.New()
	}
	now := time.Now().UTC()
	if actor.CreatedAt.IsZero() {
		actor.CreatedAt = now
	}
	actor.UpdatedAt = now
	s.actors[actor.ID] = actor
	s.audit = append(s.audit, audit...)
	return actor, nil
}

func (s *Store) GetActorByActorID(_ context.Context, orgID uuid.UUID, actorID string) (model.Actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.actors {
		if a.OrgID == orgID && a.ActorID == actorID {
			return a, nil
		}
	}
	return model.Actor{}, engine.ErrActorNotFound
}

func (s *Store) GetActorsByActorIDGlobal(_ context.Context, actorID string) ([]model.Actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var actors []model.Actor
	for _, a := range s.actors {
		if a.ActorID == actorID {
			actors = append(actors, a)
		}
	}
	sort.Slice(actors, func(i, j int) bool {
		if actors[i].CreatedAt.Equal(actors[j].CreatedAt) {
			return actors[i].ID.String() < actors[j].ID.String()
		}
		return actors[i].CreatedAt.Before(actors[j].CreatedAt)
	})
	return actors, nil
}

func (s *Store) DeleteActor(_ context.Context, orgID uuid.UUID, actorID string, audit []model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, a := range s.actors {
		if a.OrgID == orgID && a.ActorID == actorID {
			delete(s.actors, id)
			s.audit = append(s.audit, audit...)
			return nil
		}
	}
	return engine.ErrActorNotFound
}

func (s *Store) ListActors(_ context.Context, orgID uuid.UUID, limit, offset int) ([]model.Actor, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []model.Actor
	for _, a := range s.actors {
		if a.OrgID == orgID {
			all = append(all, a)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID.String() < all[j].ID.String()
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	return page(all, limit, offset), len(all), nil
}
