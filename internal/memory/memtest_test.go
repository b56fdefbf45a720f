package memory

import (
	"context"
	"errors"
	"time"
)

// fakeClock returns a fixed instant, advancing only when told to.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)}
}

var errInjected = errors.New("injected failure")

// fakeStore is an in-memory Repository. InTx copies the whole state,
// runs the function against the copy, and swaps it in only on success,
// mirroring a real transaction's commit/rollback.
type fakeStore struct {
	styles      map[string]StyleProfile
	experiences map[string][]Experience
	facts       map[string][]PersonalFact
	provenance  map[string][]ProvenanceRecord

	failInsertFact bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		styles:      map[string]StyleProfile{},
		experiences: map[string][]Experience{},
		facts:       map[string][]PersonalFact{},
		provenance:  map[string][]ProvenanceRecord{},
	}
}

func (s *fakeStore) copy() *fakeStore {
	c := newFakeStore()
	c.failInsertFact = s.failInsertFact
	for k, v := range s.styles {
		c.styles[k] = v
	}
	for k, v := range s.experiences {
		c.experiences[k] = append([]Experience(nil), v...)
	}
	for k, v := range s.facts {
		c.facts[k] = append([]PersonalFact(nil), v...)
	}
	for k, v := range s.provenance {
		c.provenance[k] = append([]ProvenanceRecord(nil), v...)
	}
	return c
}

func (s *fakeStore) InTx(_ context.Context, fn func(Tx) error) error {
	working := s.copy()
	if err := fn(working); err != nil {
		return err
	}
	*s = *working
	return nil
}

func (s *fakeStore) StyleProfile(individual string) (StyleProfile, error) {
	p, ok := s.styles[individual]
	if !ok {
		return StyleProfile{}, ErrNotFound
	}
	return p, nil
}

func (s *fakeStore) UpsertStyleProfile(p StyleProfile) error {
	s.styles[p.Individual] = p
	return nil
}

func (s *fakeStore) ListExperiences(individual string) ([]Experience, error) {
	return append([]Experience(nil), s.experiences[individual]...), nil
}

func (s *fakeStore) InsertExperience(e Experience) error {
	s.experiences[e.Individual] = append(s.experiences[e.Individual], e)
	return nil
}

func (s *fakeStore) UpdateExperienceSets(id string, achievements, techStack []string) error {
	for individual, list := range s.experiences {
		for i := range list {
			if list[i].ID == id {
				list[i].Achievements = achievements
				list[i].TechStack = techStack
				s.experiences[individual] = list
				return nil
			}
		}
	}
	return ErrNotFound
}

func (s *fakeStore) ListFacts(individual string) ([]PersonalFact, error) {
	return append([]PersonalFact(nil), s.facts[individual]...), nil
}

func (s *fakeStore) InsertFact(f PersonalFact) error {
	if s.failInsertFact {
		return errInjected
	}
	for _, cur := range s.facts[f.Individual] {
		if cur.Key == f.Key {
			return ErrConflict
		}
	}
	s.facts[f.Individual] = append(s.facts[f.Individual], f)
	return nil
}

func (s *fakeStore) UpdateFact(f PersonalFact) error {
	list := s.facts[f.Individual]
	for i := range list {
		if list[i].ID == f.ID {
			list[i] = f
			return nil
		}
	}
	return ErrNotFound
}

func (s *fakeStore) InsertProvenance(p ProvenanceRecord) error {
	s.provenance[p.Individual] = append(s.provenance[p.Individual], p)
	return nil
}

func (s *fakeStore) ListProvenance(individual string) ([]ProvenanceRecord, error) {
	return append([]ProvenanceRecord(nil), s.provenance[individual]...), nil
}
