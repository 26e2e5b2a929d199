package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/satriahrh/azscribe/domain"
	"github.com/satriahrh/azscribe/domain/entities"
	"github.com/satriahrh/azscribe/domain/repositories"
)

// JobRepository is an in-memory implementation of TranscriptionJobRepository.
// Records do not survive a restart, so it is meant for tests and local runs.
type JobRepository struct {
	mu        sync.RWMutex
	providers map[string]*entities.Provider  // name -> provider
	jobs      map[jobKey]*entities.JobRecord // (provider id, job id) -> record
	seq       int64
}

type jobKey struct {
	providerID         string
	transcriptionJobID string
}

// Ensure JobRepository implements the TranscriptionJobRepository interface
var _ repositories.TranscriptionJobRepository = (*JobRepository)(nil)

// NewJobRepository creates an empty in-memory job repository
func NewJobRepository() *JobRepository {
	return &JobRepository{
		providers: make(map[string]*entities.Provider),
		jobs:      make(map[jobKey]*entities.JobRecord),
	}
}

// Create implements TranscriptionJobRepository interface
func (m *JobRepository) Create(ctx context.Context, record *entities.JobRecord) error {
	if record == nil {
		return errors.New("record cannot be nil")
	}
	if err := record.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	provider, ok := m.providers[record.Provider]
	if !ok {
		provider = &entities.Provider{ID: m.nextID(), Name: record.Provider}
		m.providers[record.Provider] = provider
	}

	key := jobKey{providerID: provider.ID, transcriptionJobID: record.TranscriptionJobID}
	if _, exists := m.jobs[key]; exists {
		return fmt.Errorf("%w: transcription job %s", domain.ErrDuplicate, record.TranscriptionJobID)
	}

	record.ID = m.nextID()
	record.ProviderID = provider.ID
	stored := *record
	m.jobs[key] = &stored
	return nil
}

// GetByTranscriptionJobID implements TranscriptionJobRepository interface
func (m *JobRepository) GetByTranscriptionJobID(ctx context.Context, transcriptionJobID string) (*entities.JobRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record := m.find(transcriptionJobID)
	if record == nil {
		return nil, fmt.Errorf("%w: transcription job %s", domain.ErrNotFound, transcriptionJobID)
	}
	found := *record
	return &found, nil
}

// FindByStatus implements TranscriptionJobRepository interface
func (m *JobRepository) FindByStatus(ctx context.Context, statuses ...entities.JobStatus) ([]*entities.JobRecord, error) {
	wanted := make(map[entities.JobStatus]bool, len(statuses))
	for _, s := range statuses {
		wanted[s] = true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var records []*entities.JobRecord
	for _, r := range m.jobs {
		if wanted[r.Status] {
			found := *r
			records = append(records, &found)
		}
	}
	sortOldestFirst(records)
	return records, nil
}

// FindProvider implements TranscriptionJobRepository interface
func (m *JobRepository) FindProvider(ctx context.Context, name string) (*entities.Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	provider, ok := m.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: provider %s", domain.ErrNotFound, name)
	}
	found := *provider
	return &found, nil
}

// UpdateStatus implements TranscriptionJobRepository interface
func (m *JobRepository) UpdateStatus(ctx context.Context, provider, transcriptionJobID string, from, to entities.JobStatus, at time.Time) error {
	if err := entities.ValidateTransition(from, to); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.key(provider, transcriptionJobID)
	record := m.jobs[key]
	if !ok || record == nil {
		return fmt.Errorf("%w: transcription job %s", domain.ErrNotFound, transcriptionJobID)
	}
	if record.Status != from {
		return fmt.Errorf("%w: transcription job %s is %s, not %s", domain.ErrConflict, transcriptionJobID, record.Status, from)
	}

	record.Status = to
	record.DateUpdated = at
	return nil
}

// Delete implements TranscriptionJobRepository interface
func (m *JobRepository) Delete(ctx context.Context, provider, transcriptionJobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.key(provider, transcriptionJobID)
	if _, exists := m.jobs[key]; !ok || !exists {
		return fmt.Errorf("%w: transcription job %s", domain.ErrNotFound, transcriptionJobID)
	}
	delete(m.jobs, key)
	return nil
}

// key resolves the map key of a provider's job. Caller holds the lock.
func (m *JobRepository) key(provider, transcriptionJobID string) (jobKey, bool) {
	p, ok := m.providers[provider]
	if !ok {
		return jobKey{}, false
	}
	return jobKey{providerID: p.ID, transcriptionJobID: transcriptionJobID}, true
}

// find returns the oldest record with the given job id. Caller holds the lock.
func (m *JobRepository) find(transcriptionJobID string) *entities.JobRecord {
	var found *entities.JobRecord
	for _, r := range m.jobs {
		if r.TranscriptionJobID != transcriptionJobID {
			continue
		}
		if found == nil || r.DateCreated.Before(found.DateCreated) {
			found = r
		}
	}
	return found
}

func (m *JobRepository) nextID() string {
	m.seq++
	return strconv.FormatInt(m.seq, 10)
}

func sortOldestFirst(records []*entities.JobRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].DateCreated.Equal(records[j].DateCreated) {
			return records[i].DateCreated.Before(records[j].DateCreated)
		}
		return records[i].TranscriptionJobID < records[j].TranscriptionJobID
	})
}
