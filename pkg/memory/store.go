package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/realmkeeper/internal/observe"
	"github.com/MrWong99/realmkeeper/pkg/docstore"
)

var _ Saver = (*Store)(nil)

// StoreOption configures a [Store].
type StoreOption func(*Store)

// WithClock overrides the time source used for CreatedAt.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithStoreMetrics sets the metrics sink. Defaults to
// [observe.DefaultMetrics].
func WithStoreMetrics(m *observe.Metrics) StoreOption {
	return func(s *Store) { s.metrics = m }
}

// Store validates and appends memories to a document store.
type Store struct {
	docs    docstore.Store
	now     func() time.Time
	metrics *observe.Metrics
}

// NewStore creates a Store writing to docs.
func NewStore(docs docstore.Store, opts ...StoreOption) *Store {
	s := &Store{docs: docs, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// SaveMemory stores a memory with no importance, relation or metadata and
// returns its id.
func (s *Store) SaveMemory(ctx context.Context, campaignID, content, memType string, embedding []float32) (string, error) {
	m, err := s.Save(ctx, NewMemory{
		CampaignID: campaignID,
		Content:    content,
		Type:       memType,
		Embedding:  embedding,
	})
	if err != nil {
		return "", err
	}
	return m.ID, nil
}

// Save validates in and appends it as a new memory. Identical content is
// stored again; there is no deduplication.
func (s *Store) Save(ctx context.Context, in NewMemory) (_ docstore.Memory, err error) {
	ctx, span := observe.StartSpan(ctx, "memory.Save")
	defer func() {
		s.metrics.RecordMemorySave(ctx, in.Type, err)
		observe.EndSpan(span, err)
	}()

	if err := validate(in); err != nil {
		return docstore.Memory{}, err
	}

	m := docstore.Memory{
		CampaignID: in.CampaignID,
		Content:    in.Content,
		Type:       in.Type,
		Embedding:  slices.Clone(in.Embedding),
		RelatedID:  in.RelatedID,
		Metadata:   maps.Clone(in.Metadata),
		CreatedAt:  s.now().UTC(),
	}
	if in.Importance != nil {
		m.Importance = docstore.Ptr(*in.Importance)
	}

	id, err := s.docs.Insert(ctx, &m)
	if err != nil {
		return docstore.Memory{}, fmt.Errorf("memory: save: %w", err)
	}
	m.ID = id
	return m, nil
}

func validate(in NewMemory) error {
	if err := docstore.CheckDimensions(in.Embedding, Dimensions); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidVector, err)
	}
	if in.Importance != nil && (*in.Importance < MinImportance || *in.Importance > MaxImportance) {
		return fmt.Errorf("%w: %v not in [%v, %v]", ErrInvalidImportance, *in.Importance, MinImportance, MaxImportance)
	}

	var errs []error
	if strings.TrimSpace(in.CampaignID) == "" {
		errs = append(errs, errors.New("campaign id is required"))
	}
	if strings.TrimSpace(in.Content) == "" {
		errs = append(errs, errors.New("content is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMemory, err)
	}
	return nil
}
