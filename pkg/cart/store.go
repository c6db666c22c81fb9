package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Store persists an anonymous session's cart: one record keyed by a
// fixed application name, holding the serialized item list.
type Store interface {
	// Load reads the persisted item list. An absent record yields an
	// empty list, not an error.
	Load(ctx context.Context) ([]LineItem, error)
	// Save replaces the persisted item list.
	Save(ctx context.Context, items []LineItem) error
	// Clear removes the persisted record.
	Clear(ctx context.Context) error
}

// MemoryStore is an in-process Store for tests and ephemeral sessions.
type MemoryStore struct {
	mu    sync.RWMutex
	items []byte
}

// NewMemoryStore creates an empty in-memory cart store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load reads the persisted item list.
func (s *MemoryStore) Load(_ context.Context) ([]LineItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.items == nil {
		return nil, nil
	}
	var items []LineItem
	if err := json.Unmarshal(s.items, &items); err != nil {
		return nil, fmt.Errorf("decode stored cart: %w", err)
	}
	return items, nil
}

// Save replaces the persisted item list.
func (s *MemoryStore) Save(_ context.Context, items []LineItem) error {
	encoded, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	s.mu.Lock()
	s.items = encoded
	s.mu.Unlock()
	return nil
}

// Clear removes the persisted record.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.items = nil
	s.mu.Unlock()
	return nil
}

// FirestoreStoreConfig holds configuration for the Firestore-backed cart
// store.
type FirestoreStoreConfig struct {
	CollectionName string
	// AppName keys the single cart record for this application.
	AppName string
}

// FirestoreStore is a Store backed by one Firestore document.
type FirestoreStore struct {
	client *firestore.Client
	cfg    FirestoreStoreConfig
	logger zerolog.Logger
}

// firestoreCart is the document shape of the persisted cart.
type firestoreCart struct {
	Items []byte `firestore:"items"`
}

// NewFirestoreStore creates a Firestore-backed cart store. The client's
// lifecycle is managed externally.
func NewFirestoreStore(cfg *FirestoreStoreConfig, client *firestore.Client, logger zerolog.Logger) (*FirestoreStore, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	if cfg.AppName == "" {
		return nil, fmt.Errorf("app name cannot be empty")
	}
	return &FirestoreStore{
		client: client,
		cfg:    *cfg,
		logger: logger.With().Str("component", "CartFirestoreStore").Logger(),
	}, nil
}

func (s *FirestoreStore) doc() *firestore.DocumentRef {
	return s.client.Collection(s.cfg.CollectionName).Doc(s.cfg.AppName)
}

// Load reads the persisted item list.
func (s *FirestoreStore) Load(ctx context.Context) ([]LineItem, error) {
	docSnap, err := s.doc().Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("load cart: %w", err)
	}
	var record firestoreCart
	if err := docSnap.DataTo(&record); err != nil {
		return nil, fmt.Errorf("map cart record: %w", err)
	}
	if len(record.Items) == 0 {
		return nil, nil
	}
	var items []LineItem
	if err := json.Unmarshal(record.Items, &items); err != nil {
		return nil, fmt.Errorf("decode stored cart: %w", err)
	}
	return items, nil
}

// Save replaces the persisted item list.
func (s *FirestoreStore) Save(ctx context.Context, items []LineItem) error {
	encoded, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	if _, err := s.doc().Set(ctx, firestoreCart{Items: encoded}); err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	return nil
}

// Clear removes the persisted record.
func (s *FirestoreStore) Clear(ctx context.Context) error {
	if _, err := s.doc().Delete(ctx); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}
