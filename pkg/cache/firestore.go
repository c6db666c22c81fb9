package cache

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig holds configuration for the Firestore-backed tier.
type FirestoreConfig struct {
	ProjectID      string
	CollectionName string
}

// FirestoreStore is a Store backed by a Firestore collection, one
// document per cache key. It serves as the persistent durable tier:
// entries survive restarts until explicitly cleared or evicted.
type FirestoreStore struct {
	client         *firestore.Client
	collectionName string
	logger         zerolog.Logger
}

// firestoreEntry is the document shape held per key.
type firestoreEntry struct {
	Value []byte `firestore:"value"`
}

// NewFirestoreStore creates a new FirestoreStore. The Firestore client's
// lifecycle is managed externally.
func NewFirestoreStore(cfg *FirestoreConfig, client *firestore.Client, logger zerolog.Logger) (*FirestoreStore, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}

	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", cfg.CollectionName).Msg("FirestoreStore initialized.")

	return &FirestoreStore{
		client:         client,
		collectionName: cfg.CollectionName,
		logger:         logger.With().Str("component", "FirestoreStore").Logger(),
	}, nil
}

// Get retrieves the raw entry for a key.
func (s *FirestoreStore) Get(ctx context.Context, key string) ([]byte, error) {
	docSnap, err := s.client.Collection(s.collectionName).Doc(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrCacheMiss
		}
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to get document from Firestore.")
		return nil, fmt.Errorf("firestore get for %s: %w", key, err)
	}

	var entry firestoreEntry
	if err := docSnap.DataTo(&entry); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to map Firestore document data.")
		return nil, fmt.Errorf("firestore DataTo for %s: %w", key, err)
	}
	return entry.Value, nil
}

// Set writes the raw entry for a key. Quota rejections surface as
// ErrStoreFull so the manager can run its eviction pass.
func (s *FirestoreStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.client.Collection(s.collectionName).Doc(key).Set(ctx, firestoreEntry{Value: value})
	if err != nil {
		if status.Code(err) == codes.ResourceExhausted {
			return fmt.Errorf("firestore set for %s: %w", key, ErrStoreFull)
		}
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to write document to Firestore.")
		return fmt.Errorf("firestore set for %s: %w", key, err)
	}
	return nil
}

// Delete removes a key. Firestore deletes are already no-ops for absent
// documents.
func (s *FirestoreStore) Delete(ctx context.Context, key string) error {
	if _, err := s.client.Collection(s.collectionName).Doc(key).Delete(ctx); err != nil {
		return fmt.Errorf("firestore delete for %s: %w", key, err)
	}
	return nil
}

// Keys enumerates stored keys with the given prefix via a document-ID
// range query.
func (s *FirestoreStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	query := s.client.Collection(s.collectionName).
		Where(firestore.DocumentID, ">=", prefix).
		Where(firestore.DocumentID, "<", prefix+"\uf8ff")

	var keys []string
	iter := query.Documents(ctx)
	defer iter.Stop()
	for {
		docSnap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore keys for prefix %s: %w", prefix, err)
		}
		keys = append(keys, docSnap.Ref.ID)
	}
	return keys, nil
}

// Clear removes every key with the given prefix.
func (s *FirestoreStore) Clear(ctx context.Context, prefix string) error {
	keys, err := s.Keys(ctx, prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.Delete(ctx, key); err != nil {
			return err
		}
	}
	if len(keys) > 0 {
		s.logger.Debug().Int("removed", len(keys)).Msg("Cleared prefixed documents from Firestore.")
	}
	return nil
}

// Close is a no-op as the Firestore client's lifecycle is managed
// externally.
func (s *FirestoreStore) Close() error {
	return nil
}
