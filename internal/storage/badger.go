package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/timshannon/badgerhold/v4"
	"go.uber.org/zap"

	"job-tracker-go/internal/models"
)

// BadgerStore keeps sessions in a local Badger database.
type BadgerStore struct {
	store  *badgerhold.Store
	logger *zap.Logger
}

// NewBadgerStore opens (or creates) the database at path.
func NewBadgerStore(path string, logger *zap.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path == "" {
		return nil, fmt.Errorf("badger path is required")
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = path
	options.ValueDir = path
	options.Logger = nil
	// Same encoding as the Supabase payload column.
	options.Encoder = json.Marshal
	options.Decoder = json.Unmarshal

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	logger.Debug("Badger session store opened", zap.String("path", path))
	return &BadgerStore{store: store, logger: logger}, nil
}

func (s *BadgerStore) Load(ctx context.Context, id string) (models.Session, error) {
	if err := ctx.Err(); err != nil {
		return models.Session{}, err
	}
	var session models.Session
	err := s.store.Get(id, &session)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return models.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return models.Session{}, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	if session.StatusOverrides == nil {
		session.StatusOverrides = map[int]models.ApplicationStatus{}
	}
	if session.Result.Jobs == nil {
		session.Result.Jobs = []models.JobSummary{}
	}
	return session, nil
}

func (s *BadgerStore) Save(ctx context.Context, session models.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if session.ID == "" {
		return fmt.Errorf("session id is required")
	}
	if err := s.store.Upsert(session.ID, &session); err != nil {
		return fmt.Errorf("failed to save session %s: %w", session.ID, err)
	}
	return nil
}

func (s *BadgerStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.store.Delete(id, models.Session{})
	if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

func (s *BadgerStore) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}
