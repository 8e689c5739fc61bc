package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	supabase "github.com/nedpals/supabase-go"
	"go.uber.org/zap"

	"job-tracker-go/internal/models"
)

const sessionsTable = "sessions"

// SupabaseStore uses the nedpals/supabase-go SDK to persist sessions so they
// survive across machines. Rows are {id, payload, saved_at}.
type SupabaseStore struct {
	client *supabase.Client
	logger *zap.Logger
}

type sessionRow struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
	SavedAt time.Time       `json:"saved_at"`
}

// NewSupabaseStore creates a SupabaseStore. It reads SUPABASE_URL and SUPABASE_KEY
// from environment variables if empty values are provided.
func NewSupabaseStore(supabaseURL, supabaseKey string, logger *zap.Logger) (*SupabaseStore, error) {
	if supabaseURL == "" {
		supabaseURL = os.Getenv("SUPABASE_URL")
	}
	if supabaseKey == "" {
		supabaseKey = os.Getenv("SUPABASE_KEY")
	}
	if supabaseURL == "" || supabaseKey == "" {
		return nil, fmt.Errorf("supabase URL and key must be provided via args or SUPABASE_URL / SUPABASE_KEY env vars")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// CreateClient returns *supabase.Client (no error)
	client := supabase.CreateClient(supabaseURL, supabaseKey)
	return &SupabaseStore{client: client, logger: logger}, nil
}

func (s *SupabaseStore) Load(ctx context.Context, id string) (models.Session, error) {
	if err := ctx.Err(); err != nil {
		return models.Session{}, err
	}

	var rows []sessionRow
	if err := s.client.DB.From(sessionsTable).Select("*").Eq("id", id).ExecuteWithContext(ctx, &rows); err != nil {
		return models.Session{}, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	if len(rows) == 0 {
		return models.Session{}, ErrSessionNotFound
	}

	var session models.Session
	if err := json.Unmarshal(rows[0].Payload, &session); err != nil {
		return models.Session{}, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	if session.StatusOverrides == nil {
		session.StatusOverrides = map[int]models.ApplicationStatus{}
	}
	if session.Result.Jobs == nil {
		session.Result.Jobs = []models.JobSummary{}
	}
	return session, nil
}

// Save upserts the row for the session in a single request, so a failed
// write leaves the previous row in place.
func (s *SupabaseStore) Save(ctx context.Context, session models.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if session.ID == "" {
		return fmt.Errorf("session id is required")
	}

	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", session.ID, err)
	}
	row := sessionRow{ID: session.ID, Payload: payload, SavedAt: session.SavedAt}
	if row.SavedAt.IsZero() {
		row.SavedAt = time.Now()
	}

	var results []sessionRow
	if err := s.client.DB.From(sessionsTable).Upsert(row).ExecuteWithContext(ctx, &results); err != nil {
		return fmt.Errorf("failed to save session %s: %w", session.ID, err)
	}
	s.logger.Debug("Session saved to supabase", zap.String("session_id", session.ID))
	return nil
}

func (s *SupabaseStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var results []sessionRow
	if err := s.client.DB.From(sessionsTable).Delete().Eq("id", id).ExecuteWithContext(ctx, &results); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

func (s *SupabaseStore) Close() error {
	return nil
}
