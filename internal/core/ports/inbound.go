package ports

import (
	"context"

	"github.com/kirillkom/corpus-router/internal/core/domain"
	"github.com/kirillkom/corpus-router/internal/core/stream"
)

// RoutedAnswer is the outcome of routing one query: the chosen pipeline and
// its answer stream. The caller owns Stream and must drain or close it.
type RoutedAnswer struct {
	Decision domain.RouteDecision
	Stream   *stream.TokenStream
}

// QueryRouter is the inbound contract for answering one query.
type QueryRouter interface {
	Query(ctx context.Context, text string) (*RoutedAnswer, error)
}

// SessionService is the inbound contract used by session drivers.
type SessionService interface {
	Open(ctx context.Context) (domain.SessionInfo, error)
	Get(id string) (domain.SessionInfo, error)
	Query(ctx context.Context, sessionID, text string) (*RoutedAnswer, error)
	UpdateSettings(ctx context.Context, sessionID string, updates map[string]string) (domain.SettingsUpdate, error)
	Close(sessionID string) error
	Catalog() domain.Catalog
}
