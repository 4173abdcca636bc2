package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/corpus-router/internal/core/domain"
	"github.com/kirillkom/corpus-router/internal/core/ports"
	"github.com/kirillkom/corpus-router/internal/core/stream"
)

// Router asks a selector which pipeline fits a query and delegates the query
// to exactly that pipeline.
type Router struct {
	selector  ports.Selector
	pipelines []*Pipeline
	fallback  int
	observer  ports.RouteObserver
	logger    *slog.Logger
}

type RouterOption func(*Router) error

// WithFallbackPipeline answers with the named pipeline when selection fails.
// The fallback is logged and counted.
func WithFallbackPipeline(name domain.PipelineName) RouterOption {
	return func(r *Router) error {
		if name == "" {
			return nil
		}
		for i, p := range r.pipelines {
			if p.Name == name {
				r.fallback = i
				return nil
			}
		}
		return domain.WrapError(domain.ErrInvalidInput, "router fallback", fmt.Errorf("unknown pipeline %q", name))
	}
}

func WithRouteObserver(observer ports.RouteObserver) RouterOption {
	return func(r *Router) error {
		if observer != nil {
			r.observer = observer
		}
		return nil
	}
}

func WithRouterLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) error {
		if logger != nil {
			r.logger = logger
		}
		return nil
	}
}

func NewRouter(selector ports.Selector, pipelines []*Pipeline, opts ...RouterOption) (*Router, error) {
	if selector == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "new router", fmt.Errorf("selector is required"))
	}
	if len(pipelines) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "new router", fmt.Errorf("at least one pipeline is required"))
	}
	r := &Router{
		selector:  selector,
		pipelines: pipelines,
		fallback:  -1,
		observer:  nopObserver{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Router) Descriptions() []string {
	out := make([]string, 0, len(r.pipelines))
	for _, p := range r.pipelines {
		out = append(out, p.Description)
	}
	return out
}

// Query selects one pipeline and returns its answer stream. Selection errors
// surface as domain.ErrSelectionFailed unless a fallback is configured.
func (r *Router) Query(ctx context.Context, text string) (*ports.RoutedAnswer, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "route query", fmt.Errorf("query is empty"))
	}

	decision, err := r.selector.Select(ctx, text, r.Descriptions())
	if err == nil && (decision.Index < 0 || decision.Index >= len(r.pipelines)) {
		err = fmt.Errorf("choice %d out of range [1, %d]", decision.Index+1, len(r.pipelines))
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		r.observer.ObserveSelectionFailure()
		if r.fallback < 0 {
			r.logger.Warn("route_selection_failed", "error", err)
			if errors.Is(err, domain.ErrSelectionFailed) {
				return nil, err
			}
			return nil, domain.WrapError(domain.ErrSelectionFailed, "route query", err)
		}
		r.logger.Warn("route_selection_fallback",
			"error", err,
			"pipeline", r.pipelines[r.fallback].Name,
		)
		decision = domain.RouteDecision{Index: r.fallback, Reason: "selection failed", Fallback: true}
	}

	p := r.pipelines[decision.Index]
	decision.Pipeline = p.Name
	r.observer.ObserveRoute(p.Name, decision.Fallback)
	r.logger.Info("route_selected",
		"pipeline", p.Name,
		"choice", decision.Index+1,
		"reason", decision.Reason,
		"fallback", decision.Fallback,
	)

	tokens := stream.New(ctx, func(ctx context.Context, emit stream.Emit) error {
		start := time.Now()
		count := 0
		err := p.run(ctx, text, func(token string) error {
			count++
			return emit(token)
		})
		state := stream.StateDone
		if err != nil {
			state = stream.StateError
			r.logger.Warn("answer_stream_failed", "pipeline", p.Name, "tokens", count, "error", err)
		}
		r.observer.ObserveStream(p.Name, state, count, time.Since(start))
		return err
	})
	return &ports.RoutedAnswer{Decision: decision, Stream: tokens}, nil
}

type nopObserver struct{}

func (nopObserver) ObserveRoute(domain.PipelineName, bool)                              {}
func (nopObserver) ObserveSelectionFailure()                                            {}
func (nopObserver) ObserveStream(domain.PipelineName, stream.State, int, time.Duration) {}
