// Package stream provides a lazily produced, single-consumer token sequence.
package stream

import (
	"context"
	"iter"
	"strings"
	"sync"
)

type State int

const (
	StateStreaming State = iota
	StateDone
	StateError
)

func (s State) String() string {
	switch s {
	case StateStreaming:
		return "streaming"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Emit hands one fragment to the consumer. It blocks until the fragment is
// taken or the stream is closed.
type Emit func(token string) error

// Producer generates fragments in order. Returning nil ends the stream in
// StateDone, any error ends it in StateError.
type Producer func(ctx context.Context, emit Emit) error

// TokenStream is forward-only and must be consumed by one goroutine.
// Close may be called from any goroutine.
type TokenStream struct {
	tokens chan string
	cancel context.CancelFunc
	once   sync.Once

	err     error
	current string
	state   State
}

func New(ctx context.Context, produce Producer) *TokenStream {
	ctx, cancel := context.WithCancel(ctx)
	s := &TokenStream{
		tokens: make(chan string),
		cancel: cancel,
	}
	go s.run(ctx, produce)
	return s
}

// FromTokens returns a stream that yields the given fragments and ends in StateDone.
func FromTokens(ctx context.Context, tokens ...string) *TokenStream {
	return New(ctx, func(_ context.Context, emit Emit) error {
		for _, token := range tokens {
			if err := emit(token); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *TokenStream) run(ctx context.Context, produce Producer) {
	defer close(s.tokens)

	emit := func(token string) error {
		if token == "" {
			return nil
		}
		select {
		case s.tokens <- token:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.err = produce(ctx, emit)
}

// Next advances to the next fragment. It returns false once the stream is
// terminal; State and Err then report how it ended.
func (s *TokenStream) Next() bool {
	if s.state != StateStreaming {
		return false
	}
	token, ok := <-s.tokens
	if !ok {
		s.Close()
		s.current = ""
		if s.err != nil {
			s.state = StateError
		} else {
			s.state = StateDone
		}
		return false
	}
	s.current = token
	return true
}

func (s *TokenStream) Token() string { return s.current }

func (s *TokenStream) State() State { return s.state }

// Err is nil until the stream ends in StateError.
func (s *TokenStream) Err() error {
	if s.state != StateError {
		return nil
	}
	return s.err
}

// Close cancels the producer. Fragments already delivered stay valid.
func (s *TokenStream) Close() {
	s.once.Do(s.cancel)
}

// Tokens adapts the stream to a range-over-func sequence. Breaking out of
// the loop closes the stream.
func (s *TokenStream) Tokens() iter.Seq[string] {
	return func(yield func(string) bool) {
		for s.Next() {
			if !yield(s.Token()) {
				s.Close()
				return
			}
		}
	}
}

// Pipe forwards every fragment of src to emit. src is closed if emit fails.
func Pipe(src *TokenStream, emit Emit) error {
	for src.Next() {
		if err := emit(src.Token()); err != nil {
			src.Close()
			return err
		}
	}
	return src.Err()
}

// Collect drains the stream and returns the concatenated text.
func Collect(s *TokenStream) (string, error) {
	var b strings.Builder
	for token := range s.Tokens() {
		b.WriteString(token)
	}
	return b.String(), s.Err()
}
