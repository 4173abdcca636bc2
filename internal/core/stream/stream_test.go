package stream

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStreamYieldsTokensInOrderAndEndsDone(t *testing.T) {
	s := FromTokens(context.Background(), "Paul ", "Graham ", "", "wrote.")

	var got []string
	for s.Next() {
		got = append(got, s.Token())
	}
	want := []string{"Paul ", "Graham ", "wrote."}
	if len(got) != len(want) {
		t.Fatalf("expected %d tokens, got %d (%v)", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("token %d: expected %q, got %q", i, want[i], got[i])
		}
	}
	if s.State() != StateDone {
		t.Fatalf("expected done state, got %s", s.State())
	}
	if s.Err() != nil {
		t.Fatalf("expected nil error, got %v", s.Err())
	}
	if s.Next() {
		t.Fatalf("terminal stream must not yield again")
	}
}

func TestStreamErrorIsDistinguishableFromDone(t *testing.T) {
	errUpstream := errors.New("connection reset")
	s := New(context.Background(), func(_ context.Context, emit Emit) error {
		if err := emit("partial"); err != nil {
			return err
		}
		return errUpstream
	})

	text, err := Collect(s)
	if text != "partial" {
		t.Fatalf("delivered tokens must stay valid, got %q", text)
	}
	if !errors.Is(err, errUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if s.State() != StateError {
		t.Fatalf("expected error state, got %s", s.State())
	}
}

func TestStreamIsLazy(t *testing.T) {
	produced := make(chan string, 4)
	s := New(context.Background(), func(_ context.Context, emit Emit) error {
		for _, token := range []string{"a", "b", "c"} {
			produced <- token
			if err := emit(token); err != nil {
				return err
			}
		}
		return nil
	})

	if !s.Next() || s.Token() != "a" {
		t.Fatalf("expected first token a, got %q", s.Token())
	}
	// the producer may have started "b" but cannot have handed it over
	time.Sleep(10 * time.Millisecond)
	if n := len(produced); n > 2 {
		t.Fatalf("producer ran ahead of consumer: %d tokens produced", n)
	}
	s.Close()
}

func TestCloseCancelsProducer(t *testing.T) {
	stopped := make(chan error, 1)
	s := New(context.Background(), func(ctx context.Context, emit Emit) error {
		for {
			if err := emit("x"); err != nil {
				stopped <- err
				return err
			}
		}
	})

	if !s.Next() {
		t.Fatalf("expected at least one token")
	}
	s.Close()

	select {
	case err := <-stopped:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("producer was not cancelled")
	}

	for s.Next() {
	}
	if s.State() != StateError || !errors.Is(s.Err(), context.Canceled) {
		t.Fatalf("expected cancelled error state, got %s / %v", s.State(), s.Err())
	}
}

func TestTokensBreakClosesStream(t *testing.T) {
	s := New(context.Background(), func(ctx context.Context, emit Emit) error {
		for {
			if err := emit("t"); err != nil {
				return err
			}
		}
	})

	count := 0
	for range s.Tokens() {
		count++
		if count == 3 {
			break
		}
	}
	for s.Next() {
	}
	if s.State() != StateError {
		t.Fatalf("expected stream to end after break, got %s", s.State())
	}
}
