package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/corpus-router/internal/core/domain"
	"github.com/kirillkom/corpus-router/internal/core/index"
)

func TestLoadOrBuildBuildsOnceThenTrustsPersistedState(t *testing.T) {
	store := newMemoryStore()
	reader := &readerFake{docs: paulGrahamDocs()}
	svc := NewCorpusService(reader, paragraphChunker{}, &keywordEmbedder{}, store)

	first, err := svc.LoadOrBuild(context.Background(), "./data")
	if err != nil {
		t.Fatalf("LoadOrBuild() error = %v", err)
	}
	if reader.calls != 1 || store.persists != 1 {
		t.Fatalf("expected one read and one persist, got reads=%d persists=%d", reader.calls, store.persists)
	}

	otherReader := &readerFake{docs: paulGrahamDocs()}
	restarted := NewCorpusService(otherReader, paragraphChunker{}, &keywordEmbedder{}, store)
	second, err := restarted.LoadOrBuild(context.Background(), "./data")
	if err != nil {
		t.Fatalf("LoadOrBuild() after restart error = %v", err)
	}
	if otherReader.calls != 0 {
		t.Fatalf("persisted corpus must not be rebuilt, reader called %d times", otherReader.calls)
	}
	if store.persists != 1 {
		t.Fatalf("expected no further persists, got %d", store.persists)
	}
	if first.Vector.Len() != second.Vector.Len() {
		t.Fatalf("loaded corpus differs: %d vs %d chunks", first.Vector.Len(), second.Vector.Len())
	}
}

func TestLoadIsIdempotent(t *testing.T) {
	store := newMemoryStore()
	svc := NewCorpusService(&readerFake{docs: paulGrahamDocs()}, paragraphChunker{}, &keywordEmbedder{}, store)
	if _, err := svc.LoadOrBuild(context.Background(), "./data"); err != nil {
		t.Fatalf("LoadOrBuild() error = %v", err)
	}

	query := keywordVector("what about risd and painting")
	var previous []string
	for i := 0; i < 3; i++ {
		corpus, ok := svc.Load(context.Background())
		if !ok {
			t.Fatalf("Load() reported absent on attempt %d", i)
		}
		top, err := corpus.Vector.TopK(query, 2)
		if err != nil {
			t.Fatalf("TopK() error = %v", err)
		}
		ids := []string{top[0].ID, top[1].ID}
		if previous != nil && (ids[0] != previous[0] || ids[1] != previous[1]) {
			t.Fatalf("load %d returned different neighbours: %v vs %v", i, ids, previous)
		}
		previous = ids
	}
}

func TestLoadTreatsFailuresAsAbsent(t *testing.T) {
	cases := map[string]func(*memoryStore){
		"missing": func(*memoryStore) {},
		"corrupt": func(s *memoryStore) {
			s.records[index.VectorIndexID] = []byte("{not json")
			s.records[index.SummaryIndexID] = []byte("{}")
		},
		"store error": func(s *memoryStore) { s.loadErr = errors.New("disk unavailable") },
	}
	for name, setup := range cases {
		t.Run(name, func(t *testing.T) {
			store := newMemoryStore()
			setup(store)
			svc := NewCorpusService(&readerFake{}, paragraphChunker{}, &keywordEmbedder{}, store)
			if corpus, ok := svc.Load(context.Background()); ok || corpus != nil {
				t.Fatalf("expected absent corpus")
			}
		})
	}
}

func TestLoadRejectsEmbeddingModelMismatch(t *testing.T) {
	store := newMemoryStore()
	builder := NewCorpusService(&readerFake{docs: paulGrahamDocs()}, paragraphChunker{}, &keywordEmbedder{model: "old-model"}, store)
	if _, err := builder.LoadOrBuild(context.Background(), "./data"); err != nil {
		t.Fatalf("LoadOrBuild() error = %v", err)
	}

	reader := &readerFake{docs: paulGrahamDocs()}
	svc := NewCorpusService(reader, paragraphChunker{}, &keywordEmbedder{model: "new-model"}, store)
	if _, ok := svc.Load(context.Background()); ok {
		t.Fatalf("expected corpus built with a different embedding model to be absent")
	}
	corpus, err := svc.LoadOrBuild(context.Background(), "./data")
	if err != nil {
		t.Fatalf("LoadOrBuild() error = %v", err)
	}
	if corpus.EmbeddingModel() != "new-model" || reader.calls != 1 {
		t.Fatalf("expected rebuild with new model, got model=%q reads=%d", corpus.EmbeddingModel(), reader.calls)
	}
}

func TestBuildRejectsEmptyCorpus(t *testing.T) {
	svc := NewCorpusService(&readerFake{}, paragraphChunker{}, &keywordEmbedder{}, newMemoryStore())

	if _, err := svc.Build(context.Background(), nil); !domain.IsKind(err, domain.ErrEmptyCorpus) {
		t.Fatalf("expected ErrEmptyCorpus for no documents, got %v", err)
	}
	blank := []domain.Document{{ID: "blank", Text: "   "}}
	if _, err := svc.Build(context.Background(), blank); !domain.IsKind(err, domain.ErrEmptyCorpus) {
		t.Fatalf("expected ErrEmptyCorpus for blank documents, got %v", err)
	}
}

func TestLoadOrBuildFailsWhenReaderFails(t *testing.T) {
	svc := NewCorpusService(&readerFake{err: errors.New("no such directory")}, paragraphChunker{}, &keywordEmbedder{}, newMemoryStore())
	if _, err := svc.LoadOrBuild(context.Background(), "./missing"); !domain.IsKind(err, domain.ErrEmptyCorpus) {
		t.Fatalf("expected ErrEmptyCorpus, got %v", err)
	}
}

func TestBuildAssignsStableChunkIDs(t *testing.T) {
	corpus, err := buildTestCorpus(paulGrahamDocs())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	all := corpus.Summary.All()
	if len(all) != 5 {
		t.Fatalf("expected 5 chunks, got %d", len(all))
	}
	if all[0].ID != "essay:0" || all[4].ID != "essay:4" {
		t.Fatalf("unexpected chunk ids: %s .. %s", all[0].ID, all[4].ID)
	}
}
