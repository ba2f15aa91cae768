package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/messaging-agent/internal/knowledge"
)

type fakeEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

func TestIsSpecific(t *testing.T) {
	tests := []struct {
		q    string
		want bool
	}{
		{"Qual o horário?", true},
		{"Onde fica a loja", true},
		{"Liste os produtos", true},
		{"Quanto custa o frete", true},
		{"quero saber do frete", false},
		{"qual " + strings.Repeat("palavra ", 10), false},
	}
	for _, tt := range tests {
		t.Run(tt.q, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSpecific(tt.q))
		})
	}
}

func TestMerge(t *testing.T) {
	long := strings.Repeat("a", 100)
	lexical := []knowledge.Passage{
		{Text: long + " lexical", Source: knowledge.SourceLexical},
		{Text: "b", Source: knowledge.SourceLexical},
	}
	vector := []knowledge.Passage{
		{Text: long + " vector", Source: knowledge.SourceVector},
		{Text: "c", Source: knowledge.SourceVector},
		{Text: "d", Source: knowledge.SourceVector},
	}

	got := Merge(lexical, vector, 10)
	require.Len(t, got, 4)
	assert.Equal(t, knowledge.SourceLexical, got[0].Source)
	assert.Equal(t, []string{"b", "c", "d"}, []string{got[1].Text, got[2].Text, got[3].Text})

	assert.Len(t, Merge(lexical, vector, 3), 3)
}

func TestPrefixRunes(t *testing.T) {
	assert.Equal(t, "ção", prefixRunes("ção!", 3))
	assert.Equal(t, "ab", prefixRunes("ab", 5))
}

type searchFixture struct {
	index    *knowledge.MemoryIndex
	docs     *knowledge.DiskStore
	embedder *fakeEmbedder
	searcher *Searcher
}

func newSearchFixture(t *testing.T) *searchFixture {
	t.Helper()
	docs, err := knowledge.NewDiskStore(t.TempDir())
	require.NoError(t, err)
	f := &searchFixture{
		index:    knowledge.NewMemoryIndex(),
		docs:     docs,
		embedder: &fakeEmbedder{vec: []float32{1, 0}},
	}
	f.searcher = NewSearcher(f.embedder, f.index, f.docs, SearcherOptions{}, nil)
	return f
}

func (f *searchFixture) addChunks(t *testing.T, chunks ...knowledge.Chunk) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.index.EnsureCollection(ctx, "loja", 2))
	require.NoError(t, f.index.Upsert(ctx, "loja", chunks))
}

func (f *searchFixture) addDoc(t *testing.T, name, text string) {
	t.Helper()
	require.NoError(t, f.docs.Save(context.Background(), "loja", name, []byte(text)))
}

func TestSearchEmptyKnowledgeBase(t *testing.T) {
	f := newSearchFixture(t)
	got, err := f.searcher.Search(context.Background(), "loja", "Qual o horário?", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, f.embedder.calls)
}

func TestSearchLexicalShortCircuit(t *testing.T) {
	f := newSearchFixture(t)
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		f.addDoc(t, name, "O horário de funcionamento é das 8h às 18h.")
	}
	f.addChunks(t, knowledge.Chunk{TenantID: "loja", FileName: "a.txt", Text: "x", Vector: []float32{1, 0}})

	got, err := f.searcher.Search(context.Background(), "loja", "Qual o horário?", 5)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Zero(t, f.embedder.calls)
}

func TestSearchHybrid(t *testing.T) {
	f := newSearchFixture(t)
	f.addDoc(t, "horarios.txt", "O horário de funcionamento é das 8h às 18h.")
	f.addChunks(t,
		knowledge.Chunk{TenantID: "loja", FileName: "horarios.txt", Index: 0, Text: "O horário de funcionamento é das 8h às 18h.", Vector: []float32{1, 0}},
		knowledge.Chunk{TenantID: "loja", FileName: "entrega.txt", Index: 0, Text: "Entregamos em 3 dias.", Vector: []float32{0.8, 0.2}},
	)

	got, err := f.searcher.Search(context.Background(), "loja", "Qual o horário?", 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, knowledge.SourceLexical, got[0].Source)
	assert.Equal(t, "entrega.txt", got[1].FileName)
	assert.Equal(t, 1, f.embedder.calls)
}

func TestSearchVectorFailure(t *testing.T) {
	f := newSearchFixture(t)
	f.embedder.err = errors.New("embedding service down")
	f.addChunks(t, knowledge.Chunk{TenantID: "loja", FileName: "a.txt", Text: "x", Vector: []float32{1, 0}})

	_, err := f.searcher.Search(context.Background(), "loja", "me fala do frete", 5)
	assert.ErrorIs(t, err, f.embedder.err)

	f.addDoc(t, "frete.txt", "O frete é grátis acima de R$ 100.")
	got, err := f.searcher.Search(context.Background(), "loja", "qual o frete", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "frete.txt", got[0].FileName)
}
