package synth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quorum/pkg/proto"
)

func TestMergePreservesOrder(t *testing.T) {
	result := Merge([]Part{
		{Role: proto.RoleQuantitative, Output: "Throughput is 5k/s.", Sources: []proto.Provenance{proto.NewVaultProvenance("project", "bench.md", "")}},
		{Role: proto.RoleHumanities, Output: "The tradeoff favors batching.", Sources: []proto.Provenance{proto.NewVaultProvenance("project", "arch.md", "")}},
	})
	assert.Equal(t, "Throughput is 5k/s.\n\nThe tradeoff favors batching.", result.Text)
	require.Len(t, result.Sources, 2)
	assert.Equal(t, "bench.md", result.Sources[0].FilePath)
	assert.Equal(t, "arch.md", result.Sources[1].FilePath)
}

func TestMergeDedupesParagraphsAndSources(t *testing.T) {
	src := proto.NewVaultProvenance("project", "arch.md", "Design")
	result := Merge([]Part{
		{Output: "Shared intro.\n\nDetail one.", Sources: []proto.Provenance{src}},
		{Output: "shared   intro.\n\nDetail two.", Sources: []proto.Provenance{src}},
	})
	assert.Equal(t, "Shared intro.\n\nDetail one.\n\nDetail two.", result.Text)
	assert.Len(t, result.Sources, 1)
}

func TestMergeModelOnlyLabel(t *testing.T) {
	result := Merge([]Part{
		{Output: "A monad is a monoid in the category of endofunctors.", Sources: []proto.Provenance{proto.ModelOnly()}},
	})
	assert.Contains(t, result.Text, "model knowledge only")
	require.Len(t, result.Sources, 1)
	assert.Equal(t, proto.ProvenanceModelOnly, result.Sources[0].Kind)
}

func TestMergeMixedSourcesNotLabeled(t *testing.T) {
	result := Merge([]Part{
		{Output: "Grounded part [1].", Sources: []proto.Provenance{proto.NewExternalProvenance("https://example.com")}},
		{Output: "Ungrounded part.", Sources: []proto.Provenance{proto.ModelOnly()}},
	})
	assert.NotContains(t, result.Text, "model knowledge only")
	assert.Len(t, result.Sources, 2)
}

func TestMergeEmpty(t *testing.T) {
	result := Merge(nil)
	assert.Contains(t, result.Text, "model knowledge only")
	require.Len(t, result.Sources, 1)
	assert.Equal(t, proto.ProvenanceModelOnly, result.Sources[0].Kind)
}
