package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	assert.Equal(t, "claude-3-5-sonnet-20241022", opts.Model)
	assert.Equal(t, 10, opts.MaxTurns)
	assert.Equal(t, []string{"Read", "Write", "Edit", "Bash"}, opts.AllowedTools)
	assert.True(t, opts.IncludePartialMessages)
}

func TestMerge_NilKeepsBase(t *testing.T) {
	base := DefaultOptions()
	assert.Equal(t, base, base.Merge(nil))
	assert.Equal(t, base, base.Merge(&Overrides{}))
}

func TestMerge_PerField(t *testing.T) {
	base := DefaultOptions()
	model := "claude-sonnet-4-5"
	turns := 3
	partial := false

	got := base.Merge(&Overrides{Model: &model, MaxTurns: &turns, IncludePartialMessages: &partial})

	assert.Equal(t, "claude-sonnet-4-5", got.Model)
	assert.Equal(t, 3, got.MaxTurns)
	assert.False(t, got.IncludePartialMessages)
	assert.Equal(t, DefaultAllowedTools, got.AllowedTools, "unset fields keep the default")
}

func TestMerge_AllowedToolsReplacesNotAppends(t *testing.T) {
	base := DefaultOptions()

	got := base.Merge(&Overrides{AllowedTools: []string{"Read"}})
	assert.Equal(t, []string{"Read"}, got.AllowedTools)

	got = base.Merge(&Overrides{AllowedTools: []string{}})
	assert.Empty(t, got.AllowedTools)
}

func TestMerge_DoesNotAliasBase(t *testing.T) {
	base := DefaultOptions()
	got := base.Merge(nil)
	got.AllowedTools[0] = "Mutated"

	assert.Equal(t, "Read", base.AllowedTools[0])
	assert.Equal(t, "Read", DefaultAllowedTools[0])
}
