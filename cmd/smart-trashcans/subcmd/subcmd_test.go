package subcmd

import (
	"context"
	"testing"

	"github.com/brunobpinto/smart-trashcans/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()
	noop := func(context.Context, *config.Config, []string) error { return nil }
	mods := []Mod{{Name: "serve", Usage: "run", Main: noop}, {Name: "broker", Main: noop}}

	m, err := Parse("broker", mods)
	require.NoError(t, err)
	assert.Equal(t, "broker", m.Name)

	_, err = Parse("", mods)
	assert.EqualError(t, err, "empty command")
	_, err = Parse("nope", mods)
	assert.EqualError(t, err, "unknown command='nope'")

	assert.Panics(t, func() { _, _ = Parse("x", []Mod{{}}) })
	assert.Contains(t, Usage(mods), "serve")
}
