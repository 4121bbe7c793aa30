package downlink

import (
	"testing"

	"github.com/brunobpinto/smart-trashcans/internal/frame"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	t.Parallel()
	cases := []struct {
		args   []string
		expect frame.Frame
		valid  bool
	}{
		{[]string{"insert", "1A 2B 3C 4D"}, frame.EncodeInsert("1A 2B 3C 4D", "WORKER"), true},
		{[]string{"insert", "1A2B3C4D", "admin"}, frame.EncodeInsert("1A 2B 3C 4D", "ADMIN"), true},
		{[]string{"INSERT", "1A", "2B", "3C", "4D", "ADMIN"}, frame.EncodeInsert("1A 2B 3C 4D", "ADMIN"), true},
		{[]string{"delete", "de", "ad", "be", "ef"}, frame.EncodeDelete("DE AD BE EF"), true},
		{[]string{"delete"}, nil, false},
		{[]string{"update", "1A"}, nil, false},
	}
	for _, c := range cases {
		f, err := ParseArgs(c.args)
		if !c.valid {
			require.Error(t, err, "args=%v", c.args)
			assert.True(t, errors.IsNotValid(err))
			continue
		}
		require.NoError(t, err, "args=%v", c.args)
		assert.Equal(t, c.expect, f, "args=%v", c.args)
	}
}
