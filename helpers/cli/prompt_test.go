package cli

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadLines(t *testing.T) {
	t.Parallel()
	var lines []string
	err := ReadLines(strings.NewReader("decode 021A2B3C4D\n\n  # comment\n delete AA BB \n"), func(line string) {
		lines = append(lines, line)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"decode 021A2B3C4D", "delete AA BB"}, lines)
}
