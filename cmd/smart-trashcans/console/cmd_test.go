package console

import (
	"bytes"
	"context"
	"testing"

	"github.com/brunobpinto/smart-trashcans/internal/bridge"
	"github.com/brunobpinto/smart-trashcans/log2"
	"github.com/stretchr/testify/assert"
)

func TestExec(t *testing.T) {
	t.Parallel()
	cases := []struct {
		line   string
		expect string
	}{
		{"insert 1A 2B 3C 4D admin", "011A2B3C4D02 INSERT tag=1A 2B 3C 4D role=ADMIN\n" +
			`{"downlinks":[{"f_port":5,"frm_payload":"ARorPE0C","priority":"HIGH"}]}` + "\n"},
		{"decode 02 DE AD BE EF", "DELETE tag=DE AD BE EF\n"},
		{"decode 031A2B3C4D", "error: op=Op(0x03) not valid\n"},
		{"decode zz", "error: hex \"zz\" not valid\n"},
		{`unwrap {"downlinks":[{"f_port":5,"frm_payload":"ARorPE0C","priority":"HIGH"}]}`, "011A2B3C4D02 INSERT tag=1A 2B 3C 4D role=ADMIN\n"},
		{"uplink 0242494E3030315003", "STATUS trashcan=BIN001 fill=80% uses=3\n"},
		{"uplink 0142494E3030311A2B3C4D", "CLEANUP trashcan=BIN001 tag=1A 2B 3C 4D\n"},
		{"publish delete AA BB CC DD", "error: downlink not configured not valid\n"},
		{"frobnicate", "error: command=frobnicate, try help not valid\n"},
		{"", ""},
	}
	_, g := bridge.NewContext(log2.NewTest(t, log2.LDebug))
	for _, c := range cases {
		var buf bytes.Buffer
		con := &Console{w: &buf, global: g}
		con.Exec(context.Background(), c.line)
		assert.Equal(t, c.expect, buf.String(), "line=%q", c.line)
	}
}

func TestExecState(t *testing.T) {
	t.Parallel()
	_, g := bridge.NewContext(log2.NewTest(t, log2.LDebug))
	var buf bytes.Buffer
	con := &Console{w: &buf, global: g}
	con.Exec(context.Background(), "state")
	assert.Contains(t, buf.String(), `"listener": "unconfigured"`)
}
