package log2

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLog2(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		fun  func(t testing.TB, l *Log) string
	}{
		{"caller/debug", func(t testing.TB, l *Log) string {
			l.SetFlags(log.Lshortfile)
			l.Debugf("low level var=%d", 42)
			return formatCallerShort(1) + "debug: low level var=42\n"
		}},
		{"caller/info", func(t testing.TB, l *Log) string {
			l.SetFlags(log.Lshortfile)
			l.Infof("uplink state=%s", "subscribed")
			return formatCallerShort(1) + "uplink state=subscribed\n"
		}},
		{"caller/error", func(t testing.TB, l *Log) string {
			l.SetFlags(log.Lshortfile)
			l.Errorf("problem")
			return formatCallerShort(1) + "error: problem\n"
		}},
		{"error-func/error", func(t testing.TB, l *Log) string {
			ech := make(chan error, 1)
			l.SetErrorFunc(func(e error) { ech <- e })
			l.SetFlags(0)
			exactError := fmt.Errorf("one particular issue")
			l.Error(exactError)
			close(ech)
			e := <-ech
			if l == nil {
				assert.Nil(t, e)
			} else {
				assert.Equal(t, exactError, e)
			}
			return "error: one particular issue\n"
		}},
		{"error-func/string", func(t testing.TB, l *Log) string {
			ech := make(chan error, 1)
			l.SetErrorFunc(func(e error) { ech <- e })
			l.SetFlags(0)
			l.Errorf("trouble var=%.1f", 3.4)
			close(ech)
			e := <-ech
			if l == nil {
				assert.Nil(t, e)
			} else {
				assert.Equal(t, "trouble var=3.4", e.Error())
			}
			return "error: trouble var=3.4\n"
		}},
		{"named", func(t testing.TB, l *Log) string {
			l.SetFlags(0)
			l.Named("uplink").Infof("drop reason=%s", "bad_json")
			return "uplink: drop reason=bad_json\n"
		}},
		{"level-filter", func(t testing.TB, l *Log) string {
			l.SetFlags(0)
			l.SetLevel(LInfo)
			l.Debugf("hidden")
			l.Infof("shown")
			return "shown\n"
		}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name+"/logger=nil", func(t *testing.T) {
			c.fun(t, nil)
		})
		t.Run(c.name, func(t *testing.T) {
			buf := bytes.NewBuffer(nil)
			l := NewWriter(buf, LAll)
			expect := c.fun(t, l)
			assert.Equal(t, expect, buf.String())
		})
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	assert.Equal(t, Level(LError), ParseLevel("error"))
	assert.Equal(t, Level(LDebug), ParseLevel("debug"))
	assert.Equal(t, Level(LInfo), ParseLevel("info"))
	assert.Equal(t, Level(LInfo), ParseLevel("verbose"))
}

func TestDiscardIsNil(t *testing.T) {
	t.Parallel()
	l := NewWriter(io.Discard, LAll)
	require.Nil(t, l)
	assert.False(t, l.Enabled(LError))
	l.Infof("nothing happens")
}

func BenchmarkLog2(b *testing.B) {
	call := func(f FmtFunc) { f("uplink op=%s trashcan=%s fill=%d", "STATUS", "BIN001", 87) }
	const expect string = "uplink op=STATUS trashcan=BIN001 fill=87\n"

	prepareStd := func(w io.Writer) FmtFunc { return log.New(w, "", 0).Printf }
	prepareMe := func(w io.Writer) FmtFunc { l := NewWriter(w, LInfo); l.SetFlags(0); return l.Infof }

	cases := []struct {
		name    string
		prepare func(w io.Writer) FmtFunc
	}{
		{"me", prepareMe},
		{"stdlib", prepareStd},
	}
	for _, c := range cases {
		buf := bytes.NewBuffer(nil)
		fun := c.prepare(buf)
		b.Run(c.name, func(b *testing.B) {
			b.ReportAllocs()
			result := benchCapture(call)
			require.Equal(b, expect, result)
			b.SetBytes(int64(len(result)))
			b.ResetTimer()
			for i := 1; i <= b.N; i++ {
				call(fun)
			}
			b.StopTimer()
			assert.True(b, strings.HasSuffix(buf.String(), expect))
		})
	}
}

func benchCapture(call func(FmtFunc)) string {
	s := ""
	call(func(format string, args ...interface{}) {
		s = fmt.Sprintf(format+"\n", args...)
	})
	return s
}

func callerShort(depth int) (file string, line int) {
	var ok bool
	_, file, line, ok = runtime.Caller(depth)
	if !ok {
		file = "???"
		line = 0
	}
	if i := strings.LastIndexByte(file, '/'); i >= 0 {
		file = file[i+1:]
	}
	return
}

func formatCallerShort(depth int) string {
	file, line := callerShort(depth + 1)
	return fmt.Sprintf("%s:%d: ", file, line-1)
}
