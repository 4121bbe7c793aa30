package report

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/brunobpinto/smart-trashcans/internal/config"
	"github.com/brunobpinto/smart-trashcans/internal/state"
	"github.com/brunobpinto/smart-trashcans/internal/storage"
	"github.com/brunobpinto/smart-trashcans/log2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
	err  error
	ch   chan string
}

func (self *fakeNotifier) Send(ctx context.Context, text string) error {
	self.mu.Lock()
	self.sent = append(self.sent, text)
	err := self.err
	self.mu.Unlock()
	if self.ch != nil {
		self.ch <- text
	}
	return err
}

func (self *fakeNotifier) messages() []string {
	self.mu.Lock()
	defer self.mu.Unlock()
	return append([]string(nil), self.sent...)
}

// countingStore records LatestStatuses calls.
type countingStore struct {
	storage.Store
	calls int
	err   error
}

func (self *countingStore) LatestStatuses(ctx context.Context) ([]storage.TrashcanStatus, error) {
	self.calls++
	if self.err != nil {
		return nil, self.err
	}
	return self.Store.LatestStatuses(ctx)
}

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func seed(m *storage.Memory, fills ...float64) {
	for i, fill := range fills {
		bin := m.AddTrashcan(storage.Trashcan{Name: fmt.Sprintf("BIN%03d", i+1), Location: "Floor " + fmt.Sprint(i)})
		_ = m.CreateStatus(context.Background(), &storage.Status{TrashcanID: bin.ID, CapacityPct: fill, UseCount: i, Hour: t0})
	}
}

func TestMarker(t *testing.T) {
	t.Parallel()
	cases := []struct {
		fill   float64
		expect string
	}{
		{0, MarkerLow}, {32.9, MarkerLow}, {33, MarkerMedium}, {65.9, MarkerMedium}, {66, MarkerHigh}, {100, MarkerHigh},
	}
	for _, c := range cases {
		assert.Equal(t, c.expect, Marker(c.fill), "fill=%v", c.fill)
	}
}

func TestBuild(t *testing.T) {
	t.Parallel()
	m := storage.NewMemory()
	// 7 trashcans, BIN002 and BIN005 tie at 80, BIN004 and BIN006 tie at 50
	seed(m, 10, 80, 95, 50, 80, 50, 20)
	latest, err := m.LatestStatuses(context.Background())
	require.NoError(t, err)

	s := Build(latest, 5, t0)
	assert.Equal(t, 7, s.Total)
	names := make([]string, len(s.Entries))
	for i, e := range s.Entries {
		names[i] = e.Trashcan.Name
	}
	assert.Equal(t, []string{"BIN003", "BIN002", "BIN005", "BIN004", "BIN006"}, names)
	// input not reordered
	assert.Equal(t, "BIN001", latest[0].Trashcan.Name)

	assert.Len(t, Build(latest[:3], 5, t0).Entries, 3)
	assert.Empty(t, Build(nil, 5, t0).Entries)
}

func TestRender(t *testing.T) {
	t.Parallel()
	s := Snapshot{
		Generated: t0,
		Total:     2,
		Entries: []storage.TrashcanStatus{
			{Trashcan: storage.Trashcan{Name: "Kitchen <A>", Location: "Floor 1", Description: "near door"},
				Status: storage.Status{CapacityPct: 91.6, UseCount: 12, Hour: t0}},
			{Trashcan: storage.Trashcan{Name: "A very long trashcan name"},
				Status: storage.Status{CapacityPct: 40, UseCount: 0, Hour: t0}},
		},
	}
	text := Render(s)
	expect := `🗑 <b>Trashcans report</b> 2025-06-01 09:00
Top 2 of 2 by fill level
<pre>
#  Name           Fill  Uses
1  Kitchen &lt;A&gt;     92%    12
2  A very long…    40%     0
</pre>

🔴 <b>Kitchen &lt;A&gt;</b> 92%
  location: Floor 1
  near door
  uses: 12, updated 2025-06-01 09:00
🟡 <b>A very long trashcan name</b> 40%
  uses: 0, updated 2025-06-01 09:00`
	assert.Equal(t, expect, text)

	assert.Equal(t, noDataText, Render(Snapshot{Generated: t0}))
}

func TestRenderColumns(t *testing.T) {
	t.Parallel()
	t0 := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	names := []string{"Bins & Co", "<Hall>", "Plain", "Ümlaut Üeber Straße"}
	s := Snapshot{Generated: t0, Total: len(names)}
	for _, n := range names {
		s.Entries = append(s.Entries, storage.TrashcanStatus{
			Trashcan: storage.Trashcan{Name: n},
			Status:   storage.Status{CapacityPct: 50, UseCount: 3, Hour: t0},
		})
	}
	text := Render(s)
	assert.Contains(t, text, "Bins &amp; Co")
	assert.Contains(t, text, "&lt;Hall&gt;")

	pre := text[strings.Index(text, "<pre>\n")+6 : strings.Index(text, "</pre>")]
	rows := strings.Split(strings.TrimRight(pre, "\n"), "\n")
	require.Len(t, rows, len(names)+1)
	// as displayed by Telegram, entities are one char
	col := -1
	for _, row := range rows[1:] {
		shown := html.UnescapeString(row)
		i := strings.Index(shown, "%")
		require.NotEqual(t, -1, i, row)
		n := utf8.RuneCountInString(shown[:i])
		if col == -1 {
			col = n
		}
		assert.Equal(t, col, n, row)
	}
}

func TestCycle(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		fills     []float64
		storeErr  error
		sendErr   error
		expectErr string
		check     func(testing.TB, []string)
	}{
		{name: "no-data", check: func(t testing.TB, msgs []string) {
			require.Len(t, msgs, 1)
			assert.Equal(t, noDataText, msgs[0])
		}},
		{name: "seven-top-five", fills: []float64{10, 80, 95, 50, 80, 50, 20}, check: func(t testing.TB, msgs []string) {
			require.Len(t, msgs, 1)
			msg := msgs[0]
			assert.Contains(t, msg, "Top 5 of 7")
			assert.NotContains(t, msg, "BIN001")
			assert.NotContains(t, msg, "BIN007")
			i3, i2, i5, i4, i6 := strings.Index(msg, "BIN003"), strings.Index(msg, "BIN002"), strings.Index(msg, "BIN005"), strings.Index(msg, "BIN004"), strings.Index(msg, "BIN006")
			assert.True(t, i3 < i2 && i2 < i5 && i5 < i4 && i4 < i6, msg)
		}},
		{name: "store-error", storeErr: fmt.Errorf("db down"), expectErr: "report read statuses: db down",
			check: func(t testing.TB, msgs []string) { assert.Empty(t, msgs) }},
		{name: "send-error", fills: []float64{50}, sendErr: fmt.Errorf("telegram 502"), expectErr: "report send: telegram 502",
			check: func(t testing.TB, msgs []string) { assert.Len(t, msgs, 1) }},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			m := storage.NewMemory()
			seed(m, c.fills...)
			store := &countingStore{Store: m, err: c.storeErr}
			n := &fakeNotifier{err: c.sendErr}
			st := state.New()
			s := NewScheduler(log2.NewTest(t, log2.LDebug), store, n, config.Report{Top: 5}, st)
			s.now = func() time.Time { return t0 }
			err := s.Cycle(context.Background())
			if c.expectErr == "" {
				require.NoError(t, err)
				assert.False(t, st.LastReport.IsZero())
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), c.expectErr)
				assert.True(t, st.LastReport.IsZero())
			}
			assert.Equal(t, 1, store.calls)
			c.check(t, n.messages())
		})
	}
}

func TestSchedulerStart(t *testing.T) {
	t.Parallel()
	m := storage.NewMemory()
	seed(m, 70)
	n := &fakeNotifier{ch: make(chan string, 8)}
	st := state.New()
	s := NewScheduler(log2.NewTest(t, log2.LDebug), m, n, config.Report{Top: 5}, st)
	s.warmup = 10 * time.Millisecond
	s.interval = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	s.Start(ctx) // no-op
	assert.True(t, st.Running(state.ActivityScheduler))
	for i := 0; i < 2; i++ {
		select {
		case text := <-n.ch:
			assert.Contains(t, text, "BIN001")
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for report")
		}
	}
	cancel()
	require.Eventually(t, func() bool { return !st.Running(state.ActivityScheduler) }, time.Second, 5*time.Millisecond)
}

func TestSchedulerDisabled(t *testing.T) {
	t.Parallel()
	st := state.New()
	s := NewScheduler(log2.NewTest(t, log2.LDebug), storage.NewMemory(), nil, config.Report{}, st)
	assert.False(t, s.Enabled())
	s.Start(context.Background())
	s.Run(context.Background())
	assert.False(t, st.Running(state.ActivityScheduler))
}
