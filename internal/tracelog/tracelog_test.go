package tracelog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/andyvauliln/paysync/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestScanObjectsLenient(t *testing.T) {
	input := `garbage {"rid":"a","step":"request","payload":{"notes":"brace } in \"string\" {"}}` +
		`{"rid":"b","step":"x"}` + "\n" +
		`[{"rid":"a","step":"response"},` + "\n" +
		`{"rid": broken}` + "\n" +
		`]` + "\n" +
		`{"rid":"a","step":"tail"`

	var objects []string
	require.NoError(t, ScanObjects(strings.NewReader(input), func(raw []byte) error {
		objects = append(objects, string(raw))
		return nil
	}))
	require.Len(t, objects, 4)
	assert.Contains(t, objects[0], `brace } in \"string\" {`)

	events, err := ReadEvents(strings.NewReader(input), "a")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "request", events[0].Step)
	assert.Equal(t, "brace } in \"string\" {", events[0].Payload["notes"])
	assert.Equal(t, "response", events[1].Step)
}

func TestReadEventsRecoversAfterCutLine(t *testing.T) {
	cases := map[string]string{
		"cut inside object": `{"rid":"a","step":"request","payload":{"x":1` + "\n",
		"cut inside string": `{"rid":"a","step":"request","payload":{"note":"cut` + "\n",
		"cut after escape":  `{"rid":"a","step":"request","payload":{"note":"cut\` + "\n",
	}
	tail := `{"rid":"b","step":"request"}` + "\n" + `{"rid":"b","step":"response"}` + "\n"

	for name, head := range cases {
		t.Run(name, func(t *testing.T) {
			input := `{"rid":"b","step":"start"}` + "\n" + head + tail

			events, err := ReadEvents(strings.NewReader(input), "b")
			require.NoError(t, err)
			require.Len(t, events, 3)
			assert.Equal(t, []string{"start", "request", "response"}, []string{events[0].Step, events[1].Step, events[2].Step})

			dropped, err := ReadEvents(strings.NewReader(input), "a")
			require.NoError(t, err)
			assert.Empty(t, dropped)
		})
	}
}

func TestScanObjectsStop(t *testing.T) {
	n := 0
	err := ScanObjects(strings.NewReader(`{"a":1}{"a":2}{"a":3}`), func([]byte) error {
		n++
		if n == 2 {
			return ErrStop
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestWriterAppendsAndReadsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.log")
	clk := clock.NewFakeClock(time.Date(2025, 12, 1, 10, 0, 0, 0, time.UTC))
	w := NewWriter(path, clk, zap.NewNop())

	ctx := context.Background()
	w.Step(ctx, "rid-1", StepRequest, map[string]any{"mode": "both"})
	clk.Advance(time.Second)
	w.Step(ctx, "rid-2", StepRequest, nil)
	w.Append(ctx, Event{RID: "rid-1", Step: StepResponse, Error: "timeout"})

	events, err := ReadFile(path, "rid-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "2025-12-01T10:00:00Z", events[0].TS)
	assert.Equal(t, "both", events[0].Payload["mode"])
	assert.Equal(t, "2025-12-01T10:00:01Z", events[1].TS)
	assert.Equal(t, "timeout", events[1].Error)

	f := strings.NewReader(readAll(t, path))
	summary, err := Summarize(f)
	require.NoError(t, err)
	require.Len(t, summary, 2)
	assert.Equal(t, RIDSummary{RID: "rid-1", Events: 2, FirstTS: "2025-12-01T10:00:00Z", LastTS: "2025-12-01T10:00:01Z"}, summary[0])
	assert.Equal(t, "rid-2", summary[1].RID)
}

func TestWriterConcurrentAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.log")
	w := NewWriter(path, nil, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Step(context.Background(), "rid", StepManual, map[string]any{"notes": strings.Repeat("x", 512)})
		}()
	}
	wg.Wait()

	events, err := ReadFile(path, "rid")
	require.NoError(t, err)
	assert.Len(t, events, 20)
}

func TestWriterDisabledAndFailuresAreSilent(t *testing.T) {
	NewWriter("", nil, nil).Step(context.Background(), "rid", StepRequest, nil)

	bad := NewWriter(filepath.Join(t.TempDir(), "missing", "dir", "trace.log"), nil, zap.NewNop())
	assert.NotPanics(t, func() {
		bad.Step(context.Background(), "rid", StepRequest, map[string]any{"ch": make(chan int)})
		bad.Step(context.Background(), "rid", StepRequest, nil)
	})

	events, err := ReadFile(filepath.Join(t.TempDir(), "none.log"), "")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestFilterStep(t *testing.T) {
	events := []Event{{RID: "a", Step: StepManual}, {RID: "a", Step: StepAIRank}}
	assert.Equal(t, []Event{{RID: "a", Step: StepAIRank}}, FilterStep(events, StepAIRank))
	assert.Len(t, FilterStep(events, ""), 2)
}

func readAll(t *testing.T, path string) string {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(raw)
}
