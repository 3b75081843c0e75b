package flow

import (
	"testing"

	"github.com/BTreeMap/CarePipe/internal/graph"
	"github.com/BTreeMap/CarePipe/internal/testutil"
)

// newTestStages builds a stage library over a scripted generator and a recording notifier.
func newTestStages(gen Generator) (*Stages, *testutil.RecordingNotifier) {
	n := &testutil.RecordingNotifier{}
	return NewStages(DefaultSettings(), gen, n), n
}

func mustConsoleGraph(t *testing.T, st *Stages) *graph.Graph {
	t.Helper()
	g, err := st.BuildConsoleGraph()
	if err != nil {
		t.Fatalf("BuildConsoleGraph: %v", err)
	}
	return g
}

func mustPipelineGraph(t *testing.T, st *Stages) *graph.Graph {
	t.Helper()
	g, err := st.BuildPipelineGraph()
	if err != nil {
		t.Fatalf("BuildPipelineGraph: %v", err)
	}
	return g
}

func equalRoute(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
