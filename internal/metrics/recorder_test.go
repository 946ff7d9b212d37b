package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorder_ObserveSolve(t *testing.T) {
	r := NewRecorder()

	r.ObserveSolve("explicit", 120, 840, time.Millisecond, nil)
	r.ObserveSolve("explicit", 80, 560, time.Millisecond, nil)
	r.ObserveSolve("implicit", 0, 0, time.Millisecond, errors.New("newton failed"))

	if got := testutil.ToFloat64(r.solves.WithLabelValues("explicit")); got != 2 {
		t.Errorf("explicit solves = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.failures.WithLabelValues("implicit")); got != 1 {
		t.Errorf("implicit failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.evaluations.WithLabelValues("explicit")); got != 1400 {
		t.Errorf("explicit evaluations = %v, want 1400", got)
	}
	if got := testutil.ToFloat64(r.failures.WithLabelValues("explicit")); got != 0 {
		t.Errorf("explicit failures = %v, want 0", got)
	}
}

func TestRecorder_Nil(t *testing.T) {
	var r *Recorder
	r.ObserveSolve("explicit", 1, 1, 0, nil)
	r.ObserveCycle()
	if err := r.WriteTextfile(filepath.Join(t.TempDir(), "m.prom")); err != nil {
		t.Errorf("nil recorder WriteTextfile: %v", err)
	}
}

func TestRecorder_WriteTextfile(t *testing.T) {
	r := NewRecorder()
	r.ObserveCycle()
	r.ObserveCycle()

	path := filepath.Join(t.TempDir(), "dsdyn.prom")
	if err := r.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "dsdyn_cycles_total 2") {
		t.Errorf("exposition missing cycle counter:\n%s", data)
	}
}
