package sweep_test

import (
	"context"
	"errors"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/dsdyn/internal/dynamo"
	"github.com/san-kum/dsdyn/internal/preprocess"
	"github.com/san-kum/dsdyn/internal/solver"
	"github.com/san-kum/dsdyn/internal/sweep"
)

func reduce(eqs ...string) *preprocess.ReducedSystem {
	sys, err := preprocess.Reduce(preprocess.Input{Equations: eqs})
	Expect(err).NotTo(HaveOccurred())
	return sys
}

func final(traj *dynamo.Trajectory, name string) float64 {
	s, ok := traj.Get(name)
	Expect(ok).To(BeTrue())
	return s[len(s)-1]
}

var _ = Describe("Parameter", func() {
	It("solves once per value, in order", func() {
		sys := reduce("X. = -k*X")
		values := []float64{0.5, 1, 2, 4}

		trajs, err := sweep.Parameter(context.Background(), sys, dynamo.Environment{"X": 1}, dynamo.Environment{"k": 0},
			"k", values, dynamo.Linspace(0, 1, 11), solver.Options{}, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(trajs).To(HaveLen(len(values)))
		for i, k := range values {
			Expect(final(trajs[i], "X")).To(BeNumerically("~", math.Exp(-k), 1e-4))
		}
	})

	It("does not touch the caller's parameters", func() {
		sys := reduce("X. = -k*X")
		params := dynamo.Environment{"k": 7}
		_, err := sweep.Parameter(context.Background(), sys, dynamo.Environment{"X": 1}, params,
			"k", []float64{1, 2}, []float64{0, 1}, solver.Options{}, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(params).To(Equal(dynamo.Environment{"k": 7}))
	})
})

var _ = Describe("Batch", func() {
	It("names the failing job and returns no results", func() {
		sys := reduce("X. = -k*X")
		grid := []float64{0, 1}
		jobs := []sweep.Job{
			{Name: "good", System: sys, Init: dynamo.Environment{"X": 1}, Params: dynamo.Environment{"k": 1}, Grid: grid},
			{Name: "bad", System: sys, Init: dynamo.Environment{"X": 1}, Params: dynamo.Environment{}, Grid: grid},
		}

		trajs, err := sweep.Batch(context.Background(), jobs, 1)
		Expect(trajs).To(BeNil())
		Expect(errors.Is(err, dynamo.ErrMissingValue)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("bad"))
	})

	It("stops when the context is cancelled", func() {
		sys := reduce("X. = -X")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		jobs := make([]sweep.Job, 4)
		for i := range jobs {
			jobs[i] = sweep.Job{System: sys, Init: dynamo.Environment{"X": 1}, Grid: []float64{0, 1}}
		}
		_, err := sweep.Batch(ctx, jobs, 2)
		Expect(err).To(MatchError(context.Canceled))
	})
})

var _ = Describe("GridSearch", func() {
	It("enumerates the cartesian product with the last parameter fastest", func() {
		g, err := sweep.NewGridSearch([]string{"k", "c"}, [][]float64{{0.5, 1, 2}, {0, 1}})
		Expect(err).NotTo(HaveOccurred())

		points := g.Points()
		Expect(points).To(HaveLen(6))
		Expect(points[0]).To(Equal(dynamo.Environment{"k": 0.5, "c": 0}))
		Expect(points[1]).To(Equal(dynamo.Environment{"k": 0.5, "c": 1}))
		Expect(points[5]).To(Equal(dynamo.Environment{"k": 2, "c": 1}))
	})

	It("finds the point with the lowest score", func() {
		sys := reduce("X. = -k*X + c")
		g, err := sweep.NewGridSearch([]string{"k", "c"}, [][]float64{{0.5, 1, 2}, {0, 1}})
		Expect(err).NotTo(HaveOccurred())

		best, score, err := g.Search(context.Background(), sys, dynamo.Environment{"X": 1}, nil,
			dynamo.Linspace(0, 1, 11), solver.Options{}, 3,
			func(traj *dynamo.Trajectory) (float64, error) { return final(traj, "X"), nil })
		Expect(err).NotTo(HaveOccurred())
		Expect(best).To(Equal(dynamo.Environment{"k": 2, "c": 0}))
		Expect(score).To(BeNumerically("~", math.Exp(-2), 1e-4))
	})

	It("fits a final value with FinalDistance", func() {
		sys := reduce("X. = -k*X")
		gs, err := sweep.NewGridSearch([]string{"k"}, [][]float64{{0.5, 1, 2, 4}})
		Expect(err).NotTo(HaveOccurred())

		best, score, err := gs.Search(context.Background(), sys, dynamo.Environment{"X": 1}, dynamo.Environment{},
			dynamo.Linspace(0, 1, 11), solver.Options{}, 0, sweep.FinalDistance("X", math.Exp(-2)))
		Expect(err).NotTo(HaveOccurred())
		Expect(best).To(Equal(dynamo.Environment{"k": 2}))
		Expect(score).To(BeNumerically("<", 1e-4))
	})

	It("fails the search when the scored series is missing", func() {
		sys := reduce("X. = -k*X")
		gs, err := sweep.NewGridSearch([]string{"k"}, [][]float64{{1}})
		Expect(err).NotTo(HaveOccurred())

		_, _, err = gs.Search(context.Background(), sys, dynamo.Environment{"X": 1}, dynamo.Environment{},
			dynamo.Linspace(0, 1, 3), solver.Options{}, 0, sweep.FinalDistance("Y", 0))
		Expect(err).To(MatchError(dynamo.ErrMissingValue))
	})

	It("rejects mismatched names and ranges", func() {
		_, err := sweep.NewGridSearch([]string{"k"}, nil)
		Expect(errors.Is(err, dynamo.ErrDimensionMismatch)).To(BeTrue())
	})
})

var _ = DescribeTable("ParseAxis",
	func(in, name string, values []float64, ok bool) {
		n, v, err := sweep.ParseAxis(in)
		if !ok {
			Expect(err).To(HaveOccurred())
			return
		}
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(name))
		Expect(v).To(Equal(values))
	},
	Entry("list", "k=0.5,1,2", "k", []float64{0.5, 1, 2}, true),
	Entry("spaces", " k2 = 1e-3 , 4 ", "k2", []float64{1e-3, 4}, true),
	Entry("single value", "k=3", "k", []float64{3}, true),
	Entry("no equals", "k", "", nil, false),
	Entry("no name", "=1,2", "", nil, false),
	Entry("no values", "k=", "", nil, false),
	Entry("bad number", "k=1,x", "", nil, false),
)

var _ = Describe("Titration", func() {
	var (
		sys    *preprocess.ReducedSystem
		grid   []float64
		values []float64
	)

	BeforeEach(func() {
		sys = reduce("X. = k - X")
		grid = dynamo.Linspace(0, 1, 11)
		values = []float64{1, 2, 3}
	})

	// X relaxes towards k: X(1) = k + (X(0) - k)/e
	expected := func(vals []float64) []float64 {
		out := make([]float64, len(vals))
		x := 0.0
		for i, k := range vals {
			x = k + (x-k)*math.Exp(-1)
			out[i] = x
		}
		return out
	}

	It("carries each final state into the next step", func() {
		steps, err := sweep.Titration(context.Background(), sys, dynamo.Environment{"X": 0}, dynamo.Environment{},
			"k", values, grid, solver.Options{})
		Expect(err).NotTo(HaveOccurred())
		Expect(steps).To(HaveLen(3))
		for i, want := range expected(values) {
			Expect(steps[i].Value).To(Equal(values[i]))
			Expect(steps[i].Final["X"]).To(BeNumerically("~", want, 1e-4))
		}
	})

	It("runs the backward sweep over reversed values", func() {
		fwd, bwd, err := sweep.Hysteresis(context.Background(), sys, dynamo.Environment{"X": 0}, dynamo.Environment{},
			"k", values, grid, solver.Options{})
		Expect(err).NotTo(HaveOccurred())
		Expect(values).To(Equal([]float64{1, 2, 3}))

		Expect(fwd[0].Value).To(Equal(1.0))
		Expect(bwd[0].Value).To(Equal(3.0))
		for i, want := range expected([]float64{3, 2, 1}) {
			Expect(bwd[i].Final["X"]).To(BeNumerically("~", want, 1e-4))
		}
	})

	It("reports the failing value", func() {
		_, err := sweep.Titration(context.Background(), sys, dynamo.Environment{}, dynamo.Environment{},
			"k", values, grid, solver.Options{})
		Expect(errors.Is(err, dynamo.ErrMissingValue)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("k=1"))
	})
})
