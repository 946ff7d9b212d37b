package cycle_test

import (
	"context"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/dsdyn/internal/cycle"
	"github.com/san-kum/dsdyn/internal/dynamo"
	"github.com/san-kum/dsdyn/internal/preprocess"
	"github.com/san-kum/dsdyn/internal/solver"
)

var _ = Describe("Run", func() {
	var (
		ctx    context.Context
		grid   []float64
		params dynamo.Environment
	)

	BeforeEach(func() {
		ctx = context.Background()
		grid = dynamo.Linspace(0, 1, 11)
		params = dynamo.Environment{"k": 1}
	})

	Context("with an open decay system", func() {
		var sys *preprocess.ReducedSystem

		BeforeEach(func() {
			var err error
			sys, err = preprocess.Reduce(preprocess.Input{
				Equations: []string{"A. = -k*A", "B. = 0.5*k*A"},
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("returns nothing for zero cycles", func() {
			res, err := cycle.Run(ctx, sys, dynamo.Environment{"A": 1, "B": 0}, params, grid, cycle.Config{})
			Expect(err).NotTo(HaveOccurred())
			Expect(res).To(BeNil())
		})

		It("matches a plain solve for a single cycle", func() {
			init := dynamo.Environment{"A": 1, "B": 0}
			res, err := cycle.Run(ctx, sys, init, params, grid, cycle.Config{Cycles: 1})
			Expect(err).NotTo(HaveOccurred())

			traj, err := solver.Solve(ctx, sys, init, params, grid, solver.Options{})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Trajectory.Series).To(Equal(traj.Series))
			Expect(res.Finals).To(HaveLen(1))
		})

		It("renormalizes every cycle to a unit total", func() {
			res, err := cycle.Run(ctx, sys, dynamo.Environment{"A": 1, "B": 0}, params, grid, cycle.Config{
				Cycles: 3,
				Bounds: []float64{1e-9, 1e-9},
				Policy: cycle.PolicyDropBelowThreshold,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Finals).To(HaveLen(3))

			for _, f := range res.Finals {
				Expect(f["A"] + f["B"]).To(BeNumerically("~", 1, 1e-12))
			}

			// the ratio of the last cycle's final row survives rescaling
			last := res.Trajectory.Final()
			Expect(res.Finals[2]["A"] / res.Finals[2]["B"]).To(BeNumerically("~", last["A"]/last["B"], 1e-9))
		})

		It("zeroes components at or below their bound", func() {
			res, err := cycle.Run(ctx, sys, dynamo.Environment{"A": 1, "B": 0}, params, grid, cycle.Config{
				Cycles: 1,
				Bounds: []float64{0.5, 0},
				Policy: cycle.PolicyDropBelowThreshold,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Finals[0]["A"]).To(Equal(0.0))
			Expect(res.Finals[0]["B"]).To(BeNumerically("~", 1, 1e-15))
		})

		It("starts each cycle from the previous final state", func() {
			res, err := cycle.Run(ctx, sys, dynamo.Environment{"A": 1, "B": 0}, params, grid, cycle.Config{Cycles: 2})
			Expect(err).NotTo(HaveOccurred())

			a, _ := res.Trajectory.Get("A")
			Expect(a[0]).To(Equal(res.Finals[0]["A"]))
			Expect(a[len(a)-1]).To(BeNumerically("~", math.Exp(-2), 1e-5))
		})

		It("fails when everything is dropped", func() {
			_, err := cycle.Run(ctx, sys, dynamo.Environment{"A": 1, "B": 0}, params, grid, cycle.Config{
				Cycles: 2,
				Bounds: []float64{1, 1},
				Policy: cycle.PolicyDropBelowThreshold,
			})
			Expect(err).To(MatchError(dynamo.ErrRenormalization))

			var re *dynamo.RenormalizationError
			Expect(err).To(BeAssignableToTypeOf(re))
			Expect(err.(*dynamo.RenormalizationError).Cycle).To(Equal(1))
		})

		It("rejects bounds that do not match the state", func() {
			_, err := cycle.Run(ctx, sys, dynamo.Environment{"A": 1, "B": 0}, params, grid, cycle.Config{
				Cycles: 1,
				Bounds: []float64{0.1},
				Policy: cycle.PolicyDropBelowThreshold,
			})
			Expect(err).To(MatchError(dynamo.ErrDimensionMismatch))
		})

		It("rejects unknown policies", func() {
			_, err := cycle.Run(ctx, sys, dynamo.Environment{"A": 1, "B": 0}, params, grid, cycle.Config{
				Cycles: 1,
				Policy: cycle.Policy(9),
			})
			Expect(err).To(MatchError(dynamo.ErrUnsupportedConfiguration))
		})

		It("reports which cycle failed", func() {
			_, err := cycle.Run(ctx, sys, dynamo.Environment{"A": 1}, params, grid, cycle.Config{Cycles: 2})
			Expect(err).To(MatchError(ContainSubstring("cycle 1")))
			Expect(err).To(MatchError(dynamo.ErrMissingValue))
		})
	})

	Context("with a conservation law", func() {
		var sys *preprocess.ReducedSystem

		BeforeEach(func() {
			var err error
			sys, err = preprocess.Reduce(preprocess.Input{
				Equations: []string{
					"X1. = -k*X1 + 0.5*X2",
					"X2. = k*X1 - 0.5*X2",
					"Xc1 = X1 + X2 - 1",
				},
				Conservations: 1,
			})
			Expect(err).NotTo(HaveOccurred())
		})

		for _, method := range []solver.Method{solver.Explicit, solver.Implicit} {
			It("continues the solve across cycles with the "+method.String()+" solver", func() {
				opts := solver.Options{Method: method, AbsTol: 1e-10, RelTol: 1e-10}
				init := dynamo.Environment{"X1": 1, "X2": 0}

				res, err := cycle.Run(ctx, sys, init, params, grid, cycle.Config{Cycles: 2, Solver: opts})
				Expect(err).NotTo(HaveOccurred())

				whole, err := solver.Solve(ctx, sys, init, params, dynamo.Linspace(0, 2, 21), opts)
				Expect(err).NotTo(HaveOccurred())

				got := res.Trajectory.Final()
				want := whole.Final()
				Expect(got["X1"]).To(BeNumerically("~", want["X1"], 1e-6))
				Expect(got["X2"]).To(BeNumerically("~", want["X2"], 1e-6))
				Expect(got["X1"] + got["X2"]).To(BeNumerically("~", 1, 1e-8))
			})
		}
	})
})
