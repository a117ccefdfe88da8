package adaptive

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/incrkit/incrkit/pkg/refset"
)

var _ = Describe("Nested collections", func() {
	var clock *Clock
	var innerA, innerB, outer *SetInput

	BeforeEach(func() {
		clock = NewClock()
		innerA = NewSetInput(clock, WithLogger(logger))
		innerB = NewSetInput(clock, WithLogger(logger))
		outer = NewSetInput(clock, WithLogger(logger))
	})

	Describe("union of a set of sets", func() {
		var r SetReader
		var state *refset.Set

		BeforeEach(func() {
			Expect(innerA.Add(1)).To(Succeed())
			Expect(innerA.Add(2)).To(Succeed())
			Expect(innerB.Add(2)).To(Succeed())

			flat := UnionOf(outer.AsSet())
			var err error
			r, err = flat.NewReader()
			Expect(err).NotTo(HaveOccurred())
			state = refset.New(nil)
		})

		AfterEach(func() {
			_ = r.Dispose()
		})

		It("flattens membership with one count per sub-collection", func() {
			Expect(outer.Add(innerA.AsSet())).To(Succeed())
			Expect(outer.Add(innerB.AsSet())).To(Succeed())
			track(state, pull(r, clock))

			Expect(state.Len()).To(Equal(2))
			c, err := state.Count(2)
			Expect(err).NotTo(HaveOccurred())
			Expect(c).To(Equal(2), "both sub-collections justify 2")
		})

		It("propagates changes inside a sub-collection", func() {
			Expect(outer.Add(innerA.AsSet())).To(Succeed())
			track(state, pull(r, clock))

			Expect(innerA.Add(3)).To(Succeed())
			d := pull(r, clock)
			Expect(d).To(Equal(refset.Delta{{Count: 1, Value: 3}}))

			Expect(innerA.Remove(3)).To(Succeed())
			d = pull(r, clock)
			Expect(d).To(Equal(refset.Delta{{Count: -1, Value: 3}}))
		})

		It("tears down a removed sub-collection's whole contribution", func() {
			Expect(outer.Add(innerA.AsSet())).To(Succeed())
			Expect(outer.Add(innerB.AsSet())).To(Succeed())
			track(state, pull(r, clock))

			Expect(outer.Remove(innerA.AsSet())).To(Succeed())
			track(state, pull(r, clock))

			present, err := state.Contains(1)
			Expect(err).NotTo(HaveOccurred())
			Expect(present).To(BeFalse(), "only innerA held 1")

			present, err = state.Contains(2)
			Expect(err).NotTo(HaveOccurred())
			Expect(present).To(BeTrue(), "innerB still holds 2")
		})

		It("stops watching a torn-down sub-collection", func() {
			Expect(outer.Add(innerA.AsSet())).To(Succeed())
			track(state, pull(r, clock))

			Expect(outer.Remove(innerA.AsSet())).To(Succeed())
			track(state, pull(r, clock))

			// A write to the abandoned sub-collection must not surface.
			Expect(innerA.Add(9)).To(Succeed())
			Expect(pull(r, clock).IsEmpty()).To(BeTrue())
		})

		It("starts a re-added sub-collection from scratch", func() {
			Expect(outer.Add(innerA.AsSet())).To(Succeed())
			track(state, pull(r, clock))
			Expect(state.Len()).To(Equal(2))

			Expect(outer.Remove(innerA.AsSet())).To(Succeed())
			track(state, pull(r, clock))
			Expect(state.Len()).To(BeZero())

			// Mutate while detached, then re-attach: the fresh inner
			// reader must emit the full current contents.
			Expect(innerA.Add(3)).To(Succeed())
			Expect(outer.Add(innerA.AsSet())).To(Succeed())
			track(state, pull(r, clock))
			Expect(state.Len()).To(Equal(3))
		})

		It("keeps equal-valued but distinct sub-collections apart", func() {
			twin := NewSetInput(clock)
			Expect(twin.Add(1)).To(Succeed())
			Expect(twin.Add(2)).To(Succeed())

			Expect(outer.Add(innerA.AsSet())).To(Succeed())
			Expect(outer.Add(twin.AsSet())).To(Succeed())
			track(state, pull(r, clock))

			c, err := state.Count(1)
			Expect(err).NotTo(HaveOccurred())
			Expect(c).To(Equal(2), "identical contents, distinct collections")

			Expect(outer.Remove(twin.AsSet())).To(Succeed())
			track(state, pull(r, clock))
			c, err = state.Count(1)
			Expect(err).NotTo(HaveOccurred())
			Expect(c).To(Equal(1))
		})
	})

	Describe("duplicate outer justifications", func() {
		var srcA, srcB *SetInput
		var r SetReader
		var state *refset.Set

		BeforeEach(func() {
			Expect(innerA.Add(1)).To(Succeed())

			srcA = NewSetInput(clock, WithLogger(logger))
			srcB = NewSetInput(clock, WithLogger(logger))
			Expect(srcA.Add(innerA.AsSet())).To(Succeed())
			Expect(srcB.Add(innerA.AsSet())).To(Succeed())

			both, err := Union(srcA.AsSet(), srcB.AsSet())
			Expect(err).NotTo(HaveOccurred())
			r, err = UnionOf(both).NewReader()
			Expect(err).NotTo(HaveOccurred())
			state = refset.New(nil)
			track(state, pull(r, clock))
		})

		AfterEach(func() {
			_ = r.Dispose()
		})

		It("keeps a sub-collection until every path has dropped it", func() {
			c, err := state.Count(1)
			Expect(err).NotTo(HaveOccurred())
			Expect(c).To(Equal(1), "one shared reader regardless of how many paths justify it")

			Expect(srcA.Remove(innerA.AsSet())).To(Succeed())
			Expect(pull(r, clock).IsEmpty()).To(BeTrue(), "one path remains")

			Expect(innerA.Add(2)).To(Succeed())
			d := pull(r, clock)
			Expect(d).To(Equal(refset.Delta{{Count: 1, Value: 2}}))
			track(state, d)

			Expect(srcB.Remove(innerA.AsSet())).To(Succeed())
			track(state, pull(r, clock))
			Expect(state.Len()).To(BeZero())
		})
	})

	Describe("collect", func() {
		It("shares one inner reader among outer elements mapping to it", func() {
			shared := NewSetInput(clock, WithLogger(logger))
			Expect(shared.Add("payload")).To(Succeed())

			// Both outer elements resolve to the same sub-collection.
			flat := CollectSets(outer.AsSet(), func(any) *Set { return shared.AsSet() })
			r, err := flat.NewReader()
			Expect(err).NotTo(HaveOccurred())
			defer func() { _ = r.Dispose() }()
			state := refset.New(nil)

			Expect(outer.Add("left")).To(Succeed())
			track(state, pull(r, clock))
			c, err := state.Count("payload")
			Expect(err).NotTo(HaveOccurred())
			Expect(c).To(Equal(1))

			Expect(outer.Add("right")).To(Succeed())
			track(state, pull(r, clock))

			// The second justification reuses the cached reader, which has
			// already emitted its contents; dropping one justification must
			// not tear anything down.
			Expect(outer.Remove("left")).To(Succeed())
			track(state, pull(r, clock))
			present, err := state.Contains("payload")
			Expect(err).NotTo(HaveOccurred())
			Expect(present).To(BeTrue())

			Expect(outer.Remove("right")).To(Succeed())
			track(state, pull(r, clock))
			present, err = state.Contains("payload")
			Expect(err).NotTo(HaveOccurred())
			Expect(present).To(BeFalse(), "last justification gone, contribution torn down")
		})

		It("disposes inner readers with the outer reader", func() {
			flat := CollectSets(outer.AsSet(), func(any) *Set { return innerA.AsSet() })
			r, err := flat.NewReader()
			Expect(err).NotTo(HaveOccurred())

			Expect(outer.Add("e")).To(Succeed())
			_ = pull(r, clock)

			Expect(r.Dispose()).To(Succeed())
			_, err = r.Pull(clock.Now())
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("bind", func() {
		var sel *Var
		var r SetReader
		var state *refset.Set

		BeforeEach(func() {
			Expect(innerA.Add(1)).To(Succeed())
			Expect(innerA.Add(2)).To(Succeed())
			Expect(innerB.Add(3)).To(Succeed())

			sel = NewVar(clock, "a")
			bound := BindSet(clock, sel, func(v any) *Set {
				if v == "a" {
					return innerA.AsSet()
				}
				return innerB.AsSet()
			}, WithLogger(logger))

			var err error
			r, err = bound.NewReader()
			Expect(err).NotTo(HaveOccurred())
			state = refset.New(nil)
		})

		AfterEach(func() {
			_ = r.Dispose()
		})

		It("follows the selected sub-collection", func() {
			track(state, pull(r, clock))
			Expect(state.Len()).To(Equal(2))

			sel.Set("b")
			track(state, pull(r, clock))
			Expect(state.Len()).To(Equal(1))
			present, err := state.Contains(3)
			Expect(err).NotTo(HaveOccurred())
			Expect(present).To(BeTrue())
		})

		It("forwards inner deltas while the selection is unchanged", func() {
			track(state, pull(r, clock))

			Expect(innerA.Add(5)).To(Succeed())
			d := pull(r, clock)
			Expect(d).To(Equal(refset.Delta{{Count: 1, Value: 5}}))
		})

		It("treats a same-identity write as no switch", func() {
			track(state, pull(r, clock))

			sel.Set("a")
			Expect(pull(r, clock).IsEmpty()).To(BeTrue())
		})

		It("honours a custom selector identity", func() {
			parity := func(v any) (string, error) {
				n, ok := v.(int)
				if !ok {
					return refset.JSONKey(v)
				}
				if n%2 == 0 {
					return "even", nil
				}
				return "odd", nil
			}

			cell := NewVar(clock, 1)
			calls := 0
			bound := BindSet(clock, cell, func(v any) *Set {
				calls++
				if v.(int)%2 == 0 {
					return innerB.AsSet()
				}
				return innerA.AsSet()
			}, WithKeyFunc(parity))

			br, err := bound.NewReader()
			Expect(err).NotTo(HaveOccurred())
			defer func() { _ = br.Dispose() }()

			st := refset.New(nil)
			track(st, pull(br, clock))
			Expect(st.Len()).To(Equal(2))
			Expect(calls).To(Equal(1))

			cell.Set(3)
			Expect(pull(br, clock).IsEmpty()).To(BeTrue())
			Expect(calls).To(Equal(1), "same parity means the same selection")

			cell.Set(2)
			track(st, pull(br, clock))
			Expect(calls).To(Equal(2))
			Expect(st.Len()).To(Equal(1))
			present, err := st.Contains(3)
			Expect(err).NotTo(HaveOccurred())
			Expect(present).To(BeTrue())
		})
	})

	Describe("flatten cells", func() {
		It("tracks the current values of a dynamic group of cells", func() {
			v1 := NewVar(clock, 10)
			v2 := NewVar(clock, 20)
			src := NewSetInput(clock, WithLogger(logger))

			flat := FlattenCells(src.AsSet(), func(v any) Cell { return v.(*Var) })
			r, err := flat.NewReader()
			Expect(err).NotTo(HaveOccurred())
			defer func() { _ = r.Dispose() }()
			state := refset.New(nil)

			Expect(src.Add(v1)).To(Succeed())
			Expect(src.Add(v2)).To(Succeed())
			track(state, pull(r, clock))
			Expect(state.Len()).To(Equal(2))

			v1.Set(11)
			d := pull(r, clock)
			track(state, d)
			Expect(d).To(ConsistOf(
				refset.Entry{Count: -1, Value: 10},
				refset.Entry{Count: 1, Value: 11},
			))

			Expect(src.Remove(v2)).To(Succeed())
			d = pull(r, clock)
			Expect(d).To(Equal(refset.Delta{{Count: -1, Value: 20}}))
		})

		It("swallows writes that keep the value's identity", func() {
			v1 := NewVar(clock, 10)
			src := NewSetInput(clock, WithLogger(logger))
			flat := FlattenCells(src.AsSet(), func(v any) Cell { return v.(*Var) })
			r, err := flat.NewReader()
			Expect(err).NotTo(HaveOccurred())
			defer func() { _ = r.Dispose() }()

			Expect(src.Add(v1)).To(Succeed())
			Expect(pull(r, clock)).To(HaveLen(1))

			v1.Set(10)
			Expect(pull(r, clock).IsEmpty()).To(BeTrue())
		})

		It("unsubscribes a dropped cell", func() {
			v1 := NewVar(clock, 10)
			src := NewSetInput(clock, WithLogger(logger))
			flat := FlattenCells(src.AsSet(), func(v any) Cell { return v.(*Var) })
			r, err := flat.NewReader()
			Expect(err).NotTo(HaveOccurred())
			defer func() { _ = r.Dispose() }()

			Expect(src.Add(v1)).To(Succeed())
			_ = pull(r, clock)
			Expect(src.Remove(v1)).To(Succeed())
			_ = pull(r, clock)

			v1.Set(99)
			Expect(pull(r, clock).IsEmpty()).To(BeTrue())
		})
	})
})
