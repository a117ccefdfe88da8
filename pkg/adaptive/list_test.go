package adaptive

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/incrkit/incrkit/pkg/dlist"
)

func pullList(r ListReader, clock *Clock) dlist.Delta {
	d, err := r.Pull(clock.Now())
	ExpectWithOffset(1, err).NotTo(HaveOccurred())
	return d
}

var _ = Describe("List collections", func() {
	var clock *Clock
	var in *ListInput

	BeforeEach(func() {
		clock = NewClock()
		in = NewListInput(clock, WithLogger(logger))
	})

	Describe("inputs", func() {
		It("appends, prepends and edits by index", func() {
			_, err := in.Append(2)
			Expect(err).NotTo(HaveOccurred())
			_, err = in.Append(3)
			Expect(err).NotTo(HaveOccurred())
			_, err = in.Prepend(1)
			Expect(err).NotTo(HaveOccurred())

			snap, err := in.AsList().SnapshotSlice()
			Expect(err).NotTo(HaveOccurred())
			Expect(snap).To(Equal([]any{1, 2, 3}))

			ord, err := in.Append(99)
			Expect(err).NotTo(HaveOccurred())
			Expect(in.SetAt(ord, 4)).To(Succeed())
			snap, err = in.AsList().SnapshotSlice()
			Expect(err).NotTo(HaveOccurred())
			Expect(snap).To(Equal([]any{1, 2, 3, 4}))

			Expect(in.DeleteAt(ord)).To(Succeed())
			snap, err = in.AsList().SnapshotSlice()
			Expect(err).NotTo(HaveOccurred())
			Expect(snap).To(Equal([]any{1, 2, 3}))
		})

		It("inserts between neighbours without touching them", func() {
			first, err := in.Append("a")
			Expect(err).NotTo(HaveOccurred())
			_, err = in.Append("c")
			Expect(err).NotTo(HaveOccurred())

			r, err := in.AsList().NewReader()
			Expect(err).NotTo(HaveOccurred())
			defer func() { _ = r.Dispose() }()
			Expect(pullList(r, clock).Len()).To(Equal(2))

			mid, err := in.InsertAfter(first, "b")
			Expect(err).NotTo(HaveOccurred())

			d := pullList(r, clock)
			Expect(d.Len()).To(Equal(1), "neighbours keep their indices")
			e, ok := d.Get(mid)
			Expect(ok).To(BeTrue())
			Expect(e.Kind).To(Equal(dlist.OpSet))
			Expect(e.Value).To(Equal("b"))

			snap, err := in.AsList().SnapshotSlice()
			Expect(err).NotTo(HaveOccurred())
			Expect(snap).To(Equal([]any{"a", "b", "c"}))
		})

		It("treats overwriting with the same value as a no-op", func() {
			ord, err := in.Append("a")
			Expect(err).NotTo(HaveOccurred())
			v := clock.Now()
			Expect(in.SetAt(ord, "a")).To(Succeed())
			Expect(clock.Now()).To(Equal(v))
		})
	})

	Describe("pull contract", func() {
		It("matches the set reader contract", func() {
			r, err := in.AsList().NewReader()
			Expect(err).NotTo(HaveOccurred())

			_, err = in.Append(1)
			Expect(err).NotTo(HaveOccurred())
			Expect(pullList(r, clock).Len()).To(Equal(1))
			Expect(pullList(r, clock).IsEmpty()).To(BeTrue())

			_, err = r.Pull(clock.Now() - 1)
			Expect(err).To(HaveOccurred())
			var ce *ContractError
			Expect(errors.As(err, &ce)).To(BeTrue())

			Expect(r.Dispose()).To(Succeed())
			_, err = r.Pull(clock.Now())
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("map", func() {
		It("doubles an edited prefix incrementally", func() {
			for _, n := range []int{1, 2, 3} {
				_, err := in.Append(n)
				Expect(err).NotTo(HaveOccurred())
			}
			doubled := MapList(in.AsList(), func(v any) any { return v.(int) * 2 })

			r, err := doubled.NewReader()
			Expect(err).NotTo(HaveOccurred())
			defer func() { _ = r.Dispose() }()

			first := pullList(r, clock)
			Expect(first.Len()).To(Equal(3))

			_, err = in.Prepend(0)
			Expect(err).NotTo(HaveOccurred())

			d := pullList(r, clock)
			Expect(d.Len()).To(Equal(1), "only the new head changes downstream")
			entries := d.Entries()
			Expect(entries[0].Kind).To(Equal(dlist.OpSet))
			Expect(entries[0].Value).To(Equal(0))

			snap, err := doubled.SnapshotSlice()
			Expect(err).NotTo(HaveOccurred())
			Expect(snap).To(Equal([]any{0, 2, 4, 6}))
		})

		It("passes removals through at the same index", func() {
			ord, err := in.Append(5)
			Expect(err).NotTo(HaveOccurred())
			tenx := MapList(in.AsList(), func(v any) any { return v.(int) * 10 })

			r, err := tenx.NewReader()
			Expect(err).NotTo(HaveOccurred())
			defer func() { _ = r.Dispose() }()
			Expect(pullList(r, clock).Len()).To(Equal(1))

			Expect(in.DeleteAt(ord)).To(Succeed())
			d := pullList(r, clock)
			e, ok := d.Get(ord)
			Expect(ok).To(BeTrue())
			Expect(e.Kind).To(Equal(dlist.OpRemove))
		})
	})

	Describe("collect", func() {
		expand := func(v any) *dlist.List {
			n := v.(int)
			return dlist.OfSlice(nil, n, n*10)
		}

		It("concatenates expansions in source order", func() {
			for _, n := range []int{1, 2} {
				_, err := in.Append(n)
				Expect(err).NotTo(HaveOccurred())
			}
			out := CollectList(in.AsList(), expand)

			snap, err := out.SnapshotSlice()
			Expect(err).NotTo(HaveOccurred())
			Expect(snap).To(Equal([]any{1, 10, 2, 20}))
		})

		It("leaves untouched blocks alone", func() {
			for _, n := range []int{1, 2} {
				_, err := in.Append(n)
				Expect(err).NotTo(HaveOccurred())
			}
			out := CollectList(in.AsList(), expand)
			r, err := out.NewReader()
			Expect(err).NotTo(HaveOccurred())
			defer func() { _ = r.Dispose() }()
			Expect(pullList(r, clock).Len()).To(Equal(4))

			_, err = in.Append(3)
			Expect(err).NotTo(HaveOccurred())
			d := pullList(r, clock)
			Expect(d.Len()).To(Equal(2), "only the new element's block is written")
			for _, e := range d.Entries() {
				Expect(e.Kind).To(Equal(dlist.OpSet))
			}
		})

		It("replaces a changed element's block in place", func() {
			ord, err := in.Append(1)
			Expect(err).NotTo(HaveOccurred())
			_, err = in.Append(2)
			Expect(err).NotTo(HaveOccurred())

			out := CollectList(in.AsList(), expand)
			r, err := out.NewReader()
			Expect(err).NotTo(HaveOccurred())
			defer func() { _ = r.Dispose() }()
			_ = pullList(r, clock)

			Expect(in.SetAt(ord, 5)).To(Succeed())
			d := pullList(r, clock)
			Expect(d.Len()).To(BeNumerically(">=", 2), "old block freed, new block written")

			snap, err := out.SnapshotSlice()
			Expect(err).NotTo(HaveOccurred())
			Expect(snap).To(Equal([]any{5, 50, 2, 20}))
		})

		It("drops the block of a removed element", func() {
			ord, err := in.Append(1)
			Expect(err).NotTo(HaveOccurred())
			_, err = in.Append(2)
			Expect(err).NotTo(HaveOccurred())

			out := CollectList(in.AsList(), expand)
			r, err := out.NewReader()
			Expect(err).NotTo(HaveOccurred())
			defer func() { _ = r.Dispose() }()
			_ = pullList(r, clock)

			Expect(in.DeleteAt(ord)).To(Succeed())
			d := pullList(r, clock)
			Expect(d.Len()).To(Equal(2))
			for _, e := range d.Entries() {
				Expect(e.Kind).To(Equal(dlist.OpRemove))
			}

			snap, err := out.SnapshotSlice()
			Expect(err).NotTo(HaveOccurred())
			Expect(snap).To(Equal([]any{2, 20}))
		})
	})

	Describe("filter", func() {
		It("keeps relative order of survivors", func() {
			for _, n := range []int{1, 2, 3, 4, 5} {
				_, err := in.Append(n)
				Expect(err).NotTo(HaveOccurred())
			}
			odds := FilterList(in.AsList(), func(v any) bool { return v.(int)%2 == 1 })

			snap, err := odds.SnapshotSlice()
			Expect(err).NotTo(HaveOccurred())
			Expect(snap).To(Equal([]any{1, 3, 5}))
		})
	})

	Describe("constants", func() {
		It("emits the contents once, in order", func() {
			c := ConstantList(clock, []any{"a", "b"})
			r, err := c.NewReader()
			Expect(err).NotTo(HaveOccurred())
			defer func() { _ = r.Dispose() }()

			d := pullList(r, clock)
			Expect(d.Len()).To(Equal(2))

			clock.Tick()
			Expect(pullList(r, clock).IsEmpty()).To(BeTrue())
		})
	})
})
