package overload_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/flowrpc/flowrpc/overload"
)

var _ = Describe("SecondsLimiter", func() {
	It("admits exactly limit calls within one second", func() {
		l := overload.NewSecondsLimiter("svcA", 3, 10, nil)
		var got []bool
		for i := 0; i < 4; i++ {
			got = append(got, l.Allow(context.Background()))
		}
		Expect(got).To(Equal([]bool{true, true, true, false}))
		Expect(l.CurrentCount()).To(Equal(int64(3)))
	})

	It("does not double-reset across the same second under repeated checks", func() {
		l := overload.NewSecondsLimiter("svcB", 100, 10, nil)
		for i := 0; i < 10; i++ {
			l.Allow(context.Background())
		}
		Expect(l.CurrentCount()).To(Equal(int64(10)))
	})
})

var _ = Describe("SmoothLimiter", func() {
	It("admits exactly limit calls per burst", func() {
		l := overload.NewSmoothLimiter("svcC", 3, 100, nil)
		defer l.Stop()
		var got []bool
		for i := 0; i < 4; i++ {
			got = append(got, l.Allow(context.Background()))
		}
		Expect(got).To(Equal([]bool{true, true, true, false}))
	})

	It("converges to roughly the configured rate under sustained load", func() {
		const limit = int64(20)
		l := overload.NewSmoothLimiter("svcD", limit, 100, nil)
		defer l.Stop()
		deadline := time.Now().Add(2500 * time.Millisecond)
		var admitted int64
		var total int64
		for time.Now().Before(deadline) {
			if l.Allow(context.Background()) {
				admitted++
			}
			total++
			time.Sleep(time.Millisecond)
		}
		rate := float64(admitted) / 2.5
		Expect(rate).To(BeNumerically("~", float64(limit), float64(limit)*0.5+2))
	})
})

var _ = Describe("Descriptor parsing", func() {
	It("parses well-formed descriptors", func() {
		d, err := overload.ParseLimiterDescriptor("seconds(50)")
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Kind).To(Equal(overload.KindSeconds))
		Expect(d.MaxRPS).To(Equal(int64(50)))
	})

	It("rejects malformed descriptors", func() {
		for _, s := range []string{"seconds", "bogus(5)", "seconds(0)", "seconds(-1)", "seconds(notanumber)"} {
			_, err := overload.ParseLimiterDescriptor(s)
			Expect(err).To(HaveOccurred(), s)
		}
	})
})

var _ = Describe("Controller", func() {
	It("admits up to the service limit and rejects beyond it", func() {
		c := overload.NewController()
		c.LoadConfig([]overload.ServiceConfig{
			{ServiceName: "Echo", ServiceLimiter: "default(2)", WindowSize: 10},
		}, nil)
		ctx := context.Background()
		Expect(c.BeforeSchedule(ctx, "Echo", "Say")).To(BeTrue())
		Expect(c.BeforeSchedule(ctx, "Echo", "Say")).To(BeTrue())
		Expect(c.BeforeSchedule(ctx, "Echo", "Say")).To(BeFalse())
	})

	It("leaves unconfigured services unrestricted", func() {
		c := overload.NewController()
		ctx := context.Background()
		for i := 0; i < 100; i++ {
			Expect(c.BeforeSchedule(ctx, "NoLimit", "Anything")).To(BeTrue())
		}
	})

	It("applies a per-method limiter in addition to the service limiter", func() {
		c := overload.NewController()
		c.LoadConfig([]overload.ServiceConfig{
			{
				ServiceName:    "Echo",
				ServiceLimiter: "default(1000)",
				WindowSize:     10,
				FuncLimiters: []overload.FuncLimiterConfig{
					{Name: "Say", Limiter: "default(1)"},
				},
			},
		}, nil)
		ctx := context.Background()
		Expect(c.BeforeSchedule(ctx, "Echo", "Say")).To(BeTrue())
		Expect(c.BeforeSchedule(ctx, "Echo", "Say")).To(BeFalse())
		// a different method on the same service is unaffected by the func limiter
		Expect(c.BeforeSchedule(ctx, "Echo", "Other")).To(BeTrue())
	})
})
