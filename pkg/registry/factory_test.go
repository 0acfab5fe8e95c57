package registry

import (
	"context"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/symcn/dubbo-registry/pkg/registry/types"

	_ "github.com/symcn/dubbo-registry/pkg/registry/connector/memory"
)

var _ = Describe("Factory", func() {
	var (
		ctx = context.Background()
		f   *Factory
	)

	BeforeEach(func() {
		f = NewFactory()
	})

	AfterEach(func() {
		Expect(f.Close()).To(Succeed())
	})

	It("returns one registry per normalized address", func() {
		opt := testOption()
		opt.Address = []string{"b:1", "a:1"}
		first, err := f.Get(ctx, opt)
		Expect(err).NotTo(HaveOccurred())

		same := testOption()
		same.Address = []string{"A:1", " b:1"}
		second, err := f.Get(ctx, same)
		Expect(err).NotTo(HaveOccurred())
		Expect(second).To(BeIdenticalTo(first))

		other := testOption()
		other.Address = []string{"c:1"}
		third, err := f.Get(ctx, other)
		Expect(err).NotTo(HaveOccurred())
		Expect(third).NotTo(BeIdenticalTo(first))
		Expect(f.Registries()).To(HaveLen(2))
	})

	It("does not share state between registries", func() {
		opt := testOption()
		opt.Address = []string{"isolated-a"}
		a, err := f.Get(ctx, opt)
		Expect(err).NotTo(HaveOccurred())

		opt.Address = []string{"isolated-b"}
		b, err := f.Get(ctx, opt)
		Expect(err).NotTo(HaveOccurred())

		bar := types.MustParseURL("dubbo://10.0.0.1:20880/com.foo.BarService")
		Expect(a.Register(ctx, bar)).To(Succeed())
		Expect(b.Lookup(bar)).To(BeEmpty())
		Expect(b.Registered()).To(BeEmpty())
	})

	It("closes a removed registry", func() {
		opt := testOption()
		opt.Address = []string{"removed"}
		r, err := f.Get(ctx, opt)
		Expect(err).NotTo(HaveOccurred())

		Expect(f.Remove(opt)).To(Succeed())
		Expect(r.Available()).To(BeFalse())
		Expect(f.Registries()).To(BeEmpty())
	})

	It("fails for an unknown connector type", func() {
		opt := testOption()
		opt.Type = "unknown"
		_, err := f.Get(ctx, opt)
		Expect(err).To(HaveOccurred())
	})
})
