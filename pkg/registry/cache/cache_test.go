package cache

import (
	"fmt"
	"sync"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/symcn/dubbo-registry/pkg/registry/types"
)

var _ = Describe("Cache", func() {
	var c *Cache
	bar := types.MustParseURL("dubbo://10.0.0.1:20880/BarService?version=1.0.0")
	bar2 := types.MustParseURL("dubbo://10.0.0.2:20880/BarService?version=2.0.0")
	foo := types.MustParseURL("dubbo://10.0.0.3:20880/FooService?version=1.0.0")
	route := types.MustParseURL("route://0.0.0.0/BarService?category=routers")

	BeforeEach(func() {
		c = New()
	})

	Context("put and remove", func() {
		It("bumps the revision only when something changed", func() {
			s, changed := c.Put(bar)
			Expect(changed).To(BeTrue())
			Expect(s.Revision).To(Equal(uint64(1)))

			s, changed = c.Put(bar)
			Expect(changed).To(BeFalse())
			Expect(s.Revision).To(Equal(uint64(1)))

			s, changed = c.Remove(bar)
			Expect(changed).To(BeTrue())
			Expect(s.Revision).To(Equal(uint64(2)))
			Expect(s.URLs).To(BeEmpty())

			_, changed = c.Remove(bar)
			Expect(changed).To(BeFalse())
		})

		It("keeps urls which only differ in parameters side by side", func() {
			c.Put(bar)
			c.Put(bar.WithParameter("weight", "200"))
			Expect(c.Lookup(types.MustParseURL("consumer://h/BarService"))).To(HaveLen(2))
		})

		It("stores routers apart from providers", func() {
			c.Put(bar)
			c.Put(route)
			Expect(c.Categories()).To(Equal([]string{types.ProvidersCategory, types.RoutersCategory}))
			Expect(c.Lookup(types.MustParseURL("consumer://h/BarService"))).To(ConsistOf(bar))
			Expect(c.Lookup(types.MustParseURL("consumer://h/BarService?category=*"))).To(ConsistOf(bar, route))
		})
	})

	Context("lookup", func() {
		It("returns an empty, non nil result when nothing matches", func() {
			result := c.Lookup(types.MustParseURL("consumer://h/Nothing"))
			Expect(result).NotTo(BeNil())
			Expect(result).To(BeEmpty())
		})

		It("applies the matcher", func() {
			c.Put(bar)
			c.Put(bar2)
			c.Put(foo)
			Expect(c.Lookup(types.MustParseURL("consumer://h/BarService?version=*"))).To(ConsistOf(bar, bar2))
			Expect(c.Lookup(types.MustParseURL("consumer://h/BarService?version=2.0.0"))).To(ConsistOf(bar2))
			Expect(c.Lookup(types.MustParseURL("consumer://h/*"))).To(HaveLen(3))
		})
	})

	Context("replace", func() {
		It("replaces only the records within scope", func() {
			c.Put(bar)
			c.Put(foo)
			scope := types.MustParseURL("consumer://h/BarService")

			s, changed := c.Replace(scope, types.ProvidersCategory, []*types.URL{bar2, foo})
			Expect(changed).To(BeTrue())
			Expect(s.URLs).To(ConsistOf(bar2, foo))
			Expect(c.Lookup(types.MustParseURL("consumer://h/*"))).To(ConsistOf(bar2, foo))
		})

		It("reports no change for the same content", func() {
			scope := types.MustParseURL("consumer://h/BarService")
			c.Replace(scope, types.ProvidersCategory, []*types.URL{bar})
			s, changed := c.Replace(scope, types.ProvidersCategory, []*types.URL{bar})
			Expect(changed).To(BeFalse())
			Expect(s.Revision).To(Equal(uint64(1)))
		})

		It("clears the scope on an empty snapshot", func() {
			scope := types.MustParseURL("consumer://h/BarService?version=*")
			c.Put(bar)
			c.Put(bar2)
			_, changed := c.Replace(scope, types.ProvidersCategory, nil)
			Expect(changed).To(BeTrue())
			Expect(c.Lookup(scope)).To(BeEmpty())
		})

		It("files urls under the category they were delivered for", func() {
			scope := types.MustParseURL("consumer://h/BarService?category=routers")
			bare := types.MustParseURL("route://0.0.0.0/BarService")
			c.Replace(scope, types.RoutersCategory, []*types.URL{bare})
			Expect(c.Lookup(scope)).To(ConsistOf(bare.WithParameter(types.CategoryKey, types.RoutersCategory)))
		})
	})

	It("is safe for concurrent writers of different categories", func() {
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				category := types.DefaultCategories[i%len(types.DefaultCategories)]
				for j := 0; j < 50; j++ {
					u := types.MustParseURL(fmt.Sprintf("dubbo://10.0.%d.%d:20880/BarService?category=%s", i, j, category))
					c.Put(u)
				}
			}(i)
		}
		wg.Wait()
		Expect(c.Lookup(types.MustParseURL("consumer://h/BarService?category=*"))).To(HaveLen(400))
	})
})
