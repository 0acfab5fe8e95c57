package types

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
)

var _ = Describe("URL", func() {
	Context("parsing", func() {
		It("keeps every part of a dubbo url", func() {
			u, err := ParseURL("dubbo://10.20.153.10:20880/org.apache.dubbo.foo.BarService?version=1.0.0&application=kylin")
			Expect(err).NotTo(HaveOccurred())
			Expect(u.Protocol()).To(Equal("dubbo"))
			Expect(u.Address()).To(Equal("10.20.153.10:20880"))
			Expect(u.Host()).To(Equal("10.20.153.10"))
			Expect(u.Port()).To(Equal("20880"))
			Expect(u.Path()).To(Equal("org.apache.dubbo.foo.BarService"))
			Expect(u.Version()).To(Equal("1.0.0"))
			Expect(u.Parameter(ApplicationKey)).To(Equal("kylin"))
		})

		It("rejects an empty url", func() {
			_, err := ParseURL("  ")
			Expect(errors.Is(err, ErrInvalidArgument)).To(BeTrue())
		})

		It("decodes what it encodes", func() {
			u := MustParseURL("dubbo://127.0.0.1:20880/BarService?version=1.0.0&dynamic=false")
			d, err := DecodeURL(u.Encode())
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Equal(u)).To(BeTrue())
		})
	})

	Context("identity", func() {
		It("does not depend on the parameter order", func() {
			a := MustParseURL("dubbo://127.0.0.1:20880/BarService?version=1.0.0&group=g1")
			b := MustParseURL("dubbo://127.0.0.1:20880/BarService?group=g1&version=1.0.0")
			Expect(a.Equal(b)).To(BeTrue())
			Expect(a.Key()).To(Equal(b.Key()))
		})

		It("tells apart urls which only differ in parameters", func() {
			a := MustParseURL("dubbo://127.0.0.1:20880/BarService?version=1.0.0")
			b := MustParseURL("dubbo://127.0.0.1:20880/BarService?version=1.0.0&weight=100")
			Expect(a.Equal(b)).To(BeFalse())
		})

		It("treats the dynamic flag as part of the identity", func() {
			a := MustParseURL("dubbo://127.0.0.1:20880/BarService?dynamic=true")
			b := a.WithParameter(DynamicKey, "false")
			Expect(a.Equal(b)).To(BeFalse())
			Expect(a.IsDynamic()).To(BeTrue())
			Expect(b.IsDynamic()).To(BeFalse())
		})
	})

	Context("immutability", func() {
		It("copies parameters on construction and on access", func() {
			params := map[string]string{VersionKey: "1.0.0"}
			u := NewURL("dubbo", "127.0.0.1:20880", "BarService", params)
			params[VersionKey] = "2.0.0"
			u.Parameters()[VersionKey] = "3.0.0"
			Expect(u.Version()).To(Equal("1.0.0"))
		})

		It("returns a new url from WithParameter", func() {
			u := MustParseURL("dubbo://127.0.0.1:20880/BarService")
			v := u.WithParameter(CategoryKey, RoutersCategory)
			Expect(u.Category()).To(Equal(ProvidersCategory))
			Expect(v.Category()).To(Equal(RoutersCategory))
		})
	})

	Context("defaults", func() {
		It("is dynamic, checked and a provider unless told otherwise", func() {
			u := MustParseURL("dubbo://127.0.0.1:20880/BarService")
			Expect(u.IsDynamic()).To(BeTrue())
			Expect(u.IsCheck()).To(BeTrue())
			Expect(u.Category()).To(Equal(ProvidersCategory))
			Expect(u.ServiceInterface()).To(Equal("BarService"))
		})

		It("prefers the interface parameter over the path", func() {
			u := MustParseURL("consumer://127.0.0.1/anything?interface=BarService&group=g&version=1.0")
			Expect(u.ServiceInterface()).To(Equal("BarService"))
			Expect(u.ServiceKey()).To(Equal("g/BarService:1.0"))
		})

		It("reports nil and blank urls as empty", func() {
			var u *URL
			Expect(u.IsEmpty()).To(BeTrue())
			Expect(NewURL("", "", "", nil).IsEmpty()).To(BeTrue())
			Expect(MustParseURL("dubbo://127.0.0.1/BarService").IsEmpty()).To(BeFalse())
		})
	})

	It("wraps connector errors so that they can be classified", func() {
		err := ConnectorError(errors.New("connection refused"), "register %s", "BarService")
		Expect(errors.Is(err, ErrConnector)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("connection refused"))
		Expect(ConnectorError(nil, "noop")).To(BeNil())
	})
})
