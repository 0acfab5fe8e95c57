package types

import (
	. "github.com/onsi/ginkgo"
	"github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
)

var _ = Describe("IsMatch", func() {
	provider := MustParseURL("dubbo://10.20.153.10:20880/BarService?version=1.0.0&group=g1&application=kylin")
	router := MustParseURL("route://0.0.0.0/BarService?category=routers&version=1.0.0")

	table.DescribeTable("matching a provider",
		func(query string, expected bool) {
			Expect(IsMatch(MustParseURL(query), provider)).To(Equal(expected))
		},
		table.Entry("same interface", "consumer://10.0.0.1/BarService", true),
		table.Entry("other interface", "consumer://10.0.0.1/FooService", false),
		table.Entry("wildcard interface", "consumer://10.0.0.1/*", true),
		table.Entry("interface parameter wins", "consumer://10.0.0.1/x?interface=BarService", true),
		table.Entry("wildcard version", "consumer://10.0.0.1/BarService?version=*", true),
		table.Entry("exact version", "consumer://10.0.0.1/BarService?version=1.0.0", true),
		table.Entry("other version", "consumer://10.0.0.1/BarService?version=2.0.0", false),
		table.Entry("other group", "consumer://10.0.0.1/BarService?group=g2", false),
		table.Entry("classifier required", "consumer://10.0.0.1/BarService?classifier=c", false),
		table.Entry("other parameters ignored", "consumer://10.0.0.1/BarService?application=other&timeout=1", true),
		table.Entry("routers only", "consumer://10.0.0.1/BarService?category=routers", false),
		table.Entry("category list", "consumer://10.0.0.1/BarService?category=routers,providers", true),
		table.Entry("any category", "consumer://10.0.0.1/BarService?category=*", true),
		table.Entry("everything", "consumer://10.0.0.1/*?interface=*&group=*&version=*&classifier=*&category=*", true),
	)

	It("matches a candidate without a version against a wildcard", func() {
		bare := MustParseURL("dubbo://10.20.153.11:20880/BarService")
		Expect(IsMatch(MustParseURL("consumer://10.0.0.1/BarService?version=*"), bare)).To(BeTrue())
		Expect(IsMatch(MustParseURL("consumer://10.0.0.1/BarService?version=1.0.0"), bare)).To(BeFalse())
	})

	It("matches routers only when they are asked for", func() {
		Expect(IsMatch(MustParseURL("consumer://10.0.0.1/BarService"), router)).To(BeFalse())
		Expect(IsMatch(MustParseURL("consumer://10.0.0.1/BarService?category=providers,routers"), router)).To(BeTrue())
	})

	It("does not match nil", func() {
		Expect(IsMatch(nil, provider)).To(BeFalse())
		Expect(IsMatch(provider, nil)).To(BeFalse())
	})

	It("detects a wildcard category", func() {
		Expect(IsWildcardCategory(MustParseURL("consumer://h/BarService?category=routers,*"))).To(BeTrue())
		Expect(IsWildcardCategory(MustParseURL("consumer://h/BarService"))).To(BeFalse())
	})
})
