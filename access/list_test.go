package access_test

import (
	"net"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/aerowinx/frankenrouter/access"
)

var _ = Describe("access / List", func() {
	It("blocks a client with no matching rule", func() {
		list, err := access.NewList(nil)
		Expect(err).To(Succeed())

		level, _ := list.Evaluate(net.ParseIP("10.0.0.1"), "", false)
		Expect(level).To(Equal(access.LevelBlocked))
	})

	It("requires the FRDP AUTH password to have already been seen", func() {
		list, err := access.NewList([]*access.Rule{
			{
				DisplayName:   "local",
				MatchIPv4:     []string{"127.0.0.1/32"},
				MatchPassword: "s3cret",
				Level:         access.LevelFull,
			},
		})
		Expect(err).To(Succeed())

		level, _ := list.Evaluate(net.ParseIP("127.0.0.1"), "", false)
		Expect(level).To(Equal(access.LevelBlocked))

		level, _ = list.Evaluate(net.ParseIP("127.0.0.1"), "s3cret", true)
		Expect(level).To(Equal(access.LevelFull))
	})

	It("matches ANY as both IPv4 and IPv6 wildcard", func() {
		list, err := access.NewList([]*access.Rule{
			{DisplayName: "any", MatchIPv4: []string{"ANY"}, Level: access.LevelObserver},
		})
		Expect(err).To(Succeed())

		level, _ := list.Evaluate(net.ParseIP("8.8.8.8"), "", false)
		Expect(level).To(Equal(access.LevelObserver))
	})

	It("evaluates rules in order, first match wins", func() {
		list, err := access.NewList([]*access.Rule{
			{DisplayName: "block-all", MatchIPv4: []string{"ANY"}, Level: access.LevelBlocked},
			{DisplayName: "local-full", MatchIPv4: []string{"127.0.0.1/32"}, Level: access.LevelFull},
		})
		Expect(err).To(Succeed())

		level, name := list.Evaluate(net.ParseIP("127.0.0.1"), "", false)
		Expect(level).To(Equal(access.LevelBlocked))
		Expect(name).To(Equal("block-all"))
	})

	It("fails to compile an invalid CIDR", func() {
		_, err := access.NewList([]*access.Rule{
			{DisplayName: "bad", MatchIPv4: []string{"not-a-cidr"}, Level: access.LevelFull},
		})
		Expect(err).To(HaveOccurred())
	})
})
