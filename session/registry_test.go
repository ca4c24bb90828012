package session_test

import (
	"net"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/aerowinx/frankenrouter/session"
)

var _ = Describe("session.Registry", func() {
	var reg *session.Registry

	BeforeEach(func() {
		reg = session.NewRegistry()
	})

	It("mints strictly increasing ids starting at 1", func() {
		Expect(reg.NextID()).To(Equal(int64(1)))
		Expect(reg.NextID()).To(Equal(int64(2)))
		Expect(reg.NextID()).To(Equal(int64(3)))
	})

	It("tracks add/remove/get/len", func() {
		server, client := net.Pipe()
		defer client.Close()
		c := session.NewClient(reg.NextID(), session.Options{Conn: server, Log: zap.NewNop()})

		reg.Add(c)
		Expect(reg.Len()).To(Equal(1))

		got, ok := reg.Get(c.ID)
		Expect(ok).To(BeTrue())
		Expect(got).To(BeIdenticalTo(c))

		reg.Remove(c.ID)
		Expect(reg.Len()).To(Equal(0))
		_, ok = reg.Get(c.ID)
		Expect(ok).To(BeFalse())
	})

	It("broadcasts to every client matched by include, excluding others", func() {
		s1, cl1 := net.Pipe()
		s2, cl2 := net.Pipe()
		defer cl1.Close()
		defer cl2.Close()

		c1 := session.NewClient(reg.NextID(), session.Options{Conn: s1, Log: zap.NewNop()})
		c2 := session.NewClient(reg.NextID(), session.Options{Conn: s2, Log: zap.NewNop()})
		reg.Add(c1)
		reg.Add(c2)

		reg.Broadcast("hello=1", func(c *session.Client) bool {
			return c.ID != c1.ID
		})

		l1, _ := c1.QueueDepth()
		l2, _ := c2.QueueDepth()
		Expect(l1).To(Equal(0))
		Expect(l2).To(Equal(1))
	})

	It("closes every registered client", func() {
		s1, cl1 := net.Pipe()
		defer cl1.Close()
		c1 := session.NewClient(reg.NextID(), session.Options{Conn: s1, Log: zap.NewNop()})
		reg.Add(c1)

		Expect(reg.CloseAll()).To(Succeed())
		Expect(c1.State()).To(Equal(session.StateClosed))
	})
})
