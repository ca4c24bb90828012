package protocol_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/aerowinx/frankenrouter/protocol"
)

var _ = Describe("Parsing/ FRDP", func() {
	Describe("IsFRDPLine()", func() {
		It("recognises an addon=FRANKENROUTER: line", func() {
			msg := protocol.Parse("addon=FRANKENROUTER:1:PING:abc")
			Expect(protocol.IsFRDPLine(msg)).To(BeTrue())
		})

		It("does not treat an unrelated addon= line as FRDP", func() {
			msg := protocol.Parse("addon=SOMETHINGELSE:1")
			Expect(protocol.IsFRDPLine(msg)).To(BeFalse())
		})

		It("does not treat a signal as an FRDP line", func() {
			msg := protocol.Parse("bang")
			Expect(protocol.IsFRDPLine(msg)).To(BeFalse())
		})
	})

	Describe("ParseFRDP() / FormatFRDP()", func() {
		It("round-trips a PING message", func() {
			kv := protocol.Parse("addon=FRANKENROUTER:1:PING:abc123").(*protocol.KeyValueMessage)
			m, err := protocol.ParseFRDP(kv.Value)
			Expect(err).To(Succeed())
			Expect(m.Type).To(Equal(protocol.FRDPPing))
			Expect(m.Payload).To(Equal("abc123"))

			Expect(protocol.FormatFRDP(m).Line()).To(Equal("addon=FRANKENROUTER:1:PING:abc123"))
		})

		It("rejects a non-FRDP value", func() {
			_, err := protocol.ParseFRDP("SOMETHINGELSE:1:X")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("ParseIdent()", func() {
		It("splits simulator, router and uuid", func() {
			sim, router, uuid, err := protocol.ParseIdent("MAIN:R1:abc-123")
			Expect(err).To(Succeed())
			Expect(sim).To(Equal("MAIN"))
			Expect(router).To(Equal("R1"))
			Expect(uuid).To(Equal("abc-123"))
		})
	})
})
