package protocol_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/aerowinx/frankenrouter/protocol"
)

var _ = Describe("Parsing/ Message", func() {
	Describe("Parse()", func() {
		It("returns nil for an empty line", func() {
			Expect(protocol.Parse("")).To(BeNil())
		})

		It("parses a bare token as a signal", func() {
			msg := protocol.Parse("bang")
			sig, ok := msg.(*protocol.SignalMessage)
			Expect(ok).To(BeTrue())
			Expect(sig.Name).To(Equal("bang"))
			Expect(sig.Line()).To(Equal("bang"))
		})

		It("parses key=value as a KeyValueMessage", func() {
			msg := protocol.Parse("Qi198=123")
			kv, ok := msg.(*protocol.KeyValueMessage)
			Expect(ok).To(BeTrue())
			Expect(kv.Key).To(Equal("Qi198"))
			Expect(kv.Value).To(Equal("123"))
			Expect(kv.Line()).To(Equal("Qi198=123"))
		})

		It("treats everything after the first '=' as the value", func() {
			msg := protocol.Parse("name=42:VPLG:Client")
			kv := msg.(*protocol.KeyValueMessage)
			Expect(kv.Key).To(Equal("name"))
			Expect(kv.Value).To(Equal("42:VPLG:Client"))
		})
	})
})
