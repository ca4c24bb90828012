package protocol_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/aerowinx/frankenrouter/protocol"
)

var _ = Describe("Parsing/ Catalog", func() {
	const sample = `
[Aerowinx Precision Simulator - Variables]
[Qs Types (strings)]
Qs0="CfgRego"; Mode=ECON; Min=0; Max=8;
Qs468="FansDnResp"; Mode=DELTA; Min=0; Max=500;
Qs493="DestRwy"; Mode=START; Min=0; Max=3;
Qs411="CduRteCa"; Mode=ECON; Min=15; Max=50000;
`

	Describe("ParseCatalog()", func() {
		It("parses keyword records and preserves declared order", func() {
			cat, err := protocol.ParseCatalog(sample, nil)
			Expect(err).To(Succeed())
			Expect(cat.KeywordOrder()).To(Equal([]string{"Qs0", "Qs468", "Qs493", "Qs411"}))
		})

		It("projects catalogue modes onto the six-mode forwarding model", func() {
			cat, _ := protocol.ParseCatalog(sample, nil)
			Expect(cat.ModeOf("Qs0")).To(Equal(protocol.ModeECON))
			Expect(cat.ModeOf("Qs468")).To(Equal(protocol.ModeDelta))
			Expect(cat.ModeOf("Qs493")).To(Equal(protocol.ModeStart))
		})

		It("defaults unknown keywords to ECON", func() {
			cat, _ := protocol.ParseCatalog(sample, nil)
			Expect(cat.ModeOf("Qi999")).To(Equal(protocol.ModeECON))
		})

		It("marks the fixed nolong keyword set", func() {
			cat, _ := protocol.ParseCatalog(sample, nil)
			Expect(cat.IsNolong("Qs411")).To(BeTrue())
			Expect(cat.IsNolong("Qs0")).To(BeFalse())
		})

		It("honors an overridden nolong keyword list", func() {
			cat, _ := protocol.ParseCatalog(sample, []string{"Qs0"})
			Expect(cat.IsNolong("Qs0")).To(BeTrue())
			Expect(cat.IsNolong("Qs411")).To(BeFalse())
		})

		It("rejects a duplicate keyword", func() {
			_, err := protocol.ParseCatalog(`Qs1="A"; Mode=ECON; Min=0; Max=1;
Qs1="B"; Mode=ECON; Min=0; Max=1;`, nil)
			Expect(err).To(HaveOccurred())
		})

		It("rejects an entry missing Mode", func() {
			_, err := protocol.ParseCatalog(`Qs1="A"; Min=0; Max=1;`, nil)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("IsPSXKeyword()", func() {
		It("accepts Q-prefixed and L-prefixed keywords", func() {
			Expect(protocol.IsPSXKeyword("Qi198")).To(BeTrue())
			Expect(protocol.IsPSXKeyword("Lh1")).To(BeTrue())
		})

		It("accepts the fixed bare-signal allow-list, including keepalive", func() {
			Expect(protocol.IsPSXKeyword("demand")).To(BeTrue())
			Expect(protocol.IsPSXKeyword("keepalive")).To(BeTrue())
		})

		It("rejects unrecognised tokens", func() {
			Expect(protocol.IsPSXKeyword("Gurka")).To(BeFalse())
		})
	})

	Describe("NaturalSort()", func() {
		It("sorts keywords numerically rather than lexically", func() {
			sorted := protocol.NaturalSort([]string{"Qs1", "Qs100", "Qs999", "Qs42"})
			Expect(sorted).To(Equal([]string{"Qs1", "Qs42", "Qs100", "Qs999"}))
		})
	})
})
