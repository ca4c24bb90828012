package cache_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/aerowinx/frankenrouter/cache"
	"github.com/aerowinx/frankenrouter/protocol"
)

var _ = Describe("cache / Store", func() {
	const catalogData = `
Qs0="Name"; Mode=ECON; Min=0; Max=8;
Qs468="Pulse"; Mode=DELTA; Min=0; Max=500;
Qs493="DestRwy"; Mode=START; Min=0; Max=3;
`

	newCatalog := func() *protocol.Catalog {
		cat, err := protocol.ParseCatalog(catalogData, nil)
		Expect(err).To(Succeed())
		return cat
	}

	It("refuses to cache a pure-DELTA keyword", func() {
		store := cache.NewStore(newCatalog())
		err := store.Put("Qs468", "1")
		Expect(err).To(MatchError(cache.ErrPureDelta))

		_, ok := store.Get("Qs468")
		Expect(ok).To(BeFalse())
	})

	It("caches and retrieves an ECON keyword", func() {
		store := cache.NewStore(newCatalog())
		Expect(store.Put("Qs0", "hello")).To(Succeed())

		value, ok := store.Get("Qs0")
		Expect(ok).To(BeTrue())
		Expect(value).To(Equal("hello"))
	})

	It("snapshots in catalogue-declared order, excluding pure-DELTA", func() {
		store := cache.NewStore(newCatalog())
		Expect(store.Put("Qs493", "3")).To(Succeed())
		Expect(store.Put("Qs0", "hello")).To(Succeed())

		snap := store.Snapshot()
		Expect(snap).To(HaveLen(2))
		Expect(snap[0].Keyword).To(Equal("Qs0"))
		Expect(snap[1].Keyword).To(Equal("Qs493"))
	})

	It("delivers updates to subscribers", func() {
		store := cache.NewStore(newCatalog())
		defer store.Close()

		updates := store.ListenToUpdates()
		Expect(store.Put("Qs0", "hello")).To(Succeed())

		update := <-updates
		Expect(update.Keyword).To(Equal("Qs0"))
		Expect(update.Value).To(Equal("hello"))
	})

	It("round-trips through Backup/Restore", func() {
		store := cache.NewStore(newCatalog())
		Expect(store.Put("Qs0", "hello")).To(Succeed())

		blob, err := store.Backup()
		Expect(err).To(Succeed())

		restored := cache.NewStore(newCatalog())
		Expect(restored.Restore(blob)).To(Succeed())

		value, ok := restored.Get("Qs0")
		Expect(ok).To(BeTrue())
		Expect(value).To(Equal("hello"))
	})

	It("does not panic when closed twice", func() {
		store := cache.NewStore(newCatalog())
		Expect(func() { store.Close() }).NotTo(Panic())
		Expect(func() { store.Close() }).NotTo(Panic())
	})
})
