package statusdisplay_test

import (
	"bytes"
	"context"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/aerowinx/frankenrouter/cache"
	"github.com/aerowinx/frankenrouter/protocol"
	"github.com/aerowinx/frankenrouter/statusdisplay"
)

var _ = Describe("statusdisplay.Display", func() {
	It("renders a table on each tick", func() {
		var buf bytes.Buffer
		d := statusdisplay.New(statusdisplay.Options{
			Out:      &buf,
			Interval: 5 * time.Millisecond,
			Snapshot: func() statusdisplay.Snapshot {
				return statusdisplay.Snapshot{
					UpstreamState: "live",
					Clients: []statusdisplay.ClientRow{
						{ID: 1, DisplayName: "N12345", QueueDepth: 3},
					},
				}
			},
		})

		ctx, cancel := context.WithCancel(context.Background())
		go d.Run(ctx)

		Eventually(buf.String).Should(ContainSubstring("upstream: live"))
		Eventually(buf.String).Should(ContainSubstring("N12345"))
		cancel()
	})

	It("logs a compact line for each cache update", func() {
		cat, err := protocol.ParseCatalog(`Qi198="Elev"; Mode=ECON; Min=0; Max=1;`, nil)
		Expect(err).NotTo(HaveOccurred())

		store := cache.NewStore(cat)
		defer store.Close()

		var buf bytes.Buffer
		d := statusdisplay.New(statusdisplay.Options{
			Out:      &buf,
			Interval: time.Hour,
			Store:    store,
		})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go d.Run(ctx)

		Expect(store.Put("Qi198", "1")).To(Succeed())
		Eventually(buf.String).Should(ContainSubstring("Qi198"))
	})
})
