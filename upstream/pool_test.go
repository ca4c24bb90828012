package upstream_test

import (
	"context"
	"errors"
	"net"
	"sync/atomic"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/aerowinx/frankenrouter/upstream"
)

var _ = Describe("upstream.Pool", func() {
	It("skips a failing target and connects Live on the next one", func() {
		var attempts int32
		peers := make(chan net.Conn, 1)

		dial := func(ctx context.Context, address string) (net.Conn, error) {
			n := atomic.AddInt32(&attempts, 1)
			if address == "bad:1" {
				return nil, errors.New("refused")
			}
			_ = n
			server, client := net.Pipe()
			peers <- client
			return server, nil
		}

		p := upstream.NewPool(upstream.Options{Log: zap.NewNop(), Dial: dial}, []upstream.Target{
			{Address: "bad:1"},
			{Address: "good:2"},
		})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go p.Run(ctx)

		Eventually(p.Session().State).Should(Equal(upstream.StateAuthing))
		peer := <-peers
		_, err := peer.Write([]byte("id=hello\r\n"))
		Expect(err).NotTo(HaveOccurred())

		Eventually(p.Session().State).Should(Equal(upstream.StateLive))
		Expect(atomic.LoadInt32(&attempts)).To(BeNumerically(">=", 2))
	})
})
