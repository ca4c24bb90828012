package router_test

import (
	"bufio"
	"context"
	"net"
	"regexp"
	"strconv"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/aerowinx/frankenrouter/access"
	"github.com/aerowinx/frankenrouter/cache"
	"github.com/aerowinx/frankenrouter/httpapi"
	"github.com/aerowinx/frankenrouter/protocol"
	"github.com/aerowinx/frankenrouter/router"
	"github.com/aerowinx/frankenrouter/rules"
	"github.com/aerowinx/frankenrouter/upstream"
)

func pipeDialer(other *net.Conn) func(ctx context.Context, address string) (net.Conn, error) {
	return func(ctx context.Context, address string) (net.Conn, error) {
		serverSide, clientSide := net.Pipe()
		*other = clientSide
		return serverSide, nil
	}
}

const testCatalog = `[Group]
Qs118="version"; Mode=ECON;
Qs198="layout"; Mode=ECON;
Qi198="gear pin"; Mode=ECON;
Qh001="airborne"; Mode=START;
`

func newTestRouter(upstreamPeer *net.Conn) (*router.Router, context.Context, context.CancelFunc) {
	cat, err := protocol.ParseCatalog(testCatalog, []string{})
	Expect(err).NotTo(HaveOccurred())

	store := cache.NewStore(cat)
	allowAll := &access.Rule{DisplayName: "everyone", MatchIPv4: []string{"ANY"}, Level: access.LevelFull}

	r, err := router.New(router.Options{
		Log:          zap.NewNop(),
		Catalog:      cat,
		Cache:        store,
		Identity:     router.Identity{RouterName: "test-router", Simulator: "test-sim"},
		AccessRules:  []*access.Rule{allowAll},
		Filters:      rules.Filters{},
		Upstreams:    []upstream.Target{{Address: "psx.example:9000"}},
		WelcomeWait:  30 * time.Millisecond,
		UpstreamDial: pipeDialer(upstreamPeer),
	})
	Expect(err).NotTo(HaveOccurred())

	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	return r, ctx, cancel
}

var _ = Describe("router.Router", func() {
	It("welcomes a client and forwards traffic between it and the upstream", func() {
		var upstreamPeer net.Conn
		r, _, cancel := newTestRouter(&upstreamPeer)
		defer cancel()

		Eventually(func() net.Conn { return upstreamPeer }, time.Second).ShouldNot(BeNil())

		_, err := upstreamPeer.Write([]byte("id=1\r\n"))
		Expect(err).NotTo(HaveOccurred())
		Eventually(func() string { return r.Stats().UpstreamState }).Should(Equal("live"))

		serverConn, clientConn := net.Pipe()
		c := r.AcceptClient(serverConn)
		go c.Start()

		_, err = clientConn.Write([]byte("name=N12345:Test Pilot\r\n"))
		Expect(err).NotTo(HaveOccurred())

		clientReader := bufio.NewReader(clientConn)

		line, err := clientReader.ReadString('\n')
		Expect(err).NotTo(HaveOccurred())
		Expect(line).To(Equal("id=" + strconv.FormatInt(c.ID, 10) + "\r\n"))

		line, err = clientReader.ReadString('\n')
		Expect(err).NotTo(HaveOccurred())
		Expect(line).To(Equal("load1\r\n"))

		upstreamReader := bufio.NewReader(upstreamPeer)
		line, err = upstreamReader.ReadString('\n')
		Expect(err).NotTo(HaveOccurred())
		Expect(line).To(Equal("start\r\n"))

		line, err = clientReader.ReadString('\n')
		Expect(err).NotTo(HaveOccurred())
		Expect(line).To(Equal("load2\r\n"))
		line, err = clientReader.ReadString('\n')
		Expect(err).NotTo(HaveOccurred())
		Expect(line).To(Equal("load3\r\n"))

		_, err = upstreamPeer.Write([]byte("Qi198=1\r\n"))
		Expect(err).NotTo(HaveOccurred())
		Eventually(func() string {
			line, _ := clientReader.ReadString('\n')
			return line
		}).Should(Equal("Qi198=1\r\n"))
	})

	It("adds and removes runtime blocklist entries", func() {
		var upstreamPeer net.Conn
		r, _, cancel := newTestRouter(&upstreamPeer)
		defer cancel()

		Expect(r.AddBlock(httpapi.BlocklistEntry{DisplayName: "abuser", MatchIPv4: "1.2.3.4/32"})).To(Succeed())
		Expect(r.Blocklist()).To(HaveLen(1))
		Expect(r.RemoveBlock("abuser")).To(Succeed())
		Expect(r.Blocklist()).To(BeEmpty())
	})

	It("toggles filters through the httpapi.Core surface", func() {
		var upstreamPeer net.Conn
		r, _, cancel := newTestRouter(&upstreamPeer)
		defer cancel()

		Expect(r.SetFilter("elevation", true)).To(Succeed())
		Expect(r.SetFilter("bogus", true)).To(HaveOccurred())
	})

	It("records a demand= keyword against the sender and never fans it out", func() {
		var upstreamPeer net.Conn
		r, _, cancel := newTestRouter(&upstreamPeer)
		defer cancel()

		Eventually(func() net.Conn { return upstreamPeer }, time.Second).ShouldNot(BeNil())

		_, err := upstreamPeer.Write([]byte("id=1\r\n"))
		Expect(err).NotTo(HaveOccurred())
		Eventually(func() string { return r.Stats().UpstreamState }).Should(Equal("live"))

		serverConn, clientConn := net.Pipe()
		c := r.AcceptClient(serverConn)
		go c.Start()

		upstreamReader := bufio.NewReader(upstreamPeer)

		_, err = clientConn.Write([]byte("demand=Qi198\r\n"))
		Expect(err).NotTo(HaveOccurred())

		line, err := upstreamReader.ReadString('\n') // "start", from the welcome this first line triggers
		Expect(err).NotTo(HaveOccurred())
		Expect(line).To(Equal("start\r\n"))

		Eventually(func() string {
			line, _ := upstreamReader.ReadString('\n')
			return line
		}).Should(Equal("demand=Qi198\r\n"))

		Eventually(func() bool {
			return c.Demanded["Qi198"]
		}).Should(BeTrue())
	})

	It("withholds a nolong keyword from a client that toggled nolong on", func() {
		cat, err := protocol.ParseCatalog(testCatalog, []string{"Qi198"})
		Expect(err).NotTo(HaveOccurred())
		store := cache.NewStore(cat)
		allowAll := &access.Rule{DisplayName: "everyone", MatchIPv4: []string{"ANY"}, Level: access.LevelFull}

		var upstreamPeer net.Conn
		r, err := router.New(router.Options{
			Log:          zap.NewNop(),
			Catalog:      cat,
			Cache:        store,
			Identity:     router.Identity{RouterName: "test-router", Simulator: "test-sim"},
			AccessRules:  []*access.Rule{allowAll},
			WelcomeWait:  30 * time.Millisecond,
			Upstreams:    []upstream.Target{{Address: "psx.example:9000"}},
			UpstreamDial: pipeDialer(&upstreamPeer),
		})
		Expect(err).NotTo(HaveOccurred())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go r.Run(ctx)

		Eventually(func() net.Conn { return upstreamPeer }, time.Second).ShouldNot(BeNil())

		_, err = upstreamPeer.Write([]byte("id=1\r\n"))
		Expect(err).NotTo(HaveOccurred())
		Eventually(func() string { return r.Stats().UpstreamState }).Should(Equal("live"))

		nolongServer, nolongClient := net.Pipe()
		nc := r.AcceptClient(nolongServer)
		go nc.Start()
		nolongReader := bufio.NewReader(nolongClient)

		_, err = nolongClient.Write([]byte("name=1:Watcher\r\n"))
		Expect(err).NotTo(HaveOccurred())
		_, err = nolongReader.ReadString('\n') // id=

		Expect(err).NotTo(HaveOccurred())
		Eventually(func() string { line, _ := nolongReader.ReadString('\n'); return line }).Should(Equal("load1\r\n"))
		Eventually(func() string { line, _ := nolongReader.ReadString('\n'); return line }).Should(Equal("load2\r\n"))
		Eventually(func() string { line, _ := nolongReader.ReadString('\n'); return line }).Should(Equal("load3\r\n"))

		_, err = nolongClient.Write([]byte("nolong\r\n"))
		Expect(err).NotTo(HaveOccurred())

		Eventually(func() bool { return nc.Nolong }).Should(BeTrue())

		_, err = upstreamPeer.Write([]byte("Qi198=1\r\n"))
		Expect(err).NotTo(HaveOccurred())

		Consistently(func() bool {
			nolongClient.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
			buf := make([]byte, 32)
			n, _ := nolongClient.Read(buf)
			return n > 0
		}, 150*time.Millisecond).Should(BeFalse())
	})

	It("increments the elevation filter counter reported by Stats", func() {
		cat, err := protocol.ParseCatalog(testCatalog, []string{})
		Expect(err).NotTo(HaveOccurred())
		store := cache.NewStore(cat)
		allowAll := &access.Rule{DisplayName: "everyone", MatchIPv4: []string{"ANY"}, Level: access.LevelFull}

		var upstreamPeer net.Conn
		r, err := router.New(router.Options{
			Log:          zap.NewNop(),
			Catalog:      cat,
			Cache:        store,
			Identity:     router.Identity{RouterName: "test-router", Simulator: "test-sim"},
			AccessRules:  []*access.Rule{allowAll},
			Filters:      rules.Filters{Elevation: true},
			Upstreams:    []upstream.Target{{Address: "psx.example:9000"}},
			WelcomeWait:  30 * time.Millisecond,
			UpstreamDial: pipeDialer(&upstreamPeer),
		})
		Expect(err).NotTo(HaveOccurred())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go r.Run(ctx)

		Eventually(func() net.Conn { return upstreamPeer }, time.Second).ShouldNot(BeNil())

		_, err = upstreamPeer.Write([]byte("Qi198=1\r\n"))
		Expect(err).NotTo(HaveOccurred())

		Eventually(func() int64 {
			return r.Stats().FilteredElevation
		}).Should(BeNumerically(">=", 1))
	})

	It("logs a warning when a [[check]] rule's match count falls outside its band", func() {
		cat, err := protocol.ParseCatalog(testCatalog, []string{})
		Expect(err).NotTo(HaveOccurred())
		store := cache.NewStore(cat)
		allowAll := &access.Rule{DisplayName: "everyone", MatchIPv4: []string{"ANY"}, Level: access.LevelFull}

		core, logs := observer.New(zap.WarnLevel)

		var upstreamPeer net.Conn
		r, err := router.New(router.Options{
			Log:          zap.New(core),
			Catalog:      cat,
			Cache:        store,
			Identity:     router.Identity{RouterName: "test-router", Simulator: "test-sim"},
			AccessRules:  []*access.Rule{allowAll},
			WelcomeWait:  30 * time.Millisecond,
			Upstreams:    []upstream.Target{{Address: "psx.example:9000"}},
			UpstreamDial: pipeDialer(&upstreamPeer),
			Checks: []router.CheckRule{
				{Type: "name_regexp", Pattern: regexp.MustCompile("Nobody"), LimitMin: 1, LimitMax: 1, Comment: "there should be exactly one Nobody"},
			},
		})
		Expect(err).NotTo(HaveOccurred())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go r.Run(ctx)

		serverConn, clientConn := net.Pipe()
		c := r.AcceptClient(serverConn)
		go c.Start()

		_, err = clientConn.Write([]byte("name=1:SomeoneElse\r\n"))
		Expect(err).NotTo(HaveOccurred())

		Eventually(func() int {
			return logs.FilterMessage("connection sanity check below minimum").Len()
		}).Should(BeNumerically(">=", 1))
	})
})
