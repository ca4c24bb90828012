package httpapi_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/aerowinx/frankenrouter/httpapi"
)

type fakeCore struct {
	clients     []httpapi.ClientSummary
	disconnects map[int64]bool
	filters     map[string]bool
	blocklist   []httpapi.BlocklistEntry
	upstream    httpapi.UpstreamView
	setUpstream error
	vpilotMsgs  []string
}

func newFakeCore() *fakeCore {
	return &fakeCore{
		disconnects: map[int64]bool{},
		filters:     map[string]bool{},
	}
}

func (f *fakeCore) Stats() httpapi.Stats { return httpapi.Stats{ClientCount: len(f.clients)} }
func (f *fakeCore) Clients() []httpapi.ClientSummary { return f.clients }
func (f *fakeCore) Disconnect(id int64) bool {
	ok := f.disconnects[id]
	return ok
}
func (f *fakeCore) RouterInfos() map[string]httpapi.RouterInfoView { return map[string]httpapi.RouterInfoView{} }
func (f *fakeCore) SharedInfos() map[string]httpapi.RouterInfoView { return map[string]httpapi.RouterInfoView{} }
func (f *fakeCore) Upstream() httpapi.UpstreamView                { return f.upstream }
func (f *fakeCore) SetUpstream(req httpapi.SetUpstreamRequest) error {
	if f.setUpstream != nil {
		return f.setUpstream
	}
	f.upstream = httpapi.UpstreamView{Host: req.Host, Port: req.Port, State: "connecting"}
	return nil
}
func (f *fakeCore) SetFilter(name string, enabled bool) error {
	f.filters[name] = enabled
	return nil
}
func (f *fakeCore) Blocklist() []httpapi.BlocklistEntry { return f.blocklist }
func (f *fakeCore) AddBlock(entry httpapi.BlocklistEntry) error {
	f.blocklist = append(f.blocklist, entry)
	return nil
}
func (f *fakeCore) RemoveBlock(displayName string) error {
	for i, e := range f.blocklist {
		if e.DisplayName == displayName {
			f.blocklist = append(f.blocklist[:i], f.blocklist[i+1:]...)
			return nil
		}
	}
	return errors.New("not found")
}
func (f *fakeCore) VPilotPrint(message string) error {
	f.vpilotMsgs = append(f.vpilotMsgs, message)
	return nil
}

var _ = Describe("httpapi routes", func() {
	var (
		core   *fakeCore
		engine http.Handler
	)

	BeforeEach(func() {
		core = newFakeCore()
		engine = httpapi.NewEngine(core, zap.NewNop(), true)
	})

	doRequest := func(method, path string, body string) *httptest.ResponseRecorder {
		var reader *strings.Reader
		if body != "" {
			reader = strings.NewReader(body)
		} else {
			reader = strings.NewReader("")
		}
		req := httptest.NewRequest(method, path, reader)
		if body != "" {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, req)
		return rec
	}

	It("returns stats as JSON", func() {
		core.clients = []httpapi.ClientSummary{{ID: 1}}
		rec := doRequest(http.MethodGet, "/api/stats", "")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring(`"client_count":1`))
	})

	It("disconnects a known client and 404s an unknown one", func() {
		core.disconnects[7] = true
		rec := doRequest(http.MethodPost, "/api/disconnect", url.Values{"client_id": {"7"}}.Encode())
		Expect(rec.Code).To(Equal(http.StatusOK))

		rec = doRequest(http.MethodPost, "/api/disconnect", url.Values{"client_id": {"99"}}.Encode())
		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})

	It("sets the upstream target via form POST", func() {
		body := url.Values{"host": {"psx.example"}, "port": {"9000"}}.Encode()
		rec := doRequest(http.MethodPost, "/api/upstream", body)
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("psx.example"))
	})

	It("enables and disables a named filter via GET", func() {
		rec := doRequest(http.MethodGet, "/api/filter/elevation/enable", "")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(core.filters["elevation"]).To(BeTrue())

		rec = doRequest(http.MethodGet, "/api/filter/elevation/disable", "")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(core.filters["elevation"]).To(BeFalse())
	})

	It("rejects an unknown filter action", func() {
		rec := doRequest(http.MethodGet, "/api/filter/elevation/bogus", "")
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("adds and removes blocklist entries", func() {
		body := url.Values{"display_name": {"N12345"}, "match_ipv4": {"1.2.3.4/32"}}.Encode()
		rec := doRequest(http.MethodPost, "/api/blocklist/add", body)
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(core.blocklist).To(HaveLen(1))

		rec = doRequest(http.MethodPost, "/api/blocklist/remove", url.Values{"display_name": {"N12345"}}.Encode())
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(core.blocklist).To(BeEmpty())
	})

	It("forwards a vpilot print message", func() {
		rec := doRequest(http.MethodPost, "/api/vpilotprint/message", url.Values{"message": {"hello"}}.Encode())
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(core.vpilotMsgs).To(ConsistOf("hello"))
	})
})
