package proxy

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/elazarl/goproxy"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-adblock/pkg/domain"
	"github.com/polisai/polis-adblock/pkg/engine"
	"github.com/polisai/polis-adblock/pkg/policy/route"
	"github.com/polisai/polis-adblock/pkg/policy/sanitize"
	"github.com/polisai/polis-adblock/pkg/stats"
)

func localRules(t *testing.T) *route.Registry {
	t.Helper()
	rs, err := route.Compile([]route.App{{
		ID:         "local",
		Signatures: []string{"127.0.0.1"},
		Routes: []route.Route{{
			Key:      "local.splash",
			Patterns: []string{"functionId=queryMaterialAdverts"},
			Strategy: domain.StrategyClearFields,
			Counter:  route.CounterSplash,
			Targets: []sanitize.Target{{
				Path:   []string{"data"},
				Fields: []sanitize.FieldOp{{Key: "ads", Action: sanitize.ActionEmptyArray}},
			}},
		}},
	}})
	require.NoError(t, err)
	return route.NewRegistry(rs)
}

func newTestProxy(t *testing.T, opts Options) (*Proxy, *stats.Metrics) {
	t.Helper()
	e, err := engine.New(engine.Options{Rules: localRules(t)})
	require.NoError(t, err)
	m := stats.NewMetrics()
	opts.Engine = e
	opts.Metrics = m
	p, err := New(opts)
	require.NoError(t, err)
	return p, m
}

func TestNew_RequiresEngine(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestProxy_RewritesThroughHTTPProxy(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("ETag", `"abc"`)
		_, _ = io.WriteString(w, `{"data":{"ads":[{"id":1}],"other":"x"}}`)
	}))
	defer upstream.Close()

	p, metrics := newTestProxy(t, Options{Capture: true})
	proxySrv := httptest.NewServer(p)
	defer proxySrv.Close()

	proxyURL, err := url.Parse(proxySrv.URL)
	require.NoError(t, err)
	client := &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)}}

	resp, err := client.Get(upstream.URL + "/client.action?functionId=queryMaterialAdverts")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"data":{"ads":[],"other":"x"}}`, string(body))
	assert.Empty(t, resp.Header.Get("ETag"))

	count, err := testutil.GatherAndCount(metrics.Registry(), "adblock_rewrites_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestProxy_UnmatchedUntouched(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":{"ads":[1]}}`)
	}))
	defer upstream.Close()

	p, _ := newTestProxy(t, Options{})
	proxySrv := httptest.NewServer(p)
	defer proxySrv.Close()

	proxyURL, _ := url.Parse(proxySrv.URL)
	client := &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)}}

	resp, err := client.Get(upstream.URL + "/news")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, `{"data":{"ads":[1]}}`, string(body))
}

func responseFor(t *testing.T, rawURL, body string) (*http.Response, *goproxy.ProxyCtx) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, rawURL, nil)
	resp := &http.Response{
		StatusCode:    http.StatusOK,
		Header:        http.Header{},
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
	return resp, &goproxy.ProxyCtx{Req: req}
}

func TestHandleResponse_SkipsEncodedBodies(t *testing.T) {
	p, _ := newTestProxy(t, Options{})
	resp, ctx := responseFor(t, "http://127.0.0.1/x?functionId=queryMaterialAdverts", `{"data":{"ads":[1]}}`)
	resp.Header.Set("Content-Encoding", "gzip")

	out := p.handleResponse(resp, ctx)
	body, _ := io.ReadAll(out.Body)
	assert.Equal(t, `{"data":{"ads":[1]}}`, string(body))
}

func TestHandleResponse_OversizedBodyStreamsThrough(t *testing.T) {
	p, _ := newTestProxy(t, Options{MaxBodyBytes: 8})
	original := `{"data":{"ads":[1,2,3]}}`
	resp, ctx := responseFor(t, "http://127.0.0.1/x?functionId=queryMaterialAdverts", original)

	out := p.handleResponse(resp, ctx)
	body, _ := io.ReadAll(out.Body)
	assert.Equal(t, original, string(body))
}

func TestHandleResponse_WithoutRequestState(t *testing.T) {
	p, _ := newTestProxy(t, Options{})
	resp, ctx := responseFor(t, "http://127.0.0.1/x?functionId=queryMaterialAdverts", `{"data":{"ads":[1]}}`)

	out := p.handleResponse(resp, ctx)
	body, _ := io.ReadAll(out.Body)
	assert.Equal(t, `{"data":{"ads":[]}}`, string(body))
	assert.Equal(t, int64(len(body)), out.ContentLength)

	assert.Nil(t, p.handleResponse(nil, ctx))
}

func TestHandleRequest_PreservesBody(t *testing.T) {
	p, metrics := newTestProxy(t, Options{Capture: true})
	payload := `{"functionId":"start"}`
	req := httptest.NewRequest(http.MethodPost, "https://api.m.jd.com/client.action?functionId=start", bytes.NewBufferString(payload))
	ctx := &goproxy.ProxyCtx{Req: req, Session: 7}

	out, resp := p.handleRequest(req, ctx)
	require.Nil(t, resp)

	body, _ := io.ReadAll(out.Body)
	assert.Equal(t, payload, string(body))

	state, ok := ctx.UserData.(*exchangeState)
	require.True(t, ok)
	assert.Equal(t, "7", state.id)
	assert.Equal(t, payload, string(state.requestBody))
	count, err := testutil.GatherAndCount(metrics.Registry(), "adblock_verdicts_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestShouldIntercept(t *testing.T) {
	p, _ := newTestProxy(t, Options{MITMHosts: []string{"jd.com", " Goofish.com "}})

	assert.True(t, p.ShouldIntercept("api.m.jd.com:443"))
	assert.True(t, p.ShouldIntercept("jd.com:443"))
	assert.True(t, p.ShouldIntercept("ACS.M.GOOFISH.COM"))
	assert.False(t, p.ShouldIntercept("notjd.com:443"))
	assert.False(t, p.ShouldIntercept("example.org:443"))

	all, _ := newTestProxy(t, Options{})
	assert.True(t, all.ShouldIntercept("example.org:443"))
}
