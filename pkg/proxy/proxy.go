package proxy

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/elazarl/goproxy"

	"github.com/polisai/polis-adblock/pkg/domain"
	"github.com/polisai/polis-adblock/pkg/engine"
	"github.com/polisai/polis-adblock/pkg/logging"
	"github.com/polisai/polis-adblock/pkg/stats"
)

const defaultMaxBody = 8 << 20

// Options configure the proxy.
type Options struct {
	Engine  *engine.Engine
	Metrics *stats.Metrics
	// MITMHosts are host suffixes to intercept. Empty intercepts every host.
	MITMHosts []string
	// CA signs intercepted certificates. Nil uses the goproxy CA.
	CA *tls.Certificate
	// MaxBodyBytes bounds buffered bodies; larger bodies stream through untouched.
	MaxBodyBytes int64
	// Capture classifies every request.
	Capture bool
	Verbose bool
	Logger  *slog.Logger
}

// Proxy is an http.Handler serving as a forward proxy.
type Proxy struct {
	server    *goproxy.ProxyHttpServer
	engine    *engine.Engine
	metrics   *stats.Metrics
	mitmHosts []string
	maxBody   int64
	capture   bool
	logger    *slog.Logger
}

// exchangeState travels from the request handler to the response handler.
type exchangeState struct {
	id          string
	url         string
	method      string
	requestBody []byte
	started     time.Time
}

// New builds the proxy and installs its handlers.
func New(opts Options) (*Proxy, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("proxy: engine is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}

	hosts := make([]string, 0, len(opts.MITMHosts))
	for _, h := range opts.MITMHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			hosts = append(hosts, h)
		}
	}

	server := goproxy.NewProxyHttpServer()
	server.Verbose = opts.Verbose
	server.Logger = logging.Printf{Logger: logging.Component("goproxy")}

	p := &Proxy{
		server:    server,
		engine:    opts.Engine,
		metrics:   opts.Metrics,
		mitmHosts: hosts,
		maxBody:   maxBody,
		capture:   opts.Capture,
		logger:    logger,
	}

	mitm := goproxy.MitmConnect
	if opts.CA != nil {
		mitm = &goproxy.ConnectAction{Action: goproxy.ConnectMitm, TLSConfig: goproxy.TLSConfigFromCA(opts.CA)}
	}
	server.OnRequest().HandleConnect(goproxy.FuncHttpsHandler(func(host string, _ *goproxy.ProxyCtx) (*goproxy.ConnectAction, string) {
		if p.ShouldIntercept(host) {
			return mitm, host
		}
		return goproxy.OkConnect, host
	}))
	server.OnRequest().DoFunc(p.handleRequest)
	server.OnResponse().DoFunc(p.handleResponse)

	return p, nil
}

// ServeHTTP implements http.Handler.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.server.ServeHTTP(w, r)
}

// ShouldIntercept reports whether CONNECT traffic to host is decrypted.
func (p *Proxy) ShouldIntercept(host string) bool {
	if len(p.mitmHosts) == 0 {
		return true
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(host)
	for _, suffix := range p.mitmHosts {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

func (p *Proxy) handleRequest(req *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	state := &exchangeState{
		id:      strconv.FormatInt(ctx.Session, 10),
		url:     req.URL.String(),
		method:  req.Method,
		started: time.Now(),
	}
	ctx.UserData = state

	if !p.capture {
		return req, nil
	}

	if req.Body != nil && req.ContentLength != 0 {
		body, rest, complete := readBounded(req.Body, p.maxBody)
		req.Body = rest
		if complete {
			state.requestBody = body
		}
	}

	v := p.engine.Capture(req.Context(), domain.Exchange{
		ID:          state.id,
		URL:         state.url,
		Method:      state.method,
		RequestBody: state.requestBody,
		Received:    state.started,
	})
	if p.metrics != nil && v.Matched {
		p.metrics.RecordVerdict(v.App, string(v.Tier))
	}
	return req, nil
}

func (p *Proxy) handleResponse(resp *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
	if resp == nil || resp.Body == nil {
		return resp
	}

	state, ok := ctx.UserData.(*exchangeState)
	if !ok {
		if ctx.Req == nil {
			return resp
		}
		state = &exchangeState{url: ctx.Req.URL.String(), method: ctx.Req.Method, started: time.Now()}
	}

	if enc := resp.Header.Get("Content-Encoding"); enc != "" && !strings.EqualFold(enc, "identity") {
		p.logger.Debug("skipping encoded response", "url", state.url, "encoding", enc)
		return resp
	}

	body, rest, complete := readBounded(resp.Body, p.maxBody)
	if !complete {
		p.logger.Debug("response too large to rewrite", "url", state.url, "limit", p.maxBody)
		resp.Body = rest
		return resp
	}
	_ = resp.Body.Close()

	reqCtx := context.Background()
	if ctx.Req != nil {
		reqCtx = ctx.Req.Context()
	}
	res := p.engine.Rewrite(reqCtx, domain.Exchange{
		ID:           state.id,
		URL:          state.url,
		Method:       state.method,
		RequestBody:  state.requestBody,
		ResponseBody: body,
		Received:     state.started,
	})

	if p.metrics != nil && res.Route != "" {
		p.metrics.RecordRewrite(res.App, res.Route, string(res.Final()), time.Since(state.started))
	}

	resp.Body = io.NopCloser(bytes.NewReader(res.Body))
	if res.Mutated {
		resp.ContentLength = int64(len(res.Body))
		resp.TransferEncoding = nil
		resp.Header.Set("Content-Length", strconv.Itoa(len(res.Body)))
		resp.Header.Del("Content-MD5")
		resp.Header.Del("ETag")
	}
	return resp
}

// readBounded reads up to limit bytes. When the body is larger, complete is
// false and rest replays what was read followed by the unread remainder.
func readBounded(body io.ReadCloser, limit int64) (data []byte, rest io.ReadCloser, complete bool) {
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil || int64(len(data)) > limit {
		return nil, struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(data), body), body}, false
	}
	return data, io.NopCloser(bytes.NewReader(data)), true
}
