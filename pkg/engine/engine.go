package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-adblock/pkg/domain"
	"github.com/polisai/polis-adblock/pkg/policy"
	"github.com/polisai/polis-adblock/pkg/policy/classify"
	"github.com/polisai/polis-adblock/pkg/policy/route"
	"github.com/polisai/polis-adblock/pkg/policy/sanitize"
	"github.com/polisai/polis-adblock/pkg/telemetry"
)

// noticeURLLimit bounds the URL quoted in capture notices, in characters.
const noticeURLLimit = 150

// Sink receives counters and notices. Implementations must not fail the caller.
type Sink interface {
	Increment(ctx context.Context, counter string)
	Post(ctx context.Context, n domain.Notice)
}

type nopSink struct{}

func (nopSink) Increment(context.Context, string)   {}
func (nopSink) Post(context.Context, domain.Notice) {}

// Options holds dependencies for creating an Engine.
type Options struct {
	// Rules publishes the active rule set. Required.
	Rules *route.Registry
	// Classifier defaults to the builtin taxonomy.
	Classifier *classify.Classifier
	// Gate may bypass a matched rewrite. Nil never bypasses.
	Gate policy.Gate
	// Sink defaults to a no-op.
	Sink Sink
	// CaptureNotices posts a notice for every HIGH capture verdict.
	CaptureNotices bool
	// Redactions filter rewrite span attributes.
	Redactions []telemetry.Redaction
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
	Logger         *slog.Logger
}

// Engine rewrites ad-bearing responses and classifies requests.
type Engine struct {
	rules          *route.Registry
	classifier     *classify.Classifier
	gate           policy.Gate
	sink           Sink
	captureNotices bool
	redactions     []telemetry.Redaction
	logger         *slog.Logger
	tracer         trace.Tracer
}

// New creates an engine with the given options.
func New(opts Options) (*Engine, error) {
	if opts.Rules == nil || opts.Rules.Load() == nil {
		return nil, errors.New("engine requires a rule set")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	classifier := opts.Classifier
	if classifier == nil {
		classifier = classify.New()
	}
	sink := opts.Sink
	if sink == nil {
		sink = nopSink{}
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	return &Engine{
		rules:          opts.Rules,
		classifier:     classifier,
		gate:           opts.Gate,
		sink:           sink,
		captureNotices: opts.CaptureNotices,
		redactions:     append([]telemetry.Redaction(nil), opts.Redactions...),
		logger:         logger,
		tracer:         tp.Tracer("adblock.engine"),
	}, nil
}

// Rules returns the active rule set.
func (e *Engine) Rules() *route.RuleSet {
	return e.rules.Load()
}

// SetRuleSet atomically replaces the active rule set. In-flight exchanges
// finish against the set they started with.
func (e *Engine) SetRuleSet(rs *route.RuleSet) {
	if rs == nil {
		return
	}
	e.rules.Swap(rs)
}

// Rewrite runs the dispatcher state machine over one exchange and returns the
// body to forward. It never fails: decode, encode, and policy errors are
// recorded on the result and the original body is returned.
func (e *Engine) Rewrite(ctx context.Context, ex domain.Exchange) domain.Result {
	start := time.Now()
	if ex.ID == "" {
		ex.ID = uuid.NewString()
	}

	ctx, span := e.tracer.Start(ctx, "adblock.rewrite", trace.WithAttributes(e.redact(
		attribute.String("exchange.id", ex.ID),
		attribute.String("url.full", telemetry.RedactURL(ex.URL)),
		attribute.String("http.request.method", ex.Method),
	)...))
	defer span.End()

	res := domain.Result{Body: ex.ResponseBody, Trail: []domain.State{domain.StateReceived}}
	changes := 0
	defer func() {
		res.Trail = append(res.Trail, domain.StateReturned)
		res.Duration = time.Since(start)
		e.record(ctx, span, &res, changes)
	}()

	rule, rt, ok := e.rules.Load().Resolve(ex.App, ex.URL)
	if !ok {
		res.Trail = append(res.Trail, domain.StateUnmatched)
		e.logger.Debug("no route matched", "exchange_id", ex.ID, "app", ex.App)
		return res
	}
	res.App, res.Route, res.Strategy = rule.App, rule.Route, rule.Strategy

	doc, err := sanitize.Decode(ex.ResponseBody)
	if err != nil {
		res.Trail = append(res.Trail, domain.StateDecodeFail)
		res.Err = &domain.DecodeError{App: rule.App, Route: rule.Route, Err: err}
		e.logger.Debug("response is not JSON, passing through",
			"exchange_id", ex.ID, "app", rule.App, "route", rule.Route, "error", err)
		return res
	}
	defer doc.Release()
	res.Trail = append(res.Trail, domain.StateDecoded, domain.StateMatched)

	if rt.Strategy == domain.StrategyPassthrough {
		return res
	}

	if bypass, err := e.bypass(ctx, span, ex, rule); bypass {
		res.Trail = append(res.Trail, domain.StateBypassed)
		res.Err = err
		return res
	}

	out := transform(doc, rt, ex.ResponseBody)
	res.Trail = append(res.Trail, out.states...)
	res.Body = out.body
	changes = out.changes
	if out.err != nil {
		res.Err = &domain.EncodeError{App: rule.App, Route: rule.Route, Err: out.err}
		e.logger.Warn("mutated document failed to encode, returning original",
			"exchange_id", ex.ID, "app", rule.App, "route", rule.Route, "error", out.err)
		return res
	}
	if out.changes == 0 {
		return res
	}

	res.Mutated = true
	e.logger.Info("response rewritten",
		"exchange_id", ex.ID, "app", rule.App, "route", rule.Route,
		"strategy", rule.Strategy, "changes", out.changes)

	if rt.Counter != "" {
		e.sink.Increment(ctx, rt.Counter)
	}
	if !rt.Notice.IsZero() {
		e.sink.Post(ctx, rt.Notice)
	}
	return res
}

// bypass asks the gate whether a matched exchange should be left alone. A
// gate error also leaves it alone and is returned for the result.
func (e *Engine) bypass(ctx context.Context, span trace.Span, ex domain.Exchange, rule route.Rule) (bool, error) {
	if e.gate == nil {
		return false, nil
	}

	in := policy.Input{
		App:      rule.App,
		Route:    rule.Route,
		Strategy: string(rule.Strategy),
		Method:   ex.Method,
	}
	if u, err := url.Parse(ex.URL); err == nil {
		in.Host = u.Hostname()
		in.Path = u.Path
	}

	decision, err := e.gate.Evaluate(ctx, in)
	if err != nil {
		e.logger.Warn("bypass policy failed, leaving response alone",
			"exchange_id", ex.ID, "route", rule.Route, "error", err)
		return true, fmt.Errorf("bypass policy: %w", err)
	}
	telemetry.RecordPolicyDecision(span, decision)
	if decision.Action == policy.ActionBypass {
		e.logger.Info("rewrite bypassed by policy",
			"exchange_id", ex.ID, "route", rule.Route, "reason", decision.Reason)
		return true, nil
	}
	return false, nil
}

func (e *Engine) record(ctx context.Context, span trace.Span, res *domain.Result, changes int) {
	final := res.Final()
	span.SetAttributes(e.redact(
		attribute.String("app.id", res.App),
		attribute.String("route.key", res.Route),
		attribute.String("exchange.outcome", string(final)),
	)...)
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
	}
	if res.Strategy != "" {
		telemetry.RecordRewriteEvent(span, res.Mutated, string(res.Strategy), changes)
	}

	telemetry.RecordExchangeMetrics(ctx, telemetry.ExchangeMetrics{
		App:      res.App,
		Route:    res.Route,
		Strategy: string(res.Strategy),
		Outcome:  string(final),
		Mutated:  res.Mutated,
		Changes:  changes,
		Duration: res.Duration,
	})
}

func (e *Engine) redact(attrs ...attribute.KeyValue) []attribute.KeyValue {
	return telemetry.RedactAttributes(e.redactions, attrs)
}

// Capture classifies a request for passive detection. It never mutates
// anything; a HIGH verdict posts a notice when enabled.
func (e *Engine) Capture(ctx context.Context, ex domain.Exchange) domain.Verdict {
	v := e.classifier.Classify(ex.URL, ex.RequestBody)
	telemetry.RecordVerdict(ctx, v.App, string(v.Tier))

	if !v.Matched {
		e.logger.Debug("request", "app", v.App, "method", ex.Method, "url", telemetry.RedactURL(ex.URL))
		return v
	}

	e.logger.Info("suspected ad request",
		"app", v.App, "tier", v.Tier, "reason", v.Reason, "method", ex.Method,
		"url", telemetry.RedactURL(ex.URL), "params", v.Params)

	if v.Tier == domain.TierHigh && e.captureNotices {
		e.sink.Post(ctx, domain.Notice{
			Title:    v.App + " splash ad",
			Subtitle: v.Reason,
			Message:  truncate(ex.URL, noticeURLLimit),
		})
	}
	return v
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
