//nolint:errcheck // 测试代码中 defer 调用忽略 Shutdown 错误
package xgovernor

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/mock/gomock"

	"github.com/omeyang/xgovern/pkg/observability/xlog"
)

// newScenarioGovernor period=2s burst=5，按 header 限流，使用假时钟
func newScenarioGovernor(t *testing.T, opts ...Option) (*Governor[string], *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	cfg, err := NewBuilder[string](HeaderKeyExtractor{Name: "X-User"}).
		PerSecond(2).
		BurstSize(5).
		UseHeaders().
		LimiterOptions(WithClock(clock)).
		Finish()
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	g, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = g.Close() })
	return g, clock
}

func userRequest(method, user string) Request {
	return fakeRequest{method: method, headers: map[string]string{"X-User": user}}
}

func TestNew_Errors(t *testing.T) {
	if _, err := New[string](nil); !errors.Is(err, ErrNilConfig) {
		t.Errorf("New(nil) error = %v", err)
	}
	if _, err := New(&Config[string]{}); !errors.Is(err, ErrNilExtractor) {
		t.Errorf("New(empty) error = %v", err)
	}
}

func TestGovernor_Scenario(t *testing.T) {
	g, clock := newScenarioGovernor(t)
	ctx := context.Background()

	for _, want := range []uint32{4, 3, 2, 1, 0} {
		d, err := g.Check(ctx, userRequest("GET", "alice"))
		if err != nil {
			t.Fatal(err)
		}
		if !d.Allowed || d.Remaining != want || d.Limit != 5 {
			t.Fatalf("decision = %+v, want admitted remaining=%d", d, want)
		}
		if d.Err() != nil {
			t.Error("admitted decision must not carry an error")
		}
	}

	clock.Advance(100 * time.Millisecond)
	d, err := g.Check(ctx, userRequest("GET", "alice"))
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed {
		t.Fatal("6th request admitted")
	}
	if d.RetryAfter != 1900*time.Millisecond {
		t.Errorf("RetryAfter = %v, want 1.9s", d.RetryAfter)
	}
	if !IsDenied(d.Err()) {
		t.Errorf("Err() = %v, want rate limited", d.Err())
	}
	if h := d.Metadata.Headers(); h[HeaderRetryAfter] != "2" || h[HeaderRemaining] != "0" {
		t.Errorf("denied headers = %v", h)
	}

	clock.Advance(2 * time.Second)
	d, _ = g.Check(ctx, userRequest("GET", "alice")) //nolint:errcheck // 键存在
	if !d.Allowed || d.Remaining != 0 {
		t.Errorf("decision at 2.1s = %+v", d)
	}
}

func TestGovernor_MethodBypass(t *testing.T) {
	cfg, err := DefaultBuilder().BurstSize(1).PerSecond(60).Methods("POST").UseHeaders().Finish()
	if err != nil {
		t.Fatal(err)
	}
	g, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	req := func(method string) Request { return fakeRequest{method: method, remote: "192.0.2.1:1"} }

	for range 10 {
		d, err := g.Check(ctx, req("GET"))
		if err != nil {
			t.Fatal(err)
		}
		if !d.Allowed || !d.Whitelisted {
			t.Fatalf("GET should bypass: %+v", d)
		}
		if d.Metadata.Headers()[HeaderWhitelisted] != "true" {
			t.Error("bypass should be marked whitelisted")
		}
	}
	if cfg.Limiter().Len() != 0 {
		t.Error("bypass must not consume quota")
	}

	if d, _ := g.Check(ctx, req("POST")); !d.Allowed { //nolint:errcheck // 地址合法
		t.Fatal("first POST should be admitted")
	}
	if d, _ := g.Check(ctx, req("POST")); d.Allowed { //nolint:errcheck // 地址合法
		t.Fatal("second POST should be denied")
	}
}

func TestGovernor_ExtractionError(t *testing.T) {
	var buf bytes.Buffer
	logger, cleanup, err := xlog.New().SetOutput(&buf).SetLevel(xlog.LevelDebug).Build()
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()

	g, _ := newScenarioGovernor(t, WithLogger(logger), WithName("api"))

	d, err := g.Check(context.Background(), fakeRequest{method: "GET"})
	if !IsExtractionError(err) {
		t.Fatalf("error = %v, want extraction error", err)
	}
	if !errors.Is(err, ErrMissingHeader) {
		t.Errorf("error = %v, want wrapping ErrMissingHeader", err)
	}
	if d.Allowed {
		t.Error("extraction failure must not be an implicit admit")
	}
	if g.Config().Limiter().Len() != 0 {
		t.Error("extraction failure must not touch the store")
	}
	out := buf.String()
	if !strings.Contains(out, "key extraction failed") || !strings.Contains(out, "governor=api") {
		t.Errorf("log output = %q", out)
	}
}

func TestGovernor_CustomExtractorErrorIsWrapped(t *testing.T) {
	boom := errors.New("boom")
	cfg, err := NewBuilder[string](KeyExtractorFunc[string](func(Request) (string, error) {
		return "", boom
	})).Finish()
	if err != nil {
		t.Fatal(err)
	}
	g, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	_, err = g.Check(context.Background(), fakeRequest{method: "GET"})
	var extractErr *ExtractionError
	if !errors.As(err, &extractErr) || !errors.Is(err, boom) {
		t.Fatalf("error = %v, want *ExtractionError wrapping boom", err)
	}
	if extractErr.StatusCode() != 400 {
		t.Errorf("StatusCode() = %d", extractErr.StatusCode())
	}
}

func TestGovernor_AnnotatorDoesNotChangeOutcome(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	annotator := NewMockAnnotator(ctrl)
	cfg, err := NewBuilder[string](HeaderKeyExtractor{Name: "X-User"}).
		BurstSize(1).
		PerSecond(60).
		Methods("GET").
		Annotator(annotator).
		Finish()
	if err != nil {
		t.Fatal(err)
	}
	g, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	gomock.InOrder(
		annotator.EXPECT().
			Annotate(gomock.Cond(func(v Verdict) bool { return v.Allowed }), cfg.Quota()).
			Return(Metadata{Whitelisted: true}),
		annotator.EXPECT().
			Annotate(gomock.Cond(func(v Verdict) bool { return !v.Allowed }), cfg.Quota()).
			Return(Metadata{Detailed: true}),
	)
	annotator.EXPECT().Whitelist(cfg.Quota()).Return(Metadata{}).Times(1)

	ctx := context.Background()
	d, _ := g.Check(ctx, userRequest("GET", "bob")) //nolint:errcheck // header 存在
	if !d.Allowed || d.Whitelisted {
		t.Errorf("first decision = %+v", d)
	}
	d, _ = g.Check(ctx, userRequest("GET", "bob")) //nolint:errcheck // header 存在
	if d.Allowed {
		t.Error("annotator must not turn a denial into an admit")
	}
	d, _ = g.Check(ctx, userRequest("PUT", "bob")) //nolint:errcheck // 过滤放行
	if !d.Whitelisted {
		t.Error("PUT should bypass")
	}
}

func TestGovernor_Metrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	g, _ := newScenarioGovernor(t, WithMeterProvider(provider), WithName("api"))
	ctx := context.Background()

	for range 6 {
		g.Check(ctx, userRequest("GET", "carol"))
	}
	g.Check(ctx, fakeRequest{method: "GET"})

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	sums := map[string]int64{}
	var keys int64 = -1
	var sawDuration bool
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					name := m.Name
					if outcome, ok := dp.Attributes.Value(attribute.Key("outcome")); ok {
						name += "/" + outcome.AsString()
					}
					sums[name] += dp.Value
				}
			case metricdata.Gauge[int64]:
				if m.Name == metricNameKeys && len(data.DataPoints) > 0 {
					keys = data.DataPoints[0].Value
				}
			case metricdata.Histogram[float64]:
				if m.Name == metricNameCheckDuration {
					sawDuration = true
				}
			}
		}
	}

	if sums[metricNameRequestsTotal+"/"+outcomeAllowed] != 5 {
		t.Errorf("allowed = %d, want 5", sums[metricNameRequestsTotal+"/"+outcomeAllowed])
	}
	if sums[metricNameRequestsTotal+"/"+outcomeDenied] != 1 {
		t.Errorf("denied requests = %d, want 1", sums[metricNameRequestsTotal+"/"+outcomeDenied])
	}
	if sums[metricNameDeniedTotal+"/"+outcomeDenied] != 1 {
		t.Errorf("denied total = %d, want 1", sums[metricNameDeniedTotal+"/"+outcomeDenied])
	}
	if sums[metricNameExtractErrors] != 1 {
		t.Errorf("extract errors = %d, want 1", sums[metricNameExtractErrors])
	}
	if keys != 1 {
		t.Errorf("keys gauge = %d, want 1", keys)
	}
	if !sawDuration {
		t.Error("expected check duration histogram")
	}
}

func TestNewMetrics_NilProvider(t *testing.T) {
	m, err := NewMetrics(nil, "x", nil)
	if err != nil || m != nil {
		t.Fatalf("NewMetrics(nil) = %v, %v", m, err)
	}
	// nil 接收者安全
	m.RecordDecision(context.Background(), "x", outcomeAllowed, time.Millisecond)
	m.RecordExtractError(context.Background(), "x")
	if err := m.Close(); err != nil {
		t.Error(err)
	}
}

func TestGovernor_Tracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer tp.Shutdown(context.Background())

	g, _ := newScenarioGovernor(t, WithTracerProvider(tp))
	ctx := context.Background()

	g.Check(ctx, userRequest("GET", "dave"))
	g.Check(ctx, fakeRequest{method: "GET"})

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	for _, s := range spans {
		if s.Name() != "xgovernor.check" {
			t.Errorf("span name = %q", s.Name())
		}
	}

	var outcome string
	for _, kv := range spans[0].Attributes() {
		if kv.Key == "xgovernor.outcome" {
			outcome = kv.Value.AsString()
		}
	}
	if outcome != outcomeAllowed {
		t.Errorf("outcome attribute = %q, want allowed", outcome)
	}
	if len(spans[1].Events()) == 0 {
		t.Error("extraction failure should be recorded on the span")
	}
}
