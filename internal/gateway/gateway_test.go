package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lookup-billing-go/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPrices = PriceTable{
	models.CategoryIdentity: decimal.RequireFromString("0.90"),
	models.CategoryCredit:   decimal.RequireFromString("1.80"),
	models.CategoryVehicle:  decimal.RequireFromString("2.50"),
	models.CategoryAddress:  decimal.Zero,
	models.CategoryOther:    decimal.RequireFromString("1.00"),
}

var creditSchema = models.ProviderSchema{
	ServiceId: "credito-completo",
	Endpoint:  "serasa/credito",
	Fields: []models.FieldSpec{
		{Name: "documento", Type: models.FieldDocument, Required: true, MinLength: 11, MaxLength: 14},
	},
}

func testConfig(baseURL string) models.ProviderConfig {
	return models.ProviderConfig{
		Name:              "infosimples",
		BaseURL:           baseURL,
		Token:             "secret-token",
		Timeout:           2 * time.Second,
		MaxRetries:        3,
		BaseDelay:         100 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		Jitter:            50 * time.Millisecond,
		RateLimitFallback: 30 * time.Second,
		MaxRateLimitWaits: 10,
		Schemas:           []models.ProviderSchema{creditSchema},
	}
}

func newTestGateway(t *testing.T, cfg models.ProviderConfig, clock *fakeClock, opts ...Option) *Gateway {
	t.Helper()
	opts = append([]Option{WithClock(clock.Clock()), WithJitter(func(time.Duration) time.Duration { return 0 })}, opts...)
	g, err := New(cfg, testPrices, opts...)
	require.NoError(t, err)
	return g
}

// scripted answers each request with the next status; the last one repeats.
type scripted struct {
	mu       sync.Mutex
	statuses []int
	headers  map[int]http.Header
	body     string
	requests []*http.Request
	forms    []map[string]string
}

func (s *scripted) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()

	s.mu.Lock()
	n := len(s.requests)
	s.requests = append(s.requests, r)
	form := map[string]string{}
	for k := range r.PostForm {
		form[k] = r.PostForm.Get(k)
	}
	s.forms = append(s.forms, form)
	status := s.statuses[min(n, len(s.statuses)-1)]
	header := s.headers[n]
	s.mu.Unlock()

	for k, v := range header {
		w.Header()[k] = v
	}
	w.WriteHeader(status)
	if status == http.StatusOK {
		fmt.Fprint(w, s.body)
		return
	}
	fmt.Fprintf(w, `{"message": "status %d"}`, status)
}

func (s *scripted) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

const creditBody = `{"dados": {"nome": "Maria", "score": 640, "restricoes": []}}`

func TestExecute_PrimarySuccess(t *testing.T) {
	upstream := &scripted{statuses: []int{200}, body: creditBody}
	server := httptest.NewServer(upstream)
	defer server.Close()

	g := newTestGateway(t, testConfig(server.URL), newFakeClock())

	result := g.Execute(context.Background(), "credito-completo", map[string]string{"documento": "123.456.789-09"})
	require.True(t, result.Success, result.Error)

	assert.Equal(t, models.SourcePrimary, result.Source)
	assert.Equal(t, models.CategoryCredit, result.Category)
	assert.True(t, result.Cost.Equal(decimal.RequireFromString("1.80")))
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, "infosimples", result.Provider)

	report, ok := result.Data.(models.CreditReport)
	require.True(t, ok)
	assert.Equal(t, 640, *report.Score)
	assert.False(t, report.HasRestrictions)

	require.Equal(t, 1, upstream.count())
	req := upstream.requests[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/serasa/credito", req.URL.Path)
	assert.Equal(t, "application/x-www-form-urlencoded", req.Header.Get("Content-Type"))
	assert.Equal(t, map[string]string{"documento": "12345678909", "token": "secret-token", "timeout": "2"}, upstream.forms[0])
}

func TestExecute_RetriesTransientWithBackoff(t *testing.T) {
	for k := 1; k <= 3; k++ {
		statuses := make([]int, 0, k+1)
		for i := 0; i < k; i++ {
			statuses = append(statuses, http.StatusServiceUnavailable)
		}
		upstream := &scripted{statuses: append(statuses, 200), body: creditBody}
		server := httptest.NewServer(upstream)

		clock := newFakeClock()
		g := newTestGateway(t, testConfig(server.URL), clock)

		result := g.Execute(context.Background(), "credito-completo", map[string]string{"documento": "12345678909"})
		server.Close()

		require.True(t, result.Success, "k=%d: %s", k, result.Error)
		assert.Equal(t, k+1, result.Attempts)

		var slept time.Duration
		for _, d := range clock.Slept() {
			slept += d
		}
		// base*(2^0 + ... + 2^(k-1))
		want := 100 * time.Millisecond * time.Duration((1<<k)-1)
		assert.GreaterOrEqual(t, slept, want, "k=%d", k)
	}
}

func TestExecute_JitterAddsToBackoff(t *testing.T) {
	upstream := &scripted{statuses: []int{500, 200}, body: creditBody}
	server := httptest.NewServer(upstream)
	defer server.Close()

	clock := newFakeClock()
	g := newTestGateway(t, testConfig(server.URL), clock, WithJitter(func(max time.Duration) time.Duration { return max / 2 }))

	result := g.Execute(context.Background(), "credito-completo", map[string]string{"documento": "12345678909"})
	require.True(t, result.Success)
	assert.Equal(t, []time.Duration{125 * time.Millisecond}, clock.Slept())
}

func TestExecute_RetryBudgetExhausted(t *testing.T) {
	upstream := &scripted{statuses: []int{502}}
	server := httptest.NewServer(upstream)
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.MaxRetries = 2
	g := newTestGateway(t, cfg, newFakeClock())

	result := g.Execute(context.Background(), "credito-completo", map[string]string{"documento": "12345678909"})
	assert.False(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 3, upstream.count())
	assert.Contains(t, result.Error, "status 502")
	assert.True(t, result.Cost.IsZero())
}

func TestExecute_PermanentErrorNotRetried(t *testing.T) {
	upstream := &scripted{statuses: []int{400}}
	server := httptest.NewServer(upstream)
	defer server.Close()

	clock := newFakeClock()
	g := newTestGateway(t, testConfig(server.URL), clock)

	result := g.Execute(context.Background(), "credito-completo", map[string]string{"documento": "12345678909"})
	assert.False(t, result.Success)
	assert.Equal(t, 1, upstream.count())
	assert.Contains(t, result.Error, "permanent")
	assert.Empty(t, clock.Slept())
}

func TestExecute_RateLimitedDoesNotSpendRetryBudget(t *testing.T) {
	upstream := &scripted{
		statuses: []int{429, 429, 503, 200},
		headers:  map[int]http.Header{0: {"Retry-After": []string{"7"}}},
		body:     creditBody,
	}
	server := httptest.NewServer(upstream)
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.MaxRetries = 1
	clock := newFakeClock()
	g := newTestGateway(t, cfg, clock)

	result := g.Execute(context.Background(), "credito-completo", map[string]string{"documento": "12345678909"})
	require.True(t, result.Success, result.Error)
	assert.Equal(t, 4, result.Attempts)

	// Retry-After hint, then the fixed fallback, then one backoff step
	assert.Equal(t, []time.Duration{7 * time.Second, 30 * time.Second, 100 * time.Millisecond}, clock.Slept())
}

func TestExecute_RateLimitWaitsAreBounded(t *testing.T) {
	upstream := &scripted{statuses: []int{429}}
	server := httptest.NewServer(upstream)
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.MaxRateLimitWaits = 2
	g := newTestGateway(t, cfg, newFakeClock())

	result := g.Execute(context.Background(), "credito-completo", map[string]string{"documento": "12345678909"})
	assert.False(t, result.Success)
	assert.Equal(t, 3, upstream.count())
	assert.Contains(t, result.Error, "rate limited")
}

func TestExecute_TimeoutIsRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			time.Sleep(300 * time.Millisecond)
		}
		fmt.Fprint(w, creditBody)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Timeout = 50 * time.Millisecond
	g := newTestGateway(t, cfg, newFakeClock())

	result := g.Execute(context.Background(), "credito-completo", map[string]string{"documento": "12345678909"})
	require.True(t, result.Success, result.Error)
	assert.Equal(t, 2, result.Attempts)
}

func TestExecute_InvalidInputNeverCallsUpstream(t *testing.T) {
	upstream := &scripted{statuses: []int{200}, body: creditBody}
	server := httptest.NewServer(upstream)
	defer server.Close()

	g := newTestGateway(t, testConfig(server.URL), newFakeClock())

	result := g.Execute(context.Background(), "credito-completo", map[string]string{"documento": "123"})
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "invalid input")
	assert.Equal(t, 0, upstream.count())
	assert.Equal(t, 0, result.Attempts)
}

func TestExecute_FieldTableWhenNoSchema(t *testing.T) {
	upstream := &scripted{statuses: []int{200}, body: `{"marca": "VW", "modelo": "GOL"}`}
	server := httptest.NewServer(upstream)
	defer server.Close()

	g := newTestGateway(t, testConfig(server.URL), newFakeClock())

	result := g.Execute(context.Background(), "detran/placa", map[string]string{"placa": "abc-1234"})
	require.True(t, result.Success, result.Error)
	assert.Equal(t, models.CategoryVehicle, result.Category)
	assert.True(t, result.Cost.Equal(decimal.RequireFromString("2.50")))
	assert.Equal(t, "ABC1234", upstream.forms[0]["placa"])
	assert.Equal(t, "/detran/placa", upstream.requests[0].URL.Path)
}

func TestExecute_UnknownService(t *testing.T) {
	g := newTestGateway(t, testConfig("http://127.0.0.1:1"), newFakeClock())

	result := g.Execute(context.Background(), "nothing/here", nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, ErrSchemaNotFound.Error())
}

type stubFallback struct {
	name  string
	data  any
	err   error
	calls int
	seen  FallbackRequest
}

func (s *stubFallback) Name() string { return s.name }

func (s *stubFallback) Lookup(_ context.Context, req FallbackRequest) (any, error) {
	s.calls++
	s.seen = req
	return s.data, s.err
}

func TestExecute_FallbackChain(t *testing.T) {
	upstream := &scripted{statuses: []int{404}}
	server := httptest.NewServer(upstream)
	defer server.Close()

	first := &stubFallback{name: "first", err: errors.New("first unavailable")}
	second := &stubFallback{name: "second", data: models.DocumentCheck{Version: "v1", Document: "12345678909", Valid: true}}
	third := &stubFallback{name: "third", data: "unused"}

	clock := newFakeClock()
	g := newTestGateway(t, testConfig(server.URL), clock, WithFallbacks(first, second, third))

	before := g.Limiter().Len()
	result := g.Execute(context.Background(), "credito-completo", map[string]string{"documento": "12345678909"})
	require.True(t, result.Success, result.Error)

	assert.Equal(t, "second", result.Source)
	assert.True(t, result.Cost.IsZero())
	assert.Equal(t, models.DocumentCheck{Version: "v1", Document: "12345678909", Valid: true}, result.Data)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
	assert.Equal(t, 0, third.calls)
	assert.Equal(t, models.CategoryCredit, second.seen.Category)
	assert.Equal(t, "serasa/credito", second.seen.Endpoint)

	// Only the single primary attempt went through the rate window
	assert.Equal(t, before+1, g.Limiter().Len())
}

func TestExecute_AllFallbacksFail(t *testing.T) {
	upstream := &scripted{statuses: []int{403}}
	server := httptest.NewServer(upstream)
	defer server.Close()

	g := newTestGateway(t, testConfig(server.URL), newFakeClock(), WithFallbacks(
		&stubFallback{name: "first", err: errors.New("first down")},
		&stubFallback{name: "last", err: errors.New("last down")},
	))

	result := g.Execute(context.Background(), "credito-completo", map[string]string{"documento": "12345678909"})
	assert.False(t, result.Success)
	assert.True(t, strings.HasPrefix(result.Error, "upstream permanent error (status 403)"), result.Error)
	assert.True(t, strings.HasSuffix(result.Error, "| last: last down"), result.Error)
	assert.NotContains(t, result.Error, "first down")
}

func TestExecute_ProviderReportedError(t *testing.T) {
	upstream := &scripted{statuses: []int{200}, body: `{"erro": true}`}
	server := httptest.NewServer(upstream)
	defer server.Close()

	g := newTestGateway(t, testConfig(server.URL), newFakeClock())

	result := g.Execute(context.Background(), "credito-completo", map[string]string{"documento": "12345678909"})
	assert.False(t, result.Success)
	assert.Equal(t, 1, upstream.count())
	assert.Contains(t, result.Error, ErrBadResponse.Error())
}

func TestExecute_CanceledContextStopsRetrying(t *testing.T) {
	upstream := &scripted{statuses: []int{503}}
	server := httptest.NewServer(upstream)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	clock := newFakeClock()
	cancelingClock := Clock{
		Now: clock.Now,
		Sleep: func(ctx context.Context, d time.Duration) error {
			cancel()
			return clock.Sleep(ctx, d)
		},
	}
	g, err := New(testConfig(server.URL), testPrices, WithClock(cancelingClock))
	require.NoError(t, err)

	result := g.Execute(ctx, "credito-completo", map[string]string{"documento": "12345678909"})
	assert.False(t, result.Success)
	assert.Equal(t, 1, upstream.count())
	assert.Contains(t, result.Error, context.Canceled.Error())
}

func TestNew_Validation(t *testing.T) {
	_, err := New(models.ProviderConfig{BaseURL: "http://x"}, testPrices)
	assert.Error(t, err)

	_, err = New(models.ProviderConfig{Name: "p", BaseURL: "not a url"}, testPrices)
	assert.Error(t, err)

	g, err := New(models.ProviderConfig{Name: "p", BaseURL: "http://localhost"}, testPrices)
	require.NoError(t, err)
	assert.Equal(t, "p", g.Name())
}

func TestWarmAndQuote(t *testing.T) {
	g := newTestGateway(t, testConfig("http://127.0.0.1:1"), newFakeClock())

	require.NoError(t, g.Warm(context.Background()))
	assert.EqualValues(t, 1, g.schemas.Loads())

	price, err := g.Quote(context.Background(), "credito-completo")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("1.80")))

	price, err = g.Quote(context.Background(), "correios/cep")
	require.NoError(t, err)
	assert.True(t, price.IsZero())

	_, err = g.Quote(context.Background(), "nothing/here")
	assert.ErrorIs(t, err, ErrSchemaNotFound)
}
