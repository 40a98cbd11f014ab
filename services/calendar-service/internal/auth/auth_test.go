package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Rohianon/uou/pkg/errors"
	"github.com/Rohianon/uou/pkg/oauth"
)

// fakeRedis expires keys against an adjustable clock.
type fakeRedis struct {
	mu      sync.Mutex
	now     time.Time
	values  map[string][]byte
	expires map[string]time.Time
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		now:     time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		values:  make(map[string][]byte),
		expires: make(map[string]time.Time),
	}
}

func (f *fakeRedis) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value.([]byte)
	f.expires[key] = f.now.Add(expiration)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	if !ok || !f.now.Before(f.expires[key]) {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(string(v), nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.values[k]; ok {
			n++
		}
		delete(f.values, k)
		delete(f.expires, k)
	}
	return redis.NewIntResult(n, nil)
}

func TestRedisCodeStore_ExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	rdb := newFakeRedis()
	store := NewRedisCodeStore(rdb)

	c1 := uuid.New()
	require.NoError(t, store.Create(ctx, AuthCode{
		Code:        c1,
		OrgID:       "T1",
		RedirectURI: "https://app.example.com/done",
		ExpiresAt:   rdb.now.Add(5 * time.Minute),
	}, 5*time.Minute))

	got, ok, err := store.TryGet(ctx, c1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "T1", got.OrgID)
	assert.Equal(t, "https://app.example.com/done", got.RedirectURI)
	assert.Contains(t, rdb.values, "auth_code:"+c1.String())

	rdb.advance(5*time.Minute + time.Second)

	_, ok, err = store.TryGet(ctx, c1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCodeStore_TryDelete(t *testing.T) {
	ctx := context.Background()
	store := NewRedisCodeStore(newFakeRedis())

	code := uuid.New()
	require.NoError(t, store.Create(ctx, AuthCode{Code: code, OrgID: "T1"}, time.Minute))
	require.NoError(t, store.TryDelete(ctx, code))

	_, ok, err := store.TryGet(ctx, code)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, store.TryDelete(ctx, code), "deleting an absent code is a no-op")
	assert.NoError(t, store.TryDelete(ctx, uuid.New()))
}

func TestRedisCodeStore_RejectsNonPositiveTTL(t *testing.T) {
	store := NewRedisCodeStore(newFakeRedis())
	err := store.Create(context.Background(), AuthCode{Code: uuid.New(), OrgID: "T1"}, 0)
	assert.Error(t, err)
}

func TestOAuthState_RoundTrip(t *testing.T) {
	for _, m := range Methods() {
		t.Run(m.String(), func(t *testing.T) {
			state := OAuthState{Method: m, Code: uuid.New()}
			encoded := state.Encode()

			decoded, ok := DecodeOAuthState(encoded)
			require.True(t, ok)
			assert.Equal(t, state, decoded)

			once := strings.ReplaceAll(encoded, "~", "%7E")
			decoded, ok = DecodeOAuthState(once)
			require.True(t, ok)
			assert.Equal(t, state, decoded)

			twice := url.QueryEscape(once)
			decoded, ok = DecodeOAuthState(twice)
			require.True(t, ok)
			assert.Equal(t, state, decoded)

			_, ok = DecodeOAuthState(encoded + "%")
			assert.False(t, ok, "a stray escape must not decode")
		})
	}
}

func TestOAuthState_GoogleOAuth(t *testing.T) {
	c1 := uuid.New()
	state := OAuthState{Method: MethodGoogleOAuth, Code: c1}

	assert.Equal(t, "GOOGLE_OAUTH~~"+c1.String(), state.Encode())

	decoded, ok := DecodeOAuthState(state.Encode())
	require.True(t, ok)
	assert.Equal(t, state, decoded)
}

func TestDecodeOAuthState_Malformed(t *testing.T) {
	code := uuid.New().String()
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"no separator", "GOOGLE_OAUTH" + code},
		{"too many parts", "GOOGLE_OAUTH~~" + code + "~~x"},
		{"unknown method", "APPLE~~" + code},
		{"lower-case method", "google_oauth~~" + code},
		{"bad token", "GOOGLE_OAUTH~~not-a-uuid"},
		{"empty token", "GOOGLE_OAUTH~~"},
		{"bad escape", "GOOGLE_OAUTH%zz~~" + code},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := DecodeOAuthState(tt.raw)
			assert.False(t, ok)
		})
	}
}

func TestMethodTable(t *testing.T) {
	tests := []struct {
		method         Method
		dataType       DataType
		flow           Flow
		serviceAccount bool
	}{
		{MethodGoogleOAuth, DataTypeCalendar, FlowOAuthAuthCode, false},
		{MethodGoogleServiceAccount, DataTypeCalendar, FlowDirectSubmission, true},
		{MethodMicrosoftOAuth, DataTypeCalendar, FlowOAuthAuthCode, false},
		{MethodMicrosoftOAuthSA, DataTypeCalendar, FlowOAuthAuthCode, true},
		{MethodExchange, DataTypeCalendar, FlowDirectSubmission, false},
		{MethodTeamsOAuth, DataTypeConferencing, FlowOAuthAuthCode, false},
		{MethodZoomOAuth, DataTypeConferencing, FlowOAuthAuthCode, false},
		{MethodInternal, DataTypeCalendar, FlowNone, false},
	}
	require.Len(t, Methods(), len(tests))

	for _, tt := range tests {
		t.Run(tt.method.String(), func(t *testing.T) {
			assert.True(t, tt.method.IsValid())
			assert.Equal(t, tt.dataType, tt.method.DataType())
			assert.Equal(t, tt.flow, tt.method.Flow())
			assert.Equal(t, tt.serviceAccount, tt.method.IsServiceAccount())
			assert.NotEmpty(t, tt.method.Provider())
		})
	}
}

func TestMethod_Text(t *testing.T) {
	var m Method
	require.NoError(t, m.UnmarshalText([]byte("MS_OAUTH_SA")))
	assert.Equal(t, MethodMicrosoftOAuthSA, m)

	assert.Error(t, m.UnmarshalText([]byte("ms_oauth_sa")))

	out, err := MethodZoomOAuth.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "CONF_ZOOM_OAUTH", string(out))

	_, err = Method("NOPE").MarshalText()
	assert.Error(t, err)
}

func TestMethod_JSONZeroValue(t *testing.T) {
	out, err := json.Marshal(struct {
		Method Method `json:"auth_method"`
	}{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"auth_method":""}`, string(out))

	var in struct {
		Method Method `json:"auth_method"`
	}
	assert.Error(t, json.Unmarshal([]byte(`{"auth_method":""}`), &in))
}

type fakeProvider struct {
	name       string
	exchangeFn func(code string) (*oauth.Result, error)
	refreshFn  func(rt string) (*oauth.Result, error)
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) AuthURL(state string) string {
	return "https://idp.example.com/auth?state=" + url.QueryEscape(state)
}

func (p *fakeProvider) Exchange(_ context.Context, code string) (*oauth.Result, error) {
	return p.exchangeFn(code)
}

func (p *fakeProvider) Refresh(_ context.Context, rt string) (*oauth.Result, error) {
	return p.refreshFn(rt)
}

func TestProviderHandler(t *testing.T) {
	p := &fakeProvider{
		name: "microsoft",
		exchangeFn: func(code string) (*oauth.Result, error) {
			if code != "good-code" {
				return nil, errors.New("invalid_grant")
			}
			return &oauth.Result{AccessToken: "at", Email: "a@b.com"}, nil
		},
		refreshFn: func(rt string) (*oauth.Result, error) {
			return &oauth.Result{AccessToken: "at2", RefreshToken: rt}, nil
		},
	}
	h := NewProviderHandler(p, true, MethodMicrosoftOAuth, MethodMicrosoftOAuthSA)
	ctx := context.Background()

	state := OAuthState{Method: MethodMicrosoftOAuthSA, Code: uuid.New()}
	redirect, err := url.Parse(h.RedirectURL(state))
	require.NoError(t, err)
	assert.Equal(t, state.Encode(), redirect.Query().Get("state"))

	res, err := h.HandleAuthorizationCode(ctx, "good-code")
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", res.Email)

	_, err = h.HandleAuthorizationCode(ctx, "bad-code")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrProvider))

	assert.True(t, h.SupportsRefresh())
	res, err = h.Refresh(ctx, "rt")
	require.NoError(t, err)
	assert.Equal(t, "at2", res.AccessToken)

	noRefresh := NewProviderHandler(p, false, MethodZoomOAuth)
	_, err = noRefresh.Refresh(ctx, "rt")
	assert.Error(t, err)
}

func TestHandlerRegistry(t *testing.T) {
	google := NewProviderHandler(&fakeProvider{name: "google"}, true, MethodGoogleOAuth)
	microsoft := NewProviderHandler(&fakeProvider{name: "microsoft"}, true, MethodMicrosoftOAuth, MethodMicrosoftOAuthSA)

	r := NewHandlerRegistry(google, microsoft)

	h, ok := r.Get(MethodMicrosoftOAuthSA)
	require.True(t, ok)
	assert.Same(t, microsoft, h)

	h, ok = r.Get(MethodGoogleOAuth)
	require.True(t, ok)
	assert.Same(t, google, h)

	_, ok = r.Get(MethodExchange)
	assert.False(t, ok)
}

func registryWith(names ...string) oauth.ProviderRegistry {
	r := oauth.NewRegistry()
	for _, n := range names {
		r.Register(&fakeProvider{name: n})
	}
	return r
}

func TestHandlersFromRegistry(t *testing.T) {
	providers := registryWith("google", "microsoft", "microsoft-sa", "teams", "zoom")

	r, err := HandlersFromRegistry(providers, DefaultBindings...)
	require.NoError(t, err)

	for _, b := range DefaultBindings {
		h, ok := r.Get(b.Method)
		require.True(t, ok, b.Method)
		want, _ := providers.Get(b.Provider)
		assert.Same(t, want, h.(*ProviderHandler).provider, b.Method)
		assert.True(t, h.SupportsRefresh())
	}
	_, ok := r.Get(MethodExchange)
	assert.False(t, ok)
}

func TestHandlersFromRegistry_SharedProvider(t *testing.T) {
	r, err := HandlersFromRegistry(registryWith("google", "microsoft", "zoom"),
		ProviderBinding{Method: MethodGoogleOAuth, Provider: "google", Refresh: true},
		ProviderBinding{Method: MethodMicrosoftOAuth, Provider: "microsoft", Refresh: true},
		ProviderBinding{Method: MethodMicrosoftOAuthSA, Provider: "microsoft", Refresh: true},
		ProviderBinding{Method: MethodTeamsOAuth, Provider: "microsoft", Refresh: true},
		ProviderBinding{Method: MethodZoomOAuth, Provider: "zoom", Refresh: false},
	)
	require.NoError(t, err)

	user, _ := r.Get(MethodMicrosoftOAuth)
	sa, _ := r.Get(MethodMicrosoftOAuthSA)
	assert.Same(t, user, sa)
	assert.ElementsMatch(t, []Method{MethodMicrosoftOAuth, MethodMicrosoftOAuthSA, MethodTeamsOAuth}, sa.Methods())

	zoom, _ := r.Get(MethodZoomOAuth)
	assert.False(t, zoom.SupportsRefresh())
}

func TestHandlersFromRegistry_Errors(t *testing.T) {
	all := registryWith("google", "microsoft", "microsoft-sa", "teams", "zoom")
	withBinding := func(extra ProviderBinding) []ProviderBinding {
		return append(append([]ProviderBinding{}, DefaultBindings...), extra)
	}

	tests := []struct {
		name      string
		providers oauth.ProviderRegistry
		bindings  []ProviderBinding
		wantErr   string
	}{
		{"provider not registered", registryWith("google", "microsoft", "microsoft-sa", "teams"), DefaultBindings, `"zoom"`},
		{"method left unbound", all, DefaultBindings[:4], "CONF_ZOOM_OAUTH has no oauth provider"},
		{"direct submission method", all, withBinding(ProviderBinding{Method: MethodExchange, Provider: "microsoft"}), "authorization code flow"},
		{"bound twice", all, withBinding(ProviderBinding{Method: MethodZoomOAuth, Provider: "zoom", Refresh: true}), "bound twice"},
		{
			"conflicting refresh",
			all,
			[]ProviderBinding{
				{Method: MethodMicrosoftOAuth, Provider: "microsoft", Refresh: true},
				{Method: MethodTeamsOAuth, Provider: "microsoft", Refresh: false},
			},
			"conflicting refresh",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := HandlersFromRegistry(tt.providers, tt.bindings...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
