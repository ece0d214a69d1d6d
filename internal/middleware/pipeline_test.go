package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/pizza42/internal/auth"
)

// mockVerifier はTokenVerifierのモック。
type mockVerifier struct {
	claims *auth.Claims
	err    error
	calls  int
	token  string
}

func (m *mockVerifier) Verify(ctx context.Context, token string) (*auth.Claims, error) {
	m.calls++
	m.token = token
	if m.err != nil {
		return nil, m.err
	}
	return m.claims, nil
}

func testClaims(subject string, scope string) *auth.Claims {
	return &auth.Claims{
		Issuer:   "https://tenant.example.com/",
		Subject:  subject,
		Audience: []string{"https://api.pizza42.example"},
		Scope:    auth.ParseScope(scope),
	}
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func TestPipeline_RunsStagesInOrder(t *testing.T) {
	var order []string
	stage := func(name string) Stage {
		return StageFunc(func(r *http.Request) (*http.Request, error) {
			order = append(order, name)
			return r, nil
		})
	}

	handler := Pipeline(stage("a"), stage("b"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if got := strings.Join(order, ","); got != "a,b,handler" {
		t.Errorf("order = %q, want %q", got, "a,b,handler")
	}
}

func TestPipeline_StopsOnError(t *testing.T) {
	laterCalled := false
	handler := Pipeline(
		StageFunc(func(r *http.Request) (*http.Request, error) {
			return nil, auth.ErrInsufficientScope
		}),
		StageFunc(func(r *http.Request) (*http.Request, error) {
			laterCalled = true
			return r, nil
		}),
	)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Result().StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusForbidden)
	}
	if laterCalled {
		t.Error("later stage should not be called")
	}
}

func TestAuthenticate_ValidToken_InjectsClaims(t *testing.T) {
	verifier := &mockVerifier{claims: testClaims("auth0|user-1", "write:order")}

	var captured *auth.Claims
	handler := Pipeline(Authenticate(verifier))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer abc.def.ghi")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	if verifier.token != "abc.def.ghi" {
		t.Errorf("verified token = %q, want %q", verifier.token, "abc.def.ghi")
	}
	if captured == nil || captured.Subject != "auth0|user-1" {
		t.Errorf("claims = %+v, want subject auth0|user-1", captured)
	}
}

func TestAuthenticate_NoToken_Returns401WithoutVerifying(t *testing.T) {
	verifier := &mockVerifier{claims: testClaims("u", "")}

	handler := Pipeline(Authenticate(verifier))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/place_order/u", nil))

	resp := w.Result()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
	if verifier.calls != 0 {
		t.Errorf("verifier calls = %d, want 0", verifier.calls)
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Msg != "Invalid token" {
		t.Errorf("msg = %q, want %q", body.Msg, "Invalid token")
	}
}

// 検証失敗の理由はレスポンスに含めない。
func TestAuthenticate_VerificationFailure_HidesReason(t *testing.T) {
	verifier := &mockVerifier{err: auth.ErrInvalidAudience}

	handler := Pipeline(Authenticate(verifier))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer token")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
	if containsFold(w.Body.String(), "audience") {
		t.Errorf("response leaks verification reason: %s", w.Body.String())
	}
}

func TestRequireScopes(t *testing.T) {
	tests := []struct {
		name       string
		scope      string
		wantStatus int
	}{
		{"has scope", "openid write:order", http.StatusOK},
		{"missing scope", "openid read:order", http.StatusForbidden},
		{"empty scope", "", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verifier := &mockVerifier{claims: testClaims("auth0|user-1", tt.scope)}
			handler := Pipeline(Authenticate(verifier), RequireScopes("write:order"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodPost, "/place_order/x", nil)
			req.Header.Set("Authorization", "Bearer token")
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Result().StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Result().StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestRequireScopes_WithoutAuthenticate_Returns401(t *testing.T) {
	_, err := RequireScopes("write:order").Run(httptest.NewRequest(http.MethodGet, "/", nil))
	if !errors.Is(err, auth.ErrNoToken) {
		t.Errorf("error = %v, want %v", err, auth.ErrNoToken)
	}
}

func TestRequireSubjectMatch(t *testing.T) {
	verifier := &mockVerifier{claims: testClaims("auth0|user-1", "write:order")}

	r := chi.NewRouter()
	r.With(Pipeline(Authenticate(verifier), RequireSubjectMatch("id"))).Get("/order_history/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{"same subject", "/order_history/auth0%7Cuser-1", http.StatusOK},
		{"other subject", "/order_history/auth0%7Cuser-2", http.StatusForbidden},
		{"lowercase escape", "/order_history/auth0%7cuser-1", http.StatusOK},
		{"escaped unreserved char", "/order_history/auth0%7Cuser%2D1", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.Header.Set("Authorization", "Bearer token")
			w := httptest.NewRecorder()

			r.ServeHTTP(w, req)

			if w.Result().StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Result().StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestPathParam_DecodesOnce(t *testing.T) {
	var got string
	r := chi.NewRouter()
	r.Get("/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		got = PathParam(r, "id")
	})

	tests := []struct {
		path string
		want string
	}{
		{"/users/auth0%7Cabc", "auth0|abc"},
		{"/users/auth0%7cabc", "auth0|abc"},
		{"/users/user%40example.com", "user@example.com"},
		{"/users/a%2525b", "a%25b"},
	}

	for _, tt := range tests {
		got = ""
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tt.path, nil))
		if got != tt.want {
			t.Errorf("PathParam(%s) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestSubjectFromContext_NoClaims(t *testing.T) {
	if got := SubjectFromContext(context.Background()); got != "" {
		t.Errorf("SubjectFromContext = %q, want empty", got)
	}
	if _, ok := ClaimsFromContext(context.Background()); ok {
		t.Error("ClaimsFromContext should report false without claims")
	}
}
