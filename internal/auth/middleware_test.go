package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRequireSession(t *testing.T) {
	store := NewSessionStore(time.Hour)
	session, err := store.Create("user-1", "hunter2")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	handler := RequireSession(store, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := SessionFromContext(r.Context())
		if !ok {
			t.Error("Expected session in context")
			return
		}
		if got.UserID != "user-1" || got.Secret != "hunter2" {
			t.Errorf("unexpected session in context: %+v", got)
		}
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("allows request with valid Bearer token", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("Authorization", "Bearer "+session.Token)

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("Expected status 200, got %d", rr.Code)
		}
	})

	t.Run("rejects request without Authorization header", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("Expected status 401, got %d", rr.Code)
		}
	})

	t.Run("rejects request with invalid Authorization format", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("Authorization", "InvalidFormat")

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("Expected status 401, got %d", rr.Code)
		}
	})

	t.Run("rejects request with wrong auth scheme", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("Authorization", "Basic abcd_abcd_abcd")

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("Expected status 401, got %d", rr.Code)
		}
	})

	t.Run("rejects unknown token", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("Authorization", "Bearer not_a_session")

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("Expected status 401, got %d", rr.Code)
		}
	})

	t.Run("rejects deleted session", func(t *testing.T) {
		ended, err := store.Create("user-2", "secret")
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		store.Delete(ended.Token)

		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("Authorization", "Bearer "+ended.Token)

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("Expected status 401, got %d", rr.Code)
		}
	})
}

func TestSessionStoreExpiry(t *testing.T) {
	store := NewSessionStore(10 * time.Millisecond)
	session, err := store.Create("user-1", "hunter2")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, ok := store.Get(session.Token); !ok {
		t.Fatal("Expected fresh session to resolve")
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok := store.Get(session.Token); ok {
		t.Error("Expected idle session to expire")
	}
}

func TestSessionStoreUpdateSecret(t *testing.T) {
	store := NewSessionStore(time.Hour)
	first, err := store.Create("user-1", "old-password")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	second, err := store.Create("user-1", "old-password")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	other, err := store.Create("user-2", "unrelated")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	store.UpdateSecret("user-1", "new-password")

	for _, token := range []string{first.Token, second.Token} {
		session, ok := store.Get(token)
		if !ok || session.Secret != "new-password" {
			t.Errorf("Expected updated secret, got %+v", session)
		}
	}

	session, ok := store.Get(other.Token)
	if !ok || session.Secret != "unrelated" {
		t.Errorf("Expected other user untouched, got %+v", session)
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}

	if !CheckPassword(hash, "hunter2") {
		t.Error("Expected the right password to verify")
	}
	if CheckPassword(hash, "hunter3") {
		t.Error("Expected a wrong password to fail")
	}
}
