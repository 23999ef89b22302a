package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lungsom/chatd/internal/session"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, session.NewContext("u1", "tok"), nil)
}

func TestBearerTokenAttached(t *testing.T) {
	var gotAuth string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`[]`))
	})

	if _, err := c.RecentConversations(context.Background()); err != nil {
		t.Fatal(err)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q, want Bearer tok", gotAuth)
	}
}

func TestInvalidSessionRejectedLocally(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := NewClient(srv.URL, session.Context{}, nil)
	_, err := c.RecentConversations(context.Background())
	if err == nil {
		t.Fatal("expected error for empty session")
	}
	if !errors.Is(err, session.ErrNoSession) {
		t.Errorf("error = %v, want wrapped ErrNoSession", err)
	}
	if called {
		t.Error("request hit the network despite dead session")
	}
}

func TestPostMessage(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/messages" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["text"] != "hi" || body["receiverId"] != "7" {
			t.Errorf("body = %v", body)
		}
		_, _ = w.Write([]byte(`{"_id": "m100", "conversationId": "c1", "senderId": "u1", "text": "hi", "createdAt": 1700000000000}`))
	})

	msg, err := c.PostMessage(context.Background(), "c1", "7", "hi")
	if err != nil {
		t.Fatal(err)
	}
	if msg.ID != "m100" {
		t.Errorf("ID = %q, want m100", msg.ID)
	}
}

// Some backends emit numeric ids; they must decode to canonical strings.
func TestIDDecodesNumbers(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"_id": 42, "peerId": "0042", "peerName": "N"}]`))
	})

	convs, err := c.RecentConversations(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if convs[0].ID != "42" {
		t.Errorf("ID = %q, want 42", convs[0].ID)
	}
	if convs[0].PeerID != "42" {
		t.Errorf("PeerID = %q, want canonical 42", convs[0].PeerID)
	}
}

func TestNon2xxBecomesStoreError(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.PostMessage(context.Background(), "c1", "7", "hi")
	if err == nil {
		t.Fatal("expected error")
	}
	var se *StoreError
	if !errors.As(err, &se) {
		t.Fatalf("error type = %T, want *StoreError", err)
	}
	if se.StatusCode != http.StatusBadGateway || se.Op != "post_message" {
		t.Errorf("StoreError = %+v", se)
	}
}

func TestSearchUsersQueryEscaped(t *testing.T) {
	var gotQuery string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("query")
		_, _ = w.Write([]byte(`[{"_id": "u2", "username": "nitesh"}]`))
	})

	users, err := c.SearchUsers(context.Background(), "nit esh")
	if err != nil {
		t.Fatal(err)
	}
	if gotQuery != "nit esh" {
		t.Errorf("query = %q, want nit esh", gotQuery)
	}
	if len(users) != 1 || users[0].Username != "nitesh" {
		t.Errorf("users = %+v", users)
	}
}
