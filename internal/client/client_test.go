package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, 5*time.Second)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c, srv
}

func TestSend_DirectResponse(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"response":"Spear phishing is a targeted attack."}`))
	}))

	resp, err := c.Send(context.Background(), Request{Message: "What is spear phishing?", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if resp.Kind != KindDirect {
		t.Errorf("expected KindDirect, got %v", resp.Kind)
	}
	if resp.Text != "Spear phishing is a targeted attack." {
		t.Errorf("unexpected text %q", resp.Text)
	}
}

func TestSend_AsyncJobResponse(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"servicenow_response":{"status":"success","requestId":"abc123"}}`))
	}))

	resp, err := c.Send(context.Background(), Request{Message: "reset my password", SessionID: "s1", UseServiceNow: true})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if resp.Kind != KindAsyncJob || resp.RequestID != "abc123" {
		t.Errorf("expected async job abc123, got kind=%v id=%q", resp.Kind, resp.RequestID)
	}
}

func TestSend_EmptyResponse(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))

	resp, err := c.Send(context.Background(), Request{Message: "hi", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if resp.Kind != KindEmpty {
		t.Errorf("expected KindEmpty, got %v", resp.Kind)
	}
}

func TestSend_HTTPErrorCarriesDetail(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"detail":"ServiceNow API Error: upstream down"}`))
	}))

	_, err := c.Send(context.Background(), Request{Message: "hi", SessionID: "s1"})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected *HTTPError, got %T: %v", err, err)
	}
	if httpErr.Status != 500 || httpErr.Detail != "ServiceNow API Error: upstream down" {
		t.Errorf("unexpected error contents: %+v", httpErr)
	}
}

func TestSend_MalformedJSON(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>definitely not json</html>`))
	}))

	_, err := c.Send(context.Background(), Request{Message: "hi", SessionID: "s1"})
	var malformed *MalformedResponseError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected *MalformedResponseError, got %T: %v", err, err)
	}
}

func TestSend_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close() // nothing listening anymore

	c, err := New(url, time.Second)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_, err = c.Send(context.Background(), Request{Message: "hi", SessionID: "s1"})
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected *NetworkError, got %T: %v", err, err)
	}
}

func TestPoll_BothBodyShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"servicenow_response shape", `{"servicenow_response":{"status":"success","body":[{"uiType":"OutputText","value":"a"}]}}`, 1},
		{"messages shape", `{"status":"success","messages":[{"uiType":"OutputText","value":"a"},{"uiType":"OutputText","value":"b"}],"done":false}`, 2},
		{"empty body means still pending", `{"servicenow_response":{"status":"success","body":[]}}`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/servicenow/responses/req1" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				w.Write([]byte(tt.body))
			}))
			res, err := c.Poll(context.Background(), "req1")
			if err != nil {
				t.Fatalf("Poll failed: %v", err)
			}
			if len(res.Items) != tt.want {
				t.Errorf("expected %d items, got %d", tt.want, len(res.Items))
			}
		})
	}
}

func TestPoll_Unauthorized(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"Unauthorized"}`))
	}))

	_, err := c.Poll(context.Background(), "req1")
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected *HTTPError, got %T", err)
	}
	if !httpErr.Unauthorized() {
		t.Error("expected Unauthorized() to report true for 401")
	}
}

func TestAcknowledge_SetsQueryFlag(t *testing.T) {
	var gotAck string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAck = r.URL.Query().Get("acknowledge")
		w.Write([]byte(`{"servicenow_response":{"body":[]}}`))
	}))

	if err := c.Acknowledge(context.Background(), "req1"); err != nil {
		t.Fatalf("Acknowledge failed: %v", err)
	}
	if gotAck != "true" {
		t.Errorf("expected acknowledge=true query param, got %q", gotAck)
	}
}

func TestLogin_StoresSessionCookie(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session_id", Value: "cookie-1"})
		w.Write([]byte(`{"message":"Login successful"}`))
	})
	var gotCookie string
	mux.HandleFunc("/chat", func(w http.ResponseWriter, r *http.Request) {
		if ck, err := r.Cookie("session_id"); err == nil {
			gotCookie = ck.Value
		}
		w.Write([]byte(`{"response":"ok"}`))
	})

	c, _ := newTestClient(t, mux)
	if err := c.Login(context.Background(), "beth", "secret"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if _, err := c.Send(context.Background(), Request{Message: "hi", SessionID: "s1"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if gotCookie != "cookie-1" {
		t.Errorf("session cookie not replayed, got %q", gotCookie)
	}
}

func TestLogin_BadCredentials(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"Invalid username or password"}`))
	}))

	err := c.Login(context.Background(), "beth", "wrong")
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.Status != 401 {
		t.Fatalf("expected 401 *HTTPError, got %v", err)
	}
}
