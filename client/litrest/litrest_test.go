package litrest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klinio/consilium"
)

func TestCallToolSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/articles/search" {
			t.Errorf("path = %q", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("term") != "metformin outcomes" {
			t.Errorf("term = %q", q.Get("term"))
		}
		if q.Get("year_from") != "2020" {
			t.Errorf("year_from = %q", q.Get("year_from"))
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sekret" {
			t.Errorf("authorization = %q", got)
		}
		_, _ = w.Write([]byte(`{"articles":[
			{"pmid":"38123456","title":"Metformin and CV outcomes","abstract":"A large cohort...","journal":"Lancet","year":2023,"url":"https://example.org/38123456"}
		]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, WithAPIKey("sekret"))
	res, err := c.CallTool(context.Background(), "search", map[string]string{
		"term":      "metformin outcomes",
		"year_from": "2020",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != consilium.ToolOK || len(res.Records) != 1 {
		t.Fatalf("result = %+v", res)
	}
	rec := res.Records[0]
	if rec.Meta["pmid"] != "38123456" || rec.Meta["year"] != "2023" {
		t.Errorf("meta = %v", rec.Meta)
	}
	if rec.Content != "Metformin and CV outcomes\n\nA large cohort..." {
		t.Errorf("content = %q", rec.Content)
	}
}

func TestCallToolEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"articles":[]}`))
	}))
	defer srv.Close()

	res, err := New(srv.URL).CallTool(context.Background(), "search", map[string]string{"query": "x"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != consilium.ToolEmpty {
		t.Errorf("status = %q, want empty", res.Status)
	}
}

func TestCallToolStatusMapping(t *testing.T) {
	cases := []struct {
		code int
		want consilium.ToolStatus
	}{
		{http.StatusTooManyRequests, consilium.ToolTransient},
		{http.StatusServiceUnavailable, consilium.ToolTransient},
		{http.StatusUnauthorized, consilium.ToolPermanent},
		{http.StatusNotFound, consilium.ToolPermanent},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tc.code)
		}))
		res, err := New(srv.URL).CallTool(context.Background(), "search", map[string]string{"query": "x"})
		srv.Close()
		if err != nil {
			t.Fatal(err)
		}
		if res.Status != tc.want {
			t.Errorf("status %d mapped to %q, want %q", tc.code, res.Status, tc.want)
		}
	}
}

func TestCallToolUnknownTool(t *testing.T) {
	if _, err := New("http://localhost:0").CallTool(context.Background(), "fetch", nil); err == nil {
		t.Fatal("want error for unknown tool")
	}
}

func TestHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ping" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if h := New(srv.URL).HealthCheck(context.Background()); h != consilium.HealthAvailable {
		t.Errorf("health = %q, want available", h)
	}
	if h := New("http://127.0.0.1:1").HealthCheck(context.Background()); h != consilium.HealthUnavailable {
		t.Errorf("health = %q, want unavailable", h)
	}
}
