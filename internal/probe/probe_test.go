package probe_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/dantte-lp/gocsit/internal/converge"
	"github.com/dantte-lp/gocsit/internal/probe"
)

const topologyPath = "data/network-topology:network-topology/topology=pcep-topology?content=nonconfig"

// newController serves fixed RESTCONF documents with basic auth.
func newController(t *testing.T, routes map[string]func() (int, string)) *probe.Client {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "admin" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		key := strings.TrimPrefix(r.URL.RequestURI(), "/rests/")
		handler, ok := routes[r.Method+" "+key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":{"error":[{"error-tag":"data-missing"}]}}`))
			return
		}
		status, body := handler()
		w.Header().Set("Content-Type", probe.ContentTypeJSON)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	c, err := probe.NewClient(slog.New(slog.DiscardHandler), probe.Config{
		BaseURL:  srv.URL + "/rests",
		Username: "admin",
		Password: "admin",
		Timeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func fixed(status int, body string) func() (int, string) {
	return func() (int, string) { return status, body }
}

func TestNewClientValidation(t *testing.T) {
	t.Parallel()

	for _, base := range []string{"", "127.0.0.1:8181", "://bad"} {
		if _, err := probe.NewClient(nil, probe.Config{BaseURL: base}); !errors.Is(err, probe.ErrInvalidConfig) {
			t.Errorf("NewClient(%q) error = %v, want ErrInvalidConfig", base, err)
		}
	}

	c, err := probe.NewClient(nil, probe.Config{BaseURL: "http://odl:8181/rests/"})
	if err != nil {
		t.Fatal(err)
	}
	want := "http://odl:8181/rests/data/node=pcc:%2F%2F10.0.0.1?content=nonconfig"
	if got := c.URL("/data/node=pcc:%2F%2F10.0.0.1?content=nonconfig"); got != want {
		t.Errorf("URL() = %q, want %q", got, want)
	}
}

func TestGetExpectedStatus(t *testing.T) {
	t.Parallel()

	c := newController(t, map[string]func() (int, string){
		"GET data/ok": fixed(http.StatusOK, `{}`),
	})

	if _, err := c.Get(t.Context(), "data/ok", http.StatusOK); err != nil {
		t.Errorf("Get: %v", err)
	}

	resp, err := c.Get(t.Context(), "data/missing", http.StatusOK)
	if !errors.Is(err, probe.ErrUnexpectedStatus) {
		t.Fatalf("error = %v, want ErrUnexpectedStatus", err)
	}
	var statusErr *probe.StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusNotFound {
		t.Errorf("StatusError = %+v", statusErr)
	}
	if resp == nil || resp.Status != http.StatusNotFound {
		t.Errorf("response not returned with the status error: %+v", resp)
	}

	if _, err := c.Get(t.Context(), "data/missing"); err != nil {
		t.Errorf("Get without expected codes: %v", err)
	}
}

func TestPostSendsBody(t *testing.T) {
	t.Parallel()

	var gotType, gotBody atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotType.Store(r.Header.Get("Content-Type"))
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(r.Body)
		gotBody.Store(buf.String())
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	c, err := probe.NewClient(nil, probe.Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Post(t.Context(), "operations/x", []byte(`<input/>`), probe.ContentTypeXML, http.StatusNoContent); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if gotType.Load() != probe.ContentTypeXML || gotBody.Load() != "<input/>" {
		t.Errorf("server saw %v %v", gotType.Load(), gotBody.Load())
	}
}

func TestJSONInt(t *testing.T) {
	t.Parallel()

	topology := `{"network-topology:topology":[{"node":[
		{"node-id":"pcc://10.0.0.1","path-computation-client":{"reported-lsp":[{"name":"a"},{"name":"b"}]}},
		{"node-id":"pcc://10.0.0.2","path-computation-client":{"reported-lsp":[{"name":"c"}]}}
	]}]}`
	c := newController(t, map[string]func() (int, string){
		"GET " + topologyPath: fixed(http.StatusOK, topology),
		"GET data/rib":        fixed(http.StatusOK, `{"loc-rib":{"prefixes":12.5}}`),
	})

	tests := []struct {
		name    string
		path    string
		expr    string
		want    int
		wantErr error
	}{
		{name: "sum of lsps", path: topologyPath, expr: `[.. | ."reported-lsp"? // empty | length] | add`, want: 3},
		{name: "array length", path: topologyPath, expr: `.["network-topology:topology"][0].node`, want: 2},
		{name: "non-integer", path: "data/rib", expr: `.["loc-rib"].prefixes`, wantErr: probe.ErrQuery},
		{name: "string result", path: topologyPath, expr: `.["network-topology:topology"][0].node[0]["node-id"]`, wantErr: probe.ErrQuery},
		{name: "404", path: "data/absent", expr: `.`, wantErr: probe.ErrUnexpectedStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p, err := probe.JSONInt(c, tt.path, tt.expr)
			if err != nil {
				t.Fatalf("JSONInt: %v", err)
			}
			got, err := p.Call(t.Context())
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Call: %v", err)
			}
			if got != tt.want {
				t.Errorf("value = %d, want %d", got, tt.want)
			}
		})
	}

	if _, err := probe.JSONInt(c, topologyPath, `.[`); !errors.Is(err, probe.ErrQuery) {
		t.Errorf("bad expression error = %v, want ErrQuery", err)
	}
}

func TestJSONValueIgnoresVolatileKeys(t *testing.T) {
	t.Parallel()

	var n atomic.Int32
	c := newController(t, map[string]func() (int, string){
		"POST operations/stats": fixed(http.StatusOK, `{}`),
		"GET data/stats": func() (int, string) {
			// The timestamp and the list order change on every read.
			if n.Add(1)%2 == 0 {
				return http.StatusOK, `{"stats":{"received":7,"last-update":"` + time.Now().String() + `","peers":["b","a"]}}`
			}
			return http.StatusOK, `{"stats":{"peers":["a","b"],"last-update":"then","received":7}}`
		},
	})

	p, err := probe.JSONValue(c, "data/stats", ".stats", "last-update")
	if err != nil {
		t.Fatal(err)
	}
	got, err := converge.WaitForStable(t.Context(), nil, converge.Stability[string](5*time.Second, 10*time.Millisecond, 3), p)
	if err != nil {
		t.Fatalf("WaitForStable: %v", err)
	}
	if want := `{"peers":["a","b"],"received":7}`; got != want {
		t.Errorf("stable value = %s, want %s", got, want)
	}
}

func TestCanonical(t *testing.T) {
	t.Parallel()

	a := `{"b":1,"a":{"timestamp":1,"list":[{"id":2},{"id":1}]}}`
	b := `{"a":{"list":[{"id":1},{"id":2}],"timestamp":99},"b":1}`

	ca, err := probe.Canonical([]byte(a), "timestamp")
	if err != nil {
		t.Fatal(err)
	}
	cb, err := probe.Canonical([]byte(b), "timestamp")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(ca, cb); diff != "" {
		t.Errorf("canonical forms differ (-a +b):\n%s", diff)
	}

	withTS, err := probe.Canonical([]byte(a))
	if err != nil {
		t.Fatal(err)
	}
	if withTS == ca {
		t.Error("no volatile keys given, but timestamp was dropped")
	}

	if _, err := probe.Canonical([]byte("not json")); !errors.Is(err, probe.ErrQuery) {
		t.Errorf("invalid JSON error = %v", err)
	}
}

func TestStatusCodeAndExpect(t *testing.T) {
	t.Parallel()

	var connected atomic.Bool
	peerPath := "data/bgp-rib:bgp-rib/rib=example-bgp-rib/peer=bgp:%2F%2F127.0.0.2?content=nonconfig"
	c := newController(t, map[string]func() (int, string){
		"GET " + peerPath: func() (int, string) {
			if connected.Load() {
				return http.StatusOK, `{"peer":[{"peer-id":"bgp://127.0.0.2"}]}`
			}
			return http.StatusNotFound, `{}`
		},
	})

	code, err := probe.StatusCode(c, peerPath).Call(t.Context())
	if err != nil || code != http.StatusNotFound {
		t.Errorf("StatusCode = %d, %v, want 404", code, err)
	}

	calls := 0
	expect := probe.Expect(c, peerPath, http.StatusOK)
	wrapped := converge.NewProbe(expect.Name, func(ctx context.Context) ([]byte, error) {
		calls++
		if calls == 3 {
			connected.Store(true)
		}
		return expect.Call(ctx)
	}, expect.Args...)

	body, err := converge.Pass(t.Context(), nil, converge.RetryPolicy{MaxAttempts: 5, Interval: time.Millisecond}, wrapped)
	if err != nil {
		t.Fatalf("Pass: %v", err)
	}
	if !strings.Contains(string(body), "127.0.0.2") {
		t.Errorf("body = %s", body)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestTextCount(t *testing.T) {
	t.Parallel()

	c := newController(t, map[string]func() (int, string){
		"GET " + topologyPath: fixed(http.StatusOK, `{"ero":[{"ip-prefix":"1.1.1.1/32"},{"ip-prefix":"1.1.1.1/32"},{"ip-prefix":"2.2.2.2/32"}]}`),
	})

	p, err := probe.TextCount(c, topologyPath, `1\.1\.1\.1/32`)
	if err != nil {
		t.Fatal(err)
	}
	n, err := p.Call(t.Context())
	if err != nil || n != 2 {
		t.Errorf("TextCount = %d, %v, want 2", n, err)
	}
	if got := p.String(); !strings.HasPrefix(got, "text_count(") {
		t.Errorf("probe identity = %q", got)
	}

	if _, err := probe.TextCount(c, topologyPath, "("); err == nil {
		t.Error("invalid pattern accepted")
	}
}

func TestUnauthorized(t *testing.T) {
	t.Parallel()

	c := newController(t, nil)
	bad, err := probe.NewClient(nil, probe.Config{BaseURL: strings.TrimSuffix(c.URL(""), "/")})
	if err != nil {
		t.Fatal(err)
	}
	_, err = bad.Get(t.Context(), "data/anything", http.StatusOK)
	var statusErr *probe.StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusUnauthorized {
		t.Errorf("error = %v, want 401 StatusError", err)
	}
}
