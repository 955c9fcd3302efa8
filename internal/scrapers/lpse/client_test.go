package lpse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lpse-scraper/internal/components/telemetry"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const listingPage = `<!DOCTYPE html>
<html>
<head>
	<title>Daftar Tender</title>
	<script src="/kemhan/public/js/jquery.min.js"></script>
	<script>
		var authenticityToken = 'deadbeef01';
		$(document).ready(function () { $('#tbllelang').DataTable(); });
	</script>
</head>
<body><table id="tbllelang"></table></body>
</html>`

const dataBody = `{"draw":1,"recordsTotal":42,"recordsFiltered":10,"data":[["10001","Pengadaan Alat Komunikasi","Rp 1.000.000"],{"kode":"10002","nama":"Pembangunan Gudang"}]}`

type capturedPost struct {
	form    url.Values
	query   url.Values
	headers http.Header
	cookie  string
}

// stubUpstream imitates an SPSE instance under /kemhan.
type stubUpstream struct {
	listingStatus int
	listingBody   string
	dataStatus    int
	dataBody      string

	mutex sync.Mutex
	posts []capturedPost
}

func (s *stubUpstream) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /kemhan/lelang", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "SPSE_SESSION", Value: "session-1", Path: "/"})
		if s.listingStatus != 0 {
			w.WriteHeader(s.listingStatus)
		}
		w.Write([]byte(s.listingBody))
	})
	mux.HandleFunc("POST /kemhan/dt/lelang", func(w http.ResponseWriter, r *http.Request) {
		err := r.ParseForm()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		captured := capturedPost{
			form:    r.PostForm,
			query:   r.URL.Query(),
			headers: r.Header.Clone(),
		}
		cookie, err := r.Cookie("SPSE_SESSION")
		if err == nil {
			captured.cookie = cookie.Value
		}

		s.mutex.Lock()
		s.posts = append(s.posts, captured)
		s.mutex.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if s.dataStatus != 0 {
			w.WriteHeader(s.dataStatus)
		}
		w.Write([]byte(s.dataBody))
	})
	return mux
}

func (s *stubUpstream) capturedPosts() []capturedPost {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]capturedPost(nil), s.posts...)
}

func newTestFetcher(t *testing.T, stub *stubUpstream) (Fetcher, *telemetry.Recorder) {
	t.Helper()

	server := httptest.NewServer(stub.handler())
	t.Cleanup(server.Close)

	rec := &telemetry.Recorder{}
	fetcher, err := NewFetcher(Options{BaseUrl: server.URL + "/kemhan"}, rec)
	require.NoError(t, err)
	return fetcher, rec
}

func TestNewFetcher(t *testing.T) {
	rec := &telemetry.Recorder{}

	fetcher, err := NewFetcher(Options{}, rec)
	require.NoError(t, err)
	require.Equal(t, "https://spse.inaproc.id/kemhan/lelang", fetcher.ListingUrl())
	require.Equal(t, "https://spse.inaproc.id/kemhan/dt/lelang", fetcher.DataUrl())

	fetcher, err = NewFetcher(Options{BaseUrl: "https://lpse.example.go.id/eproc4/"}, rec)
	require.NoError(t, err)
	require.Equal(t, "https://lpse.example.go.id/eproc4/lelang", fetcher.ListingUrl())

	_, err = NewFetcher(Options{BaseUrl: "/kemhan"}, rec)
	require.Error(t, err)
	require.Len(t, rec.Reports(telemetry.REPORT_BROKEN), 1)
}

func TestFetch(t *testing.T) {
	stub := &stubUpstream{listingBody: listingPage, dataBody: dataBody}
	fetcher, rec := newTestFetcher(t, stub)

	payload, err := fetcher.Fetch(context.Background(), 2024)
	require.NoError(t, err)
	require.Equal(t, 42, payload.RecordsTotal)
	require.Equal(t, 10, payload.RecordsFiltered)
	require.Len(t, payload.Data, 2)
	require.JSONEq(t, `["10001","Pengadaan Alat Komunikasi","Rp 1.000.000"]`, string(payload.Data[0]))
	require.JSONEq(t, `{"kode":"10002","nama":"Pembangunan Gudang"}`, string(payload.Data[1]))
	require.Empty(t, rec.Reports(telemetry.REPORT_BROKEN))

	posts := stub.capturedPosts()
	require.Len(t, posts, 1)
	post := posts[0]

	expectedForm := url.Values{
		"draw":              {"1"},
		"start":             {"0"},
		"length":            {"25"},
		"search[value]":     {""},
		"search[regex]":     {"false"},
		"authenticityToken": {"deadbeef01"},
		"order[0][column]":  {"1"},
		"order[0][dir]":     {"asc"},
	}
	if diff := cmp.Diff(expectedForm, post.form); diff != "" {
		t.Fatalf("unexpected form body (-want +got):\n%s", diff)
	}
	require.Equal(t, "2024", post.query.Get("tahun"))
	require.Equal(t, fetcher.ListingUrl(), post.headers.Get("Referer"))
	require.Equal(t, "XMLHttpRequest", post.headers.Get("X-Requested-With"))
	require.Equal(t, userAgent, post.headers.Get("User-Agent"))
	require.Equal(t, "session-1", post.cookie)
}

func TestFetchEmptyTable(t *testing.T) {
	stub := &stubUpstream{
		listingBody: listingPage,
		dataBody:    `{"draw":1,"recordsTotal":0,"recordsFiltered":0,"data":[]}`,
	}
	fetcher, _ := newTestFetcher(t, stub)

	payload, err := fetcher.Fetch(context.Background(), 2010)
	require.NoError(t, err)
	require.Equal(t, 0, payload.RecordsTotal)
	require.NotNil(t, payload.Data)
	require.Len(t, payload.Data, 0)
}

func TestFetchTokenElementNotFound(t *testing.T) {
	challenge := `<!DOCTYPE html><html><head><title>Just a moment...</title>` +
		`<script>window._cf_chl_opt = {cType: 'managed'};</script></head><body>` +
		strings.Repeat("<div>checking your browser</div>", 40) + `</body></html>`
	stub := &stubUpstream{listingBody: challenge, dataBody: dataBody}
	fetcher, rec := newTestFetcher(t, stub)

	_, err := fetcher.Fetch(context.Background(), 2024)
	require.Error(t, err)
	require.True(t, IsKind(err, TokenElementNotFound))

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, challenge[:bodyPrefixLength], fetchErr.BodyPrefix)
	require.Empty(t, stub.capturedPosts())

	broken := rec.Reports(telemetry.REPORT_BROKEN)
	require.Len(t, broken, 1)
	require.Equal(t, "lpse_scraper: fetcher.fetch", broken[0].ID)
	require.Contains(t, broken[0].Params, fetchErr.BodyPrefix)
}

func TestFetchTokenPatternMismatch(t *testing.T) {
	stub := &stubUpstream{
		listingBody: `<html><script>var authenticityToken = getToken();</script></html>`,
		dataBody:    dataBody,
	}
	fetcher, _ := newTestFetcher(t, stub)

	_, err := fetcher.Fetch(context.Background(), 2024)
	require.True(t, IsKind(err, TokenPatternMismatch))
	require.Empty(t, stub.capturedPosts())
}

func TestFetchNonSuccessStatus(t *testing.T) {
	table := []struct {
		name string
		stub *stubUpstream
		step string
	}{
		{
			name: "listing forbidden",
			stub: &stubUpstream{listingStatus: http.StatusForbidden, listingBody: listingPage, dataBody: dataBody},
			step: "listing",
		},
		{
			name: "data server error",
			stub: &stubUpstream{listingBody: listingPage, dataStatus: http.StatusInternalServerError, dataBody: "oops"},
			step: "data",
		},
	}

	for _, row := range table {
		t.Run(row.name, func(t *testing.T) {
			fetcher, _ := newTestFetcher(t, row.stub)

			_, err := fetcher.Fetch(context.Background(), 2024)
			require.True(t, IsKind(err, TransportError))

			var fetchErr *FetchError
			require.ErrorAs(t, err, &fetchErr)
			require.Equal(t, row.step, fetchErr.Step)
			require.NotZero(t, fetchErr.StatusCode)
		})
	}
}

func TestFetchUpstreamFormatError(t *testing.T) {
	bodies := map[string]string{
		"html instead of json":    `<html><body>Sesi anda telah berakhir</body></html>`,
		"missing recordsTotal":    `{"recordsFiltered":1,"data":[]}`,
		"missing recordsFiltered": `{"recordsTotal":1,"data":[]}`,
		"missing data":            `{"recordsTotal":1,"recordsFiltered":1}`,
		"null data":               `{"recordsTotal":1,"recordsFiltered":1,"data":null}`,
		"data is not an array":    `{"recordsTotal":1,"recordsFiltered":1,"data":{"a":1}}`,
		"string totals":           `{"recordsTotal":"1","recordsFiltered":1,"data":[]}`,
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			stub := &stubUpstream{listingBody: listingPage, dataBody: body}
			fetcher, _ := newTestFetcher(t, stub)

			_, err := fetcher.Fetch(context.Background(), 2024)
			require.True(t, IsKind(err, UpstreamFormatError), "got %v", err)
		})
	}
}

func TestFetchUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseUrl := server.URL + "/kemhan"
	server.Close()

	fetcher, err := NewFetcher(Options{BaseUrl: baseUrl}, &telemetry.Recorder{})
	require.NoError(t, err)

	_, err = fetcher.Fetch(context.Background(), 2024)
	require.True(t, IsKind(err, TransportError))
}

func TestFetchCancelledContext(t *testing.T) {
	stub := &stubUpstream{listingBody: listingPage, dataBody: dataBody}
	fetcher, _ := newTestFetcher(t, stub)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fetcher.Fetch(ctx, 2024)
	require.True(t, IsKind(err, TransportError))
	require.ErrorIs(t, err, context.Canceled)
}

// sessionUpstream hands out a distinct session cookie and token on every listing request
// and only accepts a data request whose token belongs to the session in its cookie.
type sessionUpstream struct {
	counter  atomic.Int64
	arrivals sync.WaitGroup

	mutex    sync.Mutex
	sessions map[string]string
}

func (s *sessionUpstream) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /kemhan/lelang", func(w http.ResponseWriter, r *http.Request) {
		n := s.counter.Add(1)
		session := fmt.Sprintf("session-%d", n)
		token := fmt.Sprintf("%010x", n*0xbeef)

		s.mutex.Lock()
		s.sessions[session] = token
		s.mutex.Unlock()

		// hold every listing response until both sessions are open
		s.arrivals.Done()
		released := make(chan struct{})
		go func() {
			s.arrivals.Wait()
			close(released)
		}()
		select {
		case <-released:
		case <-time.After(time.Second * 5):
			http.Error(w, "sessions never overlapped", http.StatusInternalServerError)
			return
		}

		http.SetCookie(w, &http.Cookie{Name: "SPSE_SESSION", Value: session, Path: "/"})
		fmt.Fprintf(w, "<html><script>var authenticityToken = '%s';</script></html>", token)
	})
	mux.HandleFunc("POST /kemhan/dt/lelang", func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("SPSE_SESSION")
		if err != nil {
			http.Error(w, "no session", http.StatusForbidden)
			return
		}
		s.mutex.Lock()
		expected, ok := s.sessions[cookie.Value]
		s.mutex.Unlock()
		if !ok || r.PostFormValue("authenticityToken") != expected {
			http.Error(w, "token does not belong to session", http.StatusForbidden)
			return
		}

		var n int
		fmt.Sscanf(cookie.Value, "session-%d", &n)
		json.NewEncoder(w).Encode(map[string]any{
			"recordsTotal":    n,
			"recordsFiltered": n,
			"data":            []any{[]string{expected}},
		})
	})
	return mux
}

func TestFetchConcurrentSessions(t *testing.T) {
	upstream := &sessionUpstream{sessions: map[string]string{}}
	upstream.arrivals.Add(2)

	server := httptest.NewServer(upstream.handler())
	defer server.Close()

	fetcher, err := NewFetcher(Options{BaseUrl: server.URL + "/kemhan"}, &telemetry.Recorder{})
	require.NoError(t, err)

	results := make([]TenderPayload, 2)
	errs := make([]error, 2)
	wg := sync.WaitGroup{}
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = fetcher.Fetch(context.Background(), 2024)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	seen := map[int]string{}
	for _, payload := range results {
		require.Len(t, payload.Data, 1)
		var row []string
		require.NoError(t, json.Unmarshal(payload.Data[0], &row))
		seen[payload.RecordsTotal] = row[0]
	}
	require.Len(t, seen, 2)
	require.NotEqual(t, seen[1], seen[2])
}
