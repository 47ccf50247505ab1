package healthstore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/google/go-cmp/cmp"

	"github.com/ehr/intake/internal/platform/faults"
	"github.com/ehr/intake/internal/platform/fhir"
)

func staticCreds(calls *int32) aws.CredentialsProvider {
	return aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		return aws.Credentials{AccessKeyID: "AKIDTEST", SecretAccessKey: "secret", Source: "test"}, nil
	})
}

func newTestClient(t *testing.T, srv *httptest.Server, creds aws.CredentialsProvider) *Client {
	t.Helper()
	c, err := New(Config{Region: "us-east-1", DatastoreID: "ds-1", Endpoint: srv.URL + "/datastore/ds-1/r4"}, creds)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"complete", Config{Region: "eu-west-2", DatastoreID: "abc"}, true},
		{"missing region", Config{DatastoreID: "abc"}, false},
		{"missing datastore", Config{Region: "eu-west-2"}, false},
		{"relative endpoint", Config{Region: "eu-west-2", DatastoreID: "abc", Endpoint: "/r4"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, faults.ErrConfiguration) {
				t.Fatalf("err = %v, want configuration error", err)
			}
		})
	}
}

func TestConfig_BaseURL(t *testing.T) {
	got := Config{Region: "us-west-2", DatastoreID: "ds9"}.BaseURL()
	want := "https://healthlake.us-west-2.amazonaws.com/datastore/ds9/r4"
	if got != want {
		t.Errorf("BaseURL = %q, want %q", got, want)
	}
	if got := (Config{Endpoint: "http://localhost:9/r4/"}).BaseURL(); got != "http://localhost:9/r4" {
		t.Errorf("override BaseURL = %q", got)
	}
}

func TestNew_RejectsMissingConfigBeforeIO(t *testing.T) {
	_, err := New(Config{Region: "us-east-1"}, staticCreds(nil))
	if !errors.Is(err, faults.ErrConfiguration) {
		t.Fatalf("err = %v, want configuration error", err)
	}
}

func TestCreate_SignsAndPosts(t *testing.T) {
	var gotPath, gotAuth, gotType string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.Header.Get("X-Amz-Date") == "" {
			t.Error("missing X-Amz-Date header")
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Location", "Patient/server-1/_history/1")
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"resourceType":"Patient","id":"server-1","meta":{"versionId":"1"}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, staticCreds(nil))
	created, err := c.Create(context.Background(), &fhir.Patient{
		ResourceType: "Patient",
		ID:           "local-1",
		Identifier:   []fhir.Identifier{{Value: "MRN1"}},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if gotPath != "/datastore/ds-1/r4/Patient" {
		t.Errorf("path = %q", gotPath)
	}
	if !strings.HasPrefix(gotAuth, "AWS4-HMAC-SHA256 Credential=AKIDTEST/") || !strings.Contains(gotAuth, "/us-east-1/healthlake/aws4_request") {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotType != "application/fhir+json" {
		t.Errorf("Content-Type = %q", gotType)
	}
	if gotBody["resourceType"] != "Patient" {
		t.Errorf("body resourceType = %v", gotBody["resourceType"])
	}

	want := &Created{ID: "server-1", VersionID: "1", Location: "Patient/server-1/_history/1", StatusCode: http.StatusCreated}
	if diff := cmp.Diff(want, created); diff != "" {
		t.Errorf("created (-want +got):\n%s", diff)
	}
}

func TestCreate_RetrievesCredentialsPerRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	var calls int32
	c := newTestClient(t, srv, staticCreds(&calls))
	p := &fhir.Patient{ResourceType: "Patient", ID: "p1"}
	for i := 0; i < 3; i++ {
		created, err := c.Create(context.Background(), p)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if created.ID != "p1" {
			t.Errorf("ID = %q, want fallback to local id", created.ID)
		}
	}
	if calls != 3 {
		t.Errorf("credential retrievals = %d, want 3", calls)
	}
}

func TestCreate_NonCreatedIsRemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `{"message":"denied"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, staticCreds(nil))
	_, err := c.Create(context.Background(), &fhir.Patient{ResourceType: "Patient", ID: "p1"})
	if !errors.Is(err, faults.ErrRemoteService) {
		t.Fatalf("err = %v, want remote service error", err)
	}
	if !strings.Contains(err.Error(), "403") || !strings.Contains(err.Error(), "denied") {
		t.Errorf("error lacks status or body: %v", err)
	}
}

func TestCreate_TransportFailureIsRemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c := newTestClient(t, srv, staticCreds(nil))
	srv.Close()

	_, err := c.Create(context.Background(), &fhir.Patient{ResourceType: "Patient", ID: "p1"})
	if !errors.Is(err, faults.ErrRemoteService) {
		t.Fatalf("err = %v, want remote service error", err)
	}
}

func TestCreate_CredentialFailureIsRemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not be sent without credentials")
	}))
	defer srv.Close()

	failing := aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		return aws.Credentials{}, errors.New("no role")
	})
	c := newTestClient(t, srv, failing)
	_, err := c.Create(context.Background(), &fhir.Patient{ResourceType: "Patient", ID: "p1"})
	if !errors.Is(err, faults.ErrRemoteService) {
		t.Fatalf("err = %v, want remote service error", err)
	}
}

func TestSearch_ForwardsAllowListedParams(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		if r.URL.Path != "/datastore/ds-1/r4/Patient" {
			t.Errorf("path = %q", r.URL.Path)
		}
		io.WriteString(w, `{"resourceType":"Bundle","type":"searchset","total":0}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, staticCreds(nil))
	bundle, err := c.Search(context.Background(), "Patient", url.Values{
		"family":   {"Doe"},
		"_count":   {"5"},
		"_include": {"Patient:organization"},
		"gender":   {"female"},
		"secret":   {"x"},
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	want := url.Values{"family": {"Doe"}, "_count": {"5"}, "_total": {"accurate"}}
	if diff := cmp.Diff(want, gotQuery); diff != "" {
		t.Errorf("forwarded query (-want +got):\n%s", diff)
	}
	if !strings.Contains(string(bundle), `"searchset"`) {
		t.Errorf("bundle = %s", bundle)
	}
}

func TestSearch_UnknownResourceType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected request")
	}))
	defer srv.Close()

	c := newTestClient(t, srv, staticCreds(nil))
	_, err := c.Search(context.Background(), "Observation", nil)
	if !errors.Is(err, ErrUnsupportedSearch) {
		t.Fatalf("err = %v, want ErrUnsupportedSearch", err)
	}
}

func TestSearch_UpstreamErrorIsRemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, staticCreds(nil))
	_, err := c.Search(context.Background(), "Patient", url.Values{"name": {"a"}})
	if !errors.Is(err, faults.ErrRemoteService) {
		t.Fatalf("err = %v, want remote service error", err)
	}
}

func TestFilterSearchParams_Defaults(t *testing.T) {
	got, err := FilterSearchParams("Patient", nil)
	if err != nil {
		t.Fatal(err)
	}
	want := url.Values{"_count": {"20"}, "_total": {"accurate"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("params (-want +got):\n%s", diff)
	}
}

func TestRead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/datastore/ds-1/r4/Patient/p-1":
			io.WriteString(w, `{"resourceType":"Patient","id":"p-1"}`)
		case "/datastore/ds-1/r4/Patient/missing":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv, staticCreds(nil))
	body, err := c.Read(context.Background(), "Patient", "p-1")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !strings.Contains(string(body), `"p-1"`) {
		t.Errorf("body = %s", body)
	}

	if _, err := c.Read(context.Background(), "Patient", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := c.Read(context.Background(), "Patient", "other"); !errors.Is(err, faults.ErrRemoteService) {
		t.Errorf("err = %v, want remote service error", err)
	}
	if _, err := c.Read(context.Background(), "Observation", "x"); !errors.Is(err, ErrUnsupportedSearch) {
		t.Errorf("err = %v, want ErrUnsupportedSearch", err)
	}
}

func TestTruncate_KeepsRuneBoundary(t *testing.T) {
	body := strings.Repeat("a", maxErrorBody-1) + "é" + "tail"
	got := truncate([]byte(body))
	if !utf8.ValidString(got) {
		t.Fatalf("truncated body is not valid UTF-8: %q", got[len(got)-8:])
	}
	want := strings.Repeat("a", maxErrorBody-1) + "..."
	if got != want {
		t.Errorf("got suffix %q, want %q", got[len(got)-8:], want[len(want)-8:])
	}
}

func TestTruncate_ShortBodyUnchanged(t *testing.T) {
	if got := truncate([]byte("  not found \n")); got != "not found" {
		t.Errorf("got %q", got)
	}
}
