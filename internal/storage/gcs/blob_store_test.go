package gcs

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

type recorder struct {
	mu     sync.Mutex
	paths  []string
	bodies []string
}

func newClient(t *testing.T, rec *recorder, status int) *storage.Client {
	t.Helper()
	client, err := storage.NewClient(
		context.Background(),
		option.WithoutAuthentication(),
		option.WithHTTPClient(&http.Client{
			Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
				var body []byte
				if r.Body != nil {
					body, _ = io.ReadAll(r.Body)
				}
				rec.mu.Lock()
				rec.paths = append(rec.paths, r.URL.Path)
				rec.bodies = append(rec.bodies, string(body))
				rec.mu.Unlock()
				return &http.Response{
					StatusCode: status,
					Body:       io.NopCloser(strings.NewReader(`{"bucket":"artifacts","name":"obj"}`)),
					Header:     http.Header{"Content-Type": []string{"application/json"}},
					Request:    r,
				}, nil
			}),
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "artifacts"})
	require.Error(t, err)

	client := newClient(t, &recorder{}, http.StatusOK)
	_, err = New(client, Config{})
	require.Error(t, err)
}

func TestPutObjectUploadsUnderPrefix(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	store, err := New(newClient(t, rec, http.StatusOK), Config{Bucket: "artifacts", Prefix: "/jobindexer/"})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "run-1/report.json", "application/json",
		bytes.NewReader([]byte(`{"submitted":3}`)))
	require.NoError(t, err)
	require.Equal(t, "gs://artifacts/jobindexer/run-1/report.json", uri)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.NotEmpty(t, rec.paths)
	require.Contains(t, rec.paths[0], "/b/artifacts/o")
	require.Contains(t, rec.bodies[0], `{"submitted":3}`)
	require.Contains(t, rec.bodies[0], "jobindexer/run-1/report.json")
	require.NoError(t, store.Close())
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	store, err := New(newClient(t, &recorder{}, http.StatusOK), Config{Bucket: "artifacts"})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), " ", "", bytes.NewReader(nil))
	require.Error(t, err)
}

func TestPutObjectSurfacesUploadFailure(t *testing.T) {
	t.Parallel()

	store, err := New(newClient(t, &recorder{}, http.StatusForbidden), Config{Bucket: "artifacts"})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), "run-1/x.html", "text/html", bytes.NewReader([]byte("x")))
	require.Error(t, err)
}
