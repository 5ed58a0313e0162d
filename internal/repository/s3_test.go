package repository

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 answers the bucket check and object puts of a path-style S3 client.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]string
	types   map[string]string
	heads   int
	// failHeads answers that many bucket checks with 400 before succeeding.
	failHeads int
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.Method {
	case http.MethodHead:
		f.heads++
		if f.heads <= f.failHeads {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[r.URL.Path] = string(body)
		f.types[r.URL.Path] = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func TestNewS3Gateway_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  S3Config
	}{
		{name: "missing endpoint", cfg: S3Config{AccessKey: "a", SecretKey: "s", Bucket: "b"}},
		{name: "missing keys", cfg: S3Config{Endpoint: "localhost:9000", Bucket: "b"}},
		{name: "missing bucket", cfg: S3Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewS3Gateway(tt.cfg)
			assert.Error(t, err)
		})
	}

	gw, err := NewS3Gateway(S3Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s", Bucket: "games"})
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", gw.region)
}

func TestS3Gateway_Store(t *testing.T) {
	fake := &fakeS3{objects: map[string]string{}, types: map[string]string{}}
	server := httptest.NewServer(fake)
	defer server.Close()

	gw, err := NewS3Gateway(S3Config{
		Endpoint:   strings.TrimPrefix(server.URL, "http://"),
		AccessKey:  "access",
		SecretKey:  "secret",
		Bucket:     "games",
		PublicBase: "https://cdn.example.com",
	})
	require.NoError(t, err)

	run, req := sampleRun()
	a := NewArtifact("ART-1", run, req)
	loc, err := gw.Store(context.Background(), a)
	require.NoError(t, err)

	assert.Equal(t, "s3://games/artifacts/ART-1/index.html", loc.Locator)
	assert.Equal(t, "https://cdn.example.com/artifacts/ART-1/index.html", loc.PublicURL)

	_, err = gw.Store(context.Background(), a)
	require.NoError(t, err)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, 1, fake.heads, "bucket is checked once")
	assert.Len(t, fake.objects, 2, "a second store overwrites the same keys")
	assert.Contains(t, fake.objects["/games/artifacts/ART-1/index.html"], "maze")
	assert.Contains(t, fake.objects["/games/artifacts/ART-1/metadata.json"], `"runId": "run-1"`)
	assert.Equal(t, "application/json", fake.types["/games/artifacts/ART-1/metadata.json"])
}

func TestS3Gateway_Store_RetriesBucketCheckAfterFailure(t *testing.T) {
	fake := &fakeS3{objects: map[string]string{}, types: map[string]string{}, failHeads: 1}
	server := httptest.NewServer(fake)
	defer server.Close()

	gw, err := NewS3Gateway(S3Config{
		Endpoint:  strings.TrimPrefix(server.URL, "http://"),
		AccessKey: "access",
		SecretKey: "secret",
		Bucket:    "games",
	})
	require.NoError(t, err)

	run, req := sampleRun()
	a := NewArtifact("ART-2", run, req)
	_, err = gw.Store(context.Background(), a)
	require.Error(t, err, "first bucket check fails")

	_, err = gw.Store(context.Background(), a)
	require.NoError(t, err, "a later store checks the bucket again")
	_, err = gw.Store(context.Background(), a)
	require.NoError(t, err)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, 2, fake.heads, "no further checks once the bucket is known")
	assert.Contains(t, fake.objects, "/games/artifacts/ART-2/index.html")
}
