package gcs

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

const testBucket = "wrc-raw"

// fakeGCS answers the subset of the JSON and XML APIs the store uses.
type fakeGCS struct {
	mu      sync.Mutex
	objects map[string]string
	uploads int
}

func (f *fakeGCS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	jsonPrefix := "/b/" + testBucket + "/o"
	path := r.URL.Path
	switch {
	case r.Method == http.MethodPost && strings.Contains(path, "/upload/"):
		name, data, err := readMultipartUpload(r)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.objects[name] = data
		f.uploads++
		writeJSON(w, map[string]string{"name": name, "bucket": testBucket})
	case r.Method == http.MethodGet && strings.HasSuffix(path, jsonPrefix):
		prefix := r.URL.Query().Get("prefix")
		var items []map[string]string
		for name := range f.objects {
			if strings.HasPrefix(name, prefix) {
				items = append(items, map[string]string{"name": name, "bucket": testBucket})
			}
		}
		writeJSON(w, map[string]any{"kind": "storage#objects", "items": items})
	case r.Method == http.MethodGet && strings.Contains(path, jsonPrefix+"/"):
		name := path[strings.Index(path, jsonPrefix+"/")+len(jsonPrefix)+1:]
		data, ok := f.objects[name]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			writeJSON(w, map[string]any{"error": map[string]any{"code": 404, "message": "No such object"}})
			return
		}
		if r.URL.Query().Get("alt") == "media" {
			_, _ = io.WriteString(w, data)
			return
		}
		writeJSON(w, map[string]string{"name": name, "bucket": testBucket, "size": "5"})
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/"+testBucket+"/"):
		data, ok := f.objects[strings.TrimPrefix(path, "/"+testBucket+"/")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, data)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

// readMultipartUpload splits a multipart/related upload into its object
// metadata name and media body.
func readMultipartUpload(r *http.Request) (string, string, error) {
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return "", "", err
	}
	reader := multipart.NewReader(r.Body, params["boundary"])
	metaPart, err := reader.NextPart()
	if err != nil {
		return "", "", err
	}
	var meta struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(metaPart).Decode(&meta); err != nil {
		return "", "", err
	}
	mediaPart, err := reader.NextPart()
	if err != nil {
		return "", "", err
	}
	data, err := io.ReadAll(mediaPart)
	if err != nil {
		return "", "", err
	}
	return meta.Name, string(data), nil
}

func (f *fakeGCS) object(name string) (string, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[name], f.uploads
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestStore(t *testing.T, fake *fakeGCS) *BlobStore {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, Config{Bucket: testBucket})
	require.NoError(t, err)
	return store
}

func TestNewRequiresClientAndBucket(t *testing.T) {
	_, err := New(nil, Config{Bucket: testBucket})
	assert.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	_, err = New(client, Config{})
	assert.Error(t, err)
}

func TestPutUploadsObject(t *testing.T) {
	fake := &fakeGCS{objects: map[string]string{}}
	store := newTestStore(t, fake)

	uri, err := store.Put(context.Background(), "files/01-2025/15-01-2025/ADJ-1/ADJ-1.html", "text/html", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "storage://wrc-raw/files/01-2025/15-01-2025/ADJ-1/ADJ-1.html", uri)
	data, uploads := fake.object("files/01-2025/15-01-2025/ADJ-1/ADJ-1.html")
	assert.Equal(t, 1, uploads)
	assert.Equal(t, "hello", data)

	_, err = store.Put(context.Background(), "", "text/html", []byte("hello"))
	assert.Error(t, err)
}

func TestExistsAndList(t *testing.T) {
	fake := &fakeGCS{objects: map[string]string{
		"files/01-2025/15-01-2025/ADJ-1/b.pdf":      "pdf",
		"files/01-2025/15-01-2025/ADJ-1/ADJ-1.html": "<p>x</p>",
		"files/01-2025/15-01-2025/ADJ-2/ADJ-2.html": "<p>y</p>",
	}}
	store := newTestStore(t, fake)
	ctx := context.Background()

	ok, err := store.Exists(ctx, "files/01-2025/15-01-2025/ADJ-1/ADJ-1.html")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Exists(ctx, "files/01-2025/15-01-2025/ADJ-3/ADJ-3.html")
	require.NoError(t, err)
	assert.False(t, ok)

	keys, err := store.List(ctx, "files/01-2025/15-01-2025/ADJ-1/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"files/01-2025/15-01-2025/ADJ-1/ADJ-1.html",
		"files/01-2025/15-01-2025/ADJ-1/b.pdf",
	}, keys)
}

func TestExistsSurfacesServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	store, err := New(client, Config{Bucket: testBucket})
	require.NoError(t, err)

	_, err = store.Exists(context.Background(), "files/x")
	assert.Error(t, err)
}
