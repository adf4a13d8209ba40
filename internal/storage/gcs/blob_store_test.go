package gcs_test

import (
	"context"
	"fmt"
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

	"github.com/JakeFAU/scholar-citations/internal/storage/gcs"
)

const testBucket = "test-bucket"

// FakeBucket answers the subset of the GCS JSON and XML APIs used by
// ObjectStore: multipart uploads and media downloads.
type FakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	uploads int
}

func NewFakeBucket() *FakeBucket {
	return &FakeBucket{objects: map[string][]byte{}}
}

func (b *FakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && strings.Contains(r.URL.Path, "/upload/storage/v1/b/"+testBucket+"/o"):
		name := r.URL.Query().Get("name")
		data, err := readMedia(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		b.mu.Lock()
		b.objects[name] = data
		b.uploads++
		b.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"bucket":%q,"name":%q,"size":"%d"}`, testBucket, name, len(data))
	case r.Method == http.MethodGet:
		b.mu.Lock()
		defer b.mu.Unlock()
		for name, data := range b.objects {
			if strings.HasSuffix(r.URL.Path, "/"+name) {
				w.Header().Set("Content-Type", "application/octet-stream")
				_, _ = w.Write(data)
				return
			}
		}
		http.Error(w, "not found", http.StatusNotFound)
	default:
		http.Error(w, "unsupported", http.StatusNotImplemented)
	}
}

// Object returns the stored bytes for name.
func (b *FakeBucket) Object(name string) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.objects[name]...)
}

func readMedia(r *http.Request) ([]byte, error) {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return io.ReadAll(r.Body)
	}
	reader := multipart.NewReader(r.Body, params["boundary"])
	var last []byte
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return last, nil
		}
		if err != nil {
			return nil, err
		}
		last, err = io.ReadAll(part)
		if err != nil {
			return nil, err
		}
	}
}

func newStore(t *testing.T) (*gcs.ObjectStore, *FakeBucket) {
	t.Helper()
	bucket := NewFakeBucket()
	server := httptest.NewServer(bucket)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := gcs.New(client, gcs.Config{Bucket: testBucket})
	require.NoError(t, err)
	return store, bucket
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := gcs.New(nil, gcs.Config{Bucket: testBucket})
	require.Error(t, err)
}

func TestPutUploadsObject(t *testing.T) {
	t.Parallel()

	store, bucket := newStore(t)
	uri, err := store.Put(context.Background(), "checkpoints/run.json", "application/json", []byte(`{"next_index":0}`))
	require.NoError(t, err)
	assert.Equal(t, "gs://test-bucket/checkpoints/run.json", uri)
	assert.JSONEq(t, `{"next_index":0}`, string(bucket.Object("checkpoints/run.json")))

	_, err = store.Put(context.Background(), " ", "", nil)
	require.Error(t, err)
}

func TestGetMissingObject(t *testing.T) {
	t.Parallel()

	store, _ := newStore(t)
	data, found, err := store.Get(context.Background(), "absent.json")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, data)
}

func TestGetRoundTrip(t *testing.T) {
	t.Parallel()

	store, _ := newStore(t)
	_, err := store.Put(context.Background(), "backup.json", "application/json", []byte(`{"next_index":2}`))
	require.NoError(t, err)

	data, found, err := store.Get(context.Background(), "backup.json")
	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, `{"next_index":2}`, string(data))
}
