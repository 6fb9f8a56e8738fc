package objectstore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ehranchor/internal/domain"
)

// fakeKubo answers the add and cat endpoints of the IPFS HTTP API
type fakeKubo struct {
	mu      sync.Mutex
	objects map[string][]byte
	hang    chan struct{}
}

func newFakeKubo(t *testing.T) (*fakeKubo, *httptest.Server) {
	k := &fakeKubo{objects: map[string][]byte{}}
	srv := httptest.NewServer(k)
	t.Cleanup(func() {
		if k.hang != nil {
			close(k.hang)
		}
		srv.Close()
	})
	return k, srv
}

func (k *fakeKubo) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if k.hang != nil {
		select {
		case <-k.hang:
		case <-r.Context().Done():
		}
		return
	}

	switch r.URL.Path {
	case "/api/v0/add":
		mr, err := r.MultipartReader()
		if err != nil {
			apiError(w, err.Error())
			return
		}
		part, err := mr.NextPart()
		if err != nil {
			apiError(w, err.Error())
			return
		}
		data, _ := io.ReadAll(part)
		c, _ := cidPrefix.Sum(data)
		k.mu.Lock()
		k.objects[c.String()] = data
		k.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"Name": c.String(),
			"Hash": c.String(),
			"Size": strconv.Itoa(len(data)),
		})
	case "/api/v0/cat":
		k.mu.Lock()
		data, ok := k.objects[r.URL.Query().Get("arg")]
		k.mu.Unlock()
		if !ok {
			apiError(w, "block was not found locally (offline): ipld: could not find node")
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write(data)
	default:
		http.NotFound(w, r)
	}
}

func apiError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"Message": msg, "Code": 0, "Type": "error"})
}

func TestIPFS_AddRetrieve(t *testing.T) {
	_, srv := newFakeKubo(t)
	s := NewIPFS(IPFSConfig{APIURL: srv.URL, Timeout: 5 * time.Second})
	ctx := context.Background()

	addr, err := s.Add(ctx, []byte("sealed document"))
	require.NoError(t, err)
	assert.NotEmpty(t, addr)

	got, err := s.Retrieve(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, []byte("sealed document"), got)
}

func TestIPFS_RetrieveMissing(t *testing.T) {
	_, srv := newFakeKubo(t)
	s := NewIPFS(IPFSConfig{APIURL: srv.URL, Timeout: 5 * time.Second})

	_, err := s.Retrieve(context.Background(), "bafkreibm6jg3ux5qumhcn2b3flc3tyu6dmlb4xa7u5bf44yegnrjhc4yeq")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrObjectUnavailable))
}

func TestIPFS_RetrieveTooLarge(t *testing.T) {
	_, srv := newFakeKubo(t)
	s := NewIPFS(IPFSConfig{APIURL: srv.URL, Timeout: 5 * time.Second, MaxObjectSize: 4})

	addr, err := s.Add(context.Background(), []byte("more than four bytes"))
	require.NoError(t, err)
	_, err = s.Retrieve(context.Background(), addr)
	assert.True(t, errors.Is(err, domain.ErrMalformedInput))
}

func TestIPFS_Timeouts(t *testing.T) {
	k, srv := newFakeKubo(t)
	k.hang = make(chan struct{})
	s := NewIPFS(IPFSConfig{APIURL: srv.URL, Timeout: 50 * time.Millisecond})

	_, err := s.Add(context.Background(), []byte("x"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTimeout), err.Error())

	_, err = s.Retrieve(context.Background(), "bafkreibm6jg3ux5qumhcn2b3flc3tyu6dmlb4xa7u5bf44yegnrjhc4yeq")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTimeout), err.Error())
}

func TestIPFS_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	s := NewIPFS(IPFSConfig{APIURL: url, Timeout: time.Second})
	_, err := s.Add(context.Background(), []byte("x"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTransport), err.Error())
}
