package publish

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/M-o-a-T/moat-src/repo"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	dir  string
	args []string
}

type fakeRunner struct {
	calls []call
	fail  string
}

func (f *fakeRunner) Run(_ context.Context, dir string, extra ...string) error {
	f.calls = append(f.calls, call{dir, extra})
	if dir == f.fail {
		return errors.New("exit status 2")
	}
	return nil
}

func index(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/pypi/moat-lib-a/1.2/json":
			_, _ = w.Write([]byte(`{"info": {"version": "1.2"}}`))
		case "/pypi/broken/1.0/json":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func tree(t *testing.T) []*repo.Repository {
	world := repo.MemoryWorld{}
	t0 := time.Date(2024, time.July, 1, 0, 0, 0, 0, time.UTC)
	root := repo.NewMemoryBackend()
	root.AddRevision("r1", t0, "root")
	root.SubmodulePaths = []string{"lib/a", "lib/b"}
	world["/src"] = root
	for _, p := range []struct{ dir, tag string }{{"/src/lib/a", "1.2"}, {"/src/lib/b", "v2.0"}} {
		b := repo.NewMemoryBackend()
		b.AddRevision("h", t0, "x")
		b.AddTag(p.tag, "h")
		world[p.dir] = b
	}
	r, err := repo.Open("/src", "moat", world.Open)
	require.NoError(t, err)
	subs, err := r.Subrepos(true)
	require.NoError(t, err)
	return subs
}

func TestIndexPublished(t *testing.T) {
	srv := index(t)
	ix := &Index{URL: srv.URL + "/pypi/", Timeout: 5 * time.Second}

	ok, err := ix.Published("moat-lib-a", "v1.2")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ix.Published("moat-lib-a", "1.3")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = ix.Published("broken", "1.0")
	assert.Error(t, err)
}

func TestPublish(t *testing.T) {
	srv := index(t)
	deb, pypi := &fakeRunner{}, &fakeRunner{}
	var out bytes.Buffer
	p := &Publisher{Deb: deb, Pypi: pypi, Index: &Index{URL: srv.URL + "/pypi"}, Out: &out}

	require.NoError(t, p.Publish(context.Background(), tree(t), Options{DebArchive: "moat"}))
	assert.Equal(t, []call{
		{"/src/lib/a", []string{"-d", "moat"}},
		{"/src/lib/b", []string{"-d", "moat"}},
	}, deb.calls)
	// lib-a 1.2 is already on the index
	assert.Equal(t, []call{{"/src/lib/b", nil}}, pypi.calls)
	assert.Contains(t, out.String(), "Skip: moat-lib-a 1.2 is published\n")

	pypi.calls = nil
	require.NoError(t, p.Publish(context.Background(), tree(t), Options{NoDeb: true, Force: true}))
	assert.Len(t, pypi.calls, 2)
}

func TestPublishStopsOnFailure(t *testing.T) {
	deb, pypi := &fakeRunner{fail: "/src/lib/a"}, &fakeRunner{}
	p := &Publisher{Deb: deb, Pypi: pypi, Out: &bytes.Buffer{}}

	err := p.Publish(context.Background(), tree(t), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "moat-lib-a: debianizing")
	assert.Len(t, deb.calls, 1)
	assert.Empty(t, pypi.calls)

	deb.calls = nil
	require.NoError(t, p.Publish(context.Background(), tree(t), Options{NoDeb: true, NoPypi: true}))
	assert.Empty(t, deb.calls)
}
