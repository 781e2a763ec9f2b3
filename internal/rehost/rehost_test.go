package rehost

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pageforge/internal/domain"
	"pageforge/internal/storage"
)

type failingStore struct{}

func (failingStore) Put(context.Context, string, []byte, string, time.Duration) (domain.StoredObject, error) {
	return domain.StoredObject{}, errors.New("disk full")
}

func (failingStore) Open(context.Context, string) (domain.StoredObject, []byte, error) {
	return domain.StoredObject{}, nil, domain.ErrNotFound
}

func (failingStore) Sweep(context.Context, time.Time) (int, error) { return 0, nil }

func newRehoster(t *testing.T, client *http.Client) (*Rehoster, *storage.FileStore) {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return New(Options{Store: store, BaseURL: "https://cdn.example.com/assets/", TTL: time.Hour, HTTPClient: client}), store
}

func TestSlug(t *testing.T) {
	cases := map[string]string{
		"Crème brûlée on a plate!": "creme-brulee-on-a-plate",
		"  ":                       "image",
		"日本":                       "image",
		"A -- B":                   "a-b",
	}
	for in, want := range cases {
		if got := Slug(in); got != want {
			t.Errorf("Slug(%q) = %q, want %q", in, got, want)
		}
	}
	if got := Slug(strings.Repeat("long words ", 20)); len(got) > maxSlugLen {
		t.Errorf("slug too long: %d", len(got))
	}
}

func TestKeyIsDeterministic(t *testing.T) {
	a := Key("job-1", 2, "Fresh bread", "image/jpeg")
	if a != "job/job-1/2-fresh-bread.jpg" {
		t.Fatalf("Key = %q", a)
	}
	if a != Key("job-1", 2, "Fresh bread", "image/jpeg") {
		t.Fatalf("Key not deterministic")
	}
}

func TestRehostInlineBytes(t *testing.T) {
	r, store := newRehoster(t, nil)
	url := r.Rehost(context.Background(), domain.ImageRef{Data: []byte("png"), MIME: "image/png"}, "j1", 0, "hero shot")
	if url != "https://cdn.example.com/assets/job/j1/0-hero-shot.png" {
		t.Fatalf("url = %q", url)
	}
	obj, data, err := store.Open(context.Background(), "job/j1/0-hero-shot.png")
	if err != nil || string(data) != "png" || obj.ExpiresAt.IsZero() {
		t.Fatalf("stored object = %+v %q %v", obj, data, err)
	}
}

func TestRehostDataURI(t *testing.T) {
	r, _ := newRehoster(t, nil)
	url := r.Rehost(context.Background(), RefFromSrc("data:image/svg+xml;base64,PHN2Zy8+", false), "j1", 3, "logo")
	if !strings.HasSuffix(url, "/job/j1/3-logo.svg") {
		t.Fatalf("url = %q", url)
	}
}

func TestRehostDownloadsEphemeralURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg"))
	}))
	defer srv.Close()
	r, store := newRehoster(t, srv.Client())

	url := r.Rehost(context.Background(), domain.ImageRef{URL: srv.URL + "/signed.jpg", Ephemeral: true}, "j2", 1, "storefront")
	if url != "https://cdn.example.com/assets/job/j2/1-storefront.jpg" {
		t.Fatalf("url = %q", url)
	}
	if _, data, err := store.Open(context.Background(), "job/j2/1-storefront.jpg"); err != nil || string(data) != "jpeg" {
		t.Fatalf("stored = %q %v", data, err)
	}
}

func TestRehostPassesDurableURLThrough(t *testing.T) {
	r, _ := newRehoster(t, nil)
	in := "https://images.example.com/durable.png"
	if got := r.Rehost(context.Background(), domain.ImageRef{URL: in}, "j", 0, "x"); got != in {
		t.Fatalf("durable url rewritten to %q", got)
	}
}

func TestRehostFailureDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()
	r := New(Options{Store: failingStore{}, BaseURL: "https://cdn", HTTPClient: srv.Client()})
	ephemeral := srv.URL + "/a.png"

	if got := r.Rehost(context.Background(), domain.ImageRef{URL: ephemeral, Ephemeral: true}, "j", 0, "x"); got != ephemeral {
		t.Fatalf("failed rehost of http url = %q, want original", got)
	}
	got := r.Rehost(context.Background(), domain.ImageRef{Data: []byte("png")}, "j", 1, "x")
	if !strings.HasPrefix(got, "data:image/svg+xml;base64,") {
		t.Fatalf("failed rehost of inline bytes = %q, want placeholder", got)
	}
}
