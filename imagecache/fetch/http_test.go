package fetch

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfryer1193/readshelf/imagecache/domain"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.White)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestHTTPFetcher_Fetch(t *testing.T) {
	body := pngBytes(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/cover.png":
			w.Write(body)
		case "/huge.png":
			w.Write(bytes.Repeat([]byte{1}, 64))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.Client(), 32)
	ctx := context.Background()

	_, err := f.Fetch(ctx, srv.URL+"/missing.png")
	assert.ErrorIs(t, err, domain.ErrNetwork)

	_, err = f.Fetch(ctx, srv.URL+"/huge.png")
	assert.ErrorIs(t, err, domain.ErrDecode)

	f = NewHTTPFetcher(srv.Client(), 0)
	got, err := f.Fetch(ctx, srv.URL+"/cover.png")
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestHTTPFetcher_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/a.png"
	srv.Close()

	_, err := NewHTTPFetcher(nil, 0).Fetch(context.Background(), url)
	assert.ErrorIs(t, err, domain.ErrNetwork)
}

func TestDetectImage(t *testing.T) {
	mime, err := DetectImage(pngBytes(t))
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)

	_, err = DetectImage([]byte("<html><body>not found</body></html>"))
	assert.ErrorIs(t, err, domain.ErrDecode)
}
