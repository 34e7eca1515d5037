package media

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type staticResolver struct {
	url string
	err error
}

func (r staticResolver) FileURL(ctx context.Context, fileID string) (string, error) {
	return r.url + "/" + fileID, r.err
}

func TestDownloader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/photo":
			w.Write([]byte("jpeg-bytes"))
		case "/big":
			w.Write([]byte(strings.Repeat("a", 100)))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	d := NewDownloader(staticResolver{url: srv.URL}, srv.Client())
	dir := t.TempDir()

	t.Run("ok", func(t *testing.T) {
		dst := filepath.Join(dir, "task_1_1.jpg")
		n, err := d.Download(context.Background(), "photo", dst, 1024)
		if err != nil {
			t.Fatalf("Download() error = %v", err)
		}
		data, _ := os.ReadFile(dst)
		if n != int64(len("jpeg-bytes")) || string(data) != "jpeg-bytes" {
			t.Errorf("n=%d data=%q", n, data)
		}
	})

	t.Run("too large", func(t *testing.T) {
		dst := filepath.Join(dir, "big.jpg")
		_, err := d.Download(context.Background(), "big", dst, 10)
		if !errors.Is(err, ErrTooLarge) {
			t.Fatalf("error = %v, want ErrTooLarge", err)
		}
		if _, err := os.Stat(dst); !os.IsNotExist(err) {
			t.Errorf("partial file left behind")
		}
	})

	t.Run("not found", func(t *testing.T) {
		_, err := d.Download(context.Background(), "missing", filepath.Join(dir, "m"), 0)
		if err == nil || !strings.Contains(err.Error(), "404") {
			t.Fatalf("error = %v", err)
		}
	})

	t.Run("resolver error", func(t *testing.T) {
		bad := NewDownloader(staticResolver{err: errors.New("getFile failed")}, nil)
		_, err := bad.Download(context.Background(), "x", filepath.Join(dir, "r"), 0)
		if err == nil || !strings.Contains(err.Error(), "getFile failed") {
			t.Fatalf("error = %v", err)
		}
	})
}
