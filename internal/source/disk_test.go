package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

// diskServer fakes the cloud drive API: /resources listings per path and an
// href-indirect download.
func diskServer(t *testing.T) *httptest.Server {
	t.Helper()

	listings := map[string]string{
		"/kb": `{"_embedded":{"items":[
			{"resource_id":"rid-1","path":"/kb/a.txt","type":"file","modified":"2025-06-01T12:00:00Z","md5":"hash-a","size":8},
			{"path":"/kb/sub","type":"dir"}
		]}}`,
		"/kb/sub": `{"_embedded":{"items":[
			{"resource_id":"rid-2","path":"/kb/sub/b.txt","type":"file","modified":"2025-06-02T12:00:00Z","md5":"hash-b","size":4}
		]}}`,
	}

	mux := http.NewServeMux()
	var srv *httptest.Server

	mux.HandleFunc("/resources", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "OAuth test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, ok := listings[r.URL.Query().Get("path")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, body)
	})
	mux.HandleFunc("/resources/download", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"href":%q}`, srv.URL+"/content"+r.URL.Query().Get("path"))
	})
	mux.HandleFunc("/content/kb/a.txt", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "file contents")
	})

	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestDiskList(t *testing.T) {
	srv := diskServer(t)
	client := NewDiskClient("test-token", "/kb").WithBaseURL(srv.URL)

	files, err := client.List(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("got %d files, want 2 (directories recursed, not listed)", len(files))
	}

	if files[0].Path != "a.txt" || files[0].ResourceID != "rid-1" {
		t.Errorf("first file = %+v, want root-relative a.txt", files[0])
	}
	if files[0].MD5 != "hash-a" || files[0].Size != 8 {
		t.Errorf("first file meta = %+v", files[0])
	}
	if files[0].Modified.IsZero() {
		t.Error("modified time not parsed")
	}
	if files[1].Path != "sub/b.txt" {
		t.Errorf("nested file path = %q, want sub/b.txt", files[1].Path)
	}
}

func TestDiskListUnauthorized(t *testing.T) {
	srv := diskServer(t)
	client := NewDiskClient("wrong-token", "/kb").WithBaseURL(srv.URL)

	_, err := client.List(context.Background(), "")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestDiskDownload(t *testing.T) {
	srv := diskServer(t)
	client := NewDiskClient("test-token", "/kb").WithBaseURL(srv.URL)

	data, err := client.Download(context.Background(), "a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "file contents" {
		t.Errorf("data = %q, want the served bytes", data)
	}
}

func TestDiskDownloadMissing(t *testing.T) {
	srv := diskServer(t)
	client := NewDiskClient("test-token", "/kb").WithBaseURL(srv.URL)

	// The href points at a path the server does not serve.
	_, err := client.Download(context.Background(), "missing.txt")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestDiskServerDown(t *testing.T) {
	srv := diskServer(t)
	url := srv.URL
	srv.Close()

	client := NewDiskClient("test-token", "/kb").WithBaseURL(url)
	if _, err := client.List(context.Background(), ""); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}
