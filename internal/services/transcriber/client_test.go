package transcriber

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func writeMedia(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recording.webm")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write media: %v", err)
	}
	return path
}

func TestTranscribeUploadsMultipart(t *testing.T) {
	var gotModel, gotFilename, gotAuth string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		gotModel = r.FormValue("model")
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			defer file.Close()
			gotFilename = header.Filename
			buf := make([]byte, header.Size)
			file.Read(buf)
			gotBody = buf
		}
		fmt.Fprint(w, `{"text": "  hello from the recording  "}`)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "key", BaseURL: server.URL, Model: "whisper-1"})
	text, err := client.Transcribe(context.Background(), writeMedia(t, "webm-bytes"))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello from the recording" {
		t.Fatalf("text = %q", text)
	}
	if gotModel != "whisper-1" {
		t.Fatalf("model = %q", gotModel)
	}
	if gotFilename != "recording.webm" {
		t.Fatalf("filename = %q", gotFilename)
	}
	if gotAuth != "Bearer key" {
		t.Fatalf("auth = %q", gotAuth)
	}
	if string(gotBody) != "webm-bytes" {
		t.Fatalf("uploaded body = %q", gotBody)
	}
}

func TestTranscribeSurfacesHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "key", BaseURL: server.URL})
	if _, err := client.Transcribe(context.Background(), writeMedia(t, "x")); err == nil {
		t.Fatal("expected error for http 503")
	}
}

func TestTranscribeRejectsEmptyTranscript(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"text": "   "}`)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "key", BaseURL: server.URL})
	if _, err := client.Transcribe(context.Background(), writeMedia(t, "x")); err == nil {
		t.Fatal("expected error for empty transcript")
	}
}

func TestTranscribeRequiresAPIKey(t *testing.T) {
	client := NewClient(Config{})
	if _, err := client.Transcribe(context.Background(), writeMedia(t, "x")); err == nil {
		t.Fatal("expected error for missing api key")
	}
}

func TestTranscribeMissingMedia(t *testing.T) {
	client := NewClient(Config{APIKey: "key"})
	if _, err := client.Transcribe(context.Background(), filepath.Join(t.TempDir(), "absent.webm")); err == nil {
		t.Fatal("expected error for missing media file")
	}
}
