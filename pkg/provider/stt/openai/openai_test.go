package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/elderme-design/elderme-server/pkg/audio"
)

func TestTranscribe_AgainstMockServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.FormValue("model") != "whisper-1" || r.FormValue("language") != "en" {
			http.Error(w, "unexpected fields", http.StatusBadRequest)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		file.Close()
		if header.Filename != "turn.wav" {
			http.Error(w, "unexpected filename "+header.Filename, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":" The roses are blooming. "}`))
	}))
	defer srv.Close()

	r, err := New("sk-test", WithBaseURL(srv.URL+"/"), WithLanguage("en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := r.Transcribe(context.Background(), audio.Bytes(make([]int16, 800)), 8000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "The roses are blooming." {
		t.Errorf("text = %q", got)
	}
}

func TestTranscribe_EmptyAudio(t *testing.T) {
	r, _ := New("sk-test", WithBaseURL("http://127.0.0.1:1/"))
	got, err := r.Transcribe(context.Background(), nil, 8000)
	if err != nil || got != "" {
		t.Errorf("Transcribe(nil) = %q, %v", got, err)
	}
}

func TestNew_MissingAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}
