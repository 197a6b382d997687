package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewSafeClient_Timeout(t *testing.T) {
	g := NewDownloadGuard()
	client := g.NewSafeClient(5 * time.Second)
	if client.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", client.Timeout)
	}
	if client.Transport == nil || client.Transport == http.DefaultTransport {
		t.Error("カスタムTransportが設定されるべき")
	}
}

// httptestサーバーは127.0.0.1で起動するため、safeurlがブロックする。
func TestNewSafeClient_BlocksLoopback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewDownloadGuard().NewSafeClient(2 * time.Second)
	resp, err := client.Get(ts.URL)
	if err == nil {
		resp.Body.Close()
		t.Fatal("ループバックへのリクエストはブロックされるべき")
	}
}

func TestValidateFileURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{url: "https://cdn.example.com/data/123.jpg?e=1", wantErr: false},
		{url: "http://cdn.example.com/456.png", wantErr: false},
		{url: "", wantErr: true},
		{url: "ftp://cdn.example.com/1.jpg", wantErr: true},
		{url: "file:///etc/passwd", wantErr: true},
		{url: "http://localhost/1.jpg", wantErr: true},
		{url: "http://127.0.0.1/1.jpg", wantErr: true},
		{url: "http://169.254.169.254/latest/meta-data", wantErr: true},
		{url: "http://10.1.2.3/1.jpg", wantErr: true},
		{url: "http://[::1]/1.jpg", wantErr: true},
		{url: "/relative/1.jpg", wantErr: true},
	}

	g := NewDownloadGuard()
	for _, tt := range tests {
		err := g.ValidateFileURL(tt.url)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateFileURL(%q) err = %v, wantErr %v", tt.url, err, tt.wantErr)
		}
	}
}
