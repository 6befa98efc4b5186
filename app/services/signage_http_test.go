package services

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/amirphl/signage-publisher/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSignageClient_UploadTimeout(t *testing.T) {
	received := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(150 * time.Millisecond)
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/upload/1":
			assert.Empty(t, r.Header.Get("Authorization"))
			b, _ := io.ReadAll(r.Body)
			received <- string(b)
			w.WriteHeader(http.StatusOK)
		default:
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":1,"status":"finished"}`))
		}
	}))
	defer srv.Close()

	client := NewHTTPSignageClient(config.SignageConfig{
		Provider:      "http",
		BaseURL:       srv.URL,
		APIToken:      "token",
		Timeout:       50 * time.Millisecond,
		UploadTimeout: 5 * time.Second,
	})
	ctx := context.Background()

	t.Run("byte transfer outlives the api timeout", func(t *testing.T) {
		err := client.UploadBytes(ctx, &UploadTarget{URL: srv.URL + "/upload/1"}, strings.NewReader("video"), 5)
		require.NoError(t, err)
		assert.Equal(t, "video", <-received)
	})

	t.Run("api calls keep the short timeout", func(t *testing.T) {
		_, err := client.GetMedia(ctx, 1)
		require.Error(t, err)
		assert.True(t, IsTransient(err))
	})
}
