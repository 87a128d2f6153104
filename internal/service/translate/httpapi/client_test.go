package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslateSendsKeyAndParsesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/translate", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-API-KEY"))

		var body translateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body.Text)
		assert.Equal(t, "en", body.Source)
		assert.Equal(t, "hi", body.Target)

		_, _ = w.Write([]byte(`{"translations":{"translation":"नमस्ते"}}`))
	}))
	defer srv.Close()

	client := New(srv.URL, "secret", time.Second)
	got, err := client.Translate(context.Background(), "hello", "en", "hi")
	require.NoError(t, err)
	assert.Equal(t, "नमस्ते", got)
}

func TestTranslateEmptySourceUsesAuto(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body translateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "auto", body.Source)
		_, _ = w.Write([]byte(`{"translations":{"translation":"hola"}}`))
	}))
	defer srv.Close()

	got, err := New(srv.URL, "k", time.Second).Translate(context.Background(), "hello", "", "es")
	require.NoError(t, err)
	assert.Equal(t, "hola", got)
}

func TestTranslateNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "k", time.Second).Translate(context.Background(), "hello", "en", "fr")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestDetectLanguage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/language_detect", r.URL.Path)
		_, _ = w.Write([]byte(`{"language_detection":{"language":"fr"}}`))
	}))
	defer srv.Close()

	got, err := New(srv.URL, "k", time.Second).DetectLanguage(context.Background(), "bonjour")
	require.NoError(t, err)
	assert.Equal(t, "fr", got)
}
