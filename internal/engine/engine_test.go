package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_KnownAndUnknown(t *testing.T) {
	e, err := New("echo", Options{})
	require.NoError(t, err)
	assert.IsType(t, &EchoEngine{}, e)

	_, err = New("nonexistent", Options{})
	assert.Error(t, err)

	assert.Contains(t, Names(), "echo")
	assert.Contains(t, Names(), "http")
}

func TestEchoEngine_ReturnsQuestionSection(t *testing.T) {
	e := &EchoEngine{}

	prompt := "# History\nuser: earlier\n\n# Question\nwhat is two plus two?"
	result, err := e.Generate(context.Background(), Request{Prompt: prompt})
	require.NoError(t, err)
	assert.Equal(t, "You said: what is two plus two?", result.Text)
	assert.Empty(t, result.Files)
}

func TestEchoEngine_EmptyPrompt(t *testing.T) {
	e := &EchoEngine{}
	result, err := e.Generate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "You said: (no text provided)", result.Text)
}

func TestEchoEngine_CancelledContext(t *testing.T) {
	e := &EchoEngine{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Generate(ctx, Request{Prompt: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTPEngine_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req httpRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "the prompt", req.Prompt)
		assert.Equal(t, "user_1", req.UploadDir)

		_ = json.NewEncoder(w).Encode(Result{
			Text: "generated reply",
			Files: []GeneratedFile{
				{FileName: "out.txt", MimeType: "text/plain", Text: "payload"},
			},
		})
	}))
	defer srv.Close()

	e, err := New("http", Options{Endpoint: srv.URL})
	require.NoError(t, err)

	result, err := e.Generate(context.Background(), Request{Prompt: "the prompt", UploadDir: "user_1"})
	require.NoError(t, err)
	assert.Equal(t, "generated reply", result.Text)
	require.Len(t, result.Files, 1)
	assert.Equal(t, "out.txt", result.Files[0].FileName)
}

func TestHTTPEngine_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e, err := New("http", Options{Endpoint: srv.URL})
	require.NoError(t, err)

	_, err = e.Generate(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestHTTPEngine_RequiresEndpoint(t *testing.T) {
	_, err := New("http", Options{})
	assert.Error(t, err)
}
