package internal

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHTTPExecutor_Run(t *testing.T) {
	req := require.New(t)
	var received RunRequest
	sandbox := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		_ = json.NewEncoder(w).Encode(RunResult{Output: "42\n"})
	}))
	defer sandbox.Close()

	executor := NewHTTPExecutor(sandbox.URL, time.Second)
	result, err := executor.Run(t.Context(), RunRequest{Language: "go", Code: "main"})

	req.NoError(err)
	req.Equal("42\n", result.Output)
	req.Equal(RunRequest{Language: "go", Code: "main"}, received)
}

func TestHTTPExecutor_Failures(t *testing.T) {
	req := require.New(t)
	sandbox := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer sandbox.Close()

	_, err := NewHTTPExecutor(sandbox.URL, time.Second).Run(t.Context(), RunRequest{Language: "go", Code: "x"})
	req.ErrorContains(err, "boom")

	sandbox.Close()
	_, err = NewHTTPExecutor(sandbox.URL, time.Second).Run(t.Context(), RunRequest{Language: "go", Code: "x"})
	req.ErrorIs(err, ErrExecutorUnavailable)

	unconfigured := NewHTTPExecutor("  ", 0)
	req.Nil(unconfigured)
	_, err = unconfigured.Run(t.Context(), RunRequest{})
	req.ErrorIs(err, ErrExecutorUnavailable)
}
