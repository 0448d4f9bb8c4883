package replygen

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completionResponse(content string) string {
	b, _ := json.Marshal(map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	})
	return string(b)
}

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig("test-key")
	cfg.BaseURL = srv.URL
	c := NewClient(cfg)
	c.Openers = nil
	return c
}

func TestGenerate(t *testing.T) {
	assert := assert.New(t)

	var gotAuth, gotPath string
	var gotReq chatRequest
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, completionResponse("how are you finding the new setup?"))
	})

	reply, err := c.Generate(context.Background(), "finally moved my whole workflow over")
	require.NoError(t, err)

	assert.Equal("how are you finding the new setup?", reply)
	assert.Equal("Bearer test-key", gotAuth)
	assert.Equal("/chat/completions", gotPath)
	assert.Equal("gpt-4o-mini", gotReq.Model)
	require.Len(t, gotReq.Messages, 2)
	assert.Equal("system", gotReq.Messages[0].Role)
	assert.Contains(gotReq.Messages[1].Content, "finally moved my whole workflow over")
}

func TestGenerateNormalizesMultiline(t *testing.T) {
	assert := assert.New(t)

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completionResponse("  first line wins\nsecond line is dropped\n"))
	})

	reply, err := c.Generate(context.Background(), "some post")
	require.NoError(t, err)
	assert.Equal("first line wins", reply)
}

func TestGenerateErrorStatus(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad key"}`, http.StatusUnauthorized)
	})

	_, err := c.Generate(context.Background(), "some post")
	require.Error(t, err)
	var genErr *GenerationError
	assert.ErrorAs(t, err, &genErr)
}

func TestGenerateEmptyCompletion(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	})

	_, err := c.Generate(context.Background(), "some post")
	var genErr *GenerationError
	assert.ErrorAs(t, err, &genErr)
}

func TestGenerateAppliesOpener(t *testing.T) {
	assert := assert.New(t)

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completionResponse("big if true"))
	})
	c.Openers = []string{"Hmm."}

	reply, err := c.Generate(context.Background(), "some post")
	require.NoError(t, err)
	assert.Equal("Hmm. big if true", reply)
}

func TestNormalize(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("short", Normalize("  short  "))
	assert.Equal("first", Normalize("first\nsecond"))

	long := strings.Repeat("a", 400)
	out := Normalize(long)
	assert.Len(out, 280)
	assert.True(strings.HasSuffix(out, "..."))
}
