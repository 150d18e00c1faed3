package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/antigravity-router/antigravity-proxy/internal/pool"
	"github.com/antigravity-router/antigravity-proxy/internal/registry"
	"github.com/antigravity-router/antigravity-proxy/internal/upstream"
)

func TestStatusFromError(t *testing.T) {
	assert.Equal(t, 404, StatusFromError(&upstream.StatusError{StatusCode: 404}))
	assert.Equal(t, http.StatusTooManyRequests, StatusFromError(pool.ErrAllCoolingDown))
	assert.Equal(t, http.StatusServiceUnavailable, StatusFromError(pool.ErrNoAccounts))
	assert.Equal(t, http.StatusInternalServerError, StatusFromError(errors.New("boom")))
}

func TestClaudeErrorFrame(t *testing.T) {
	frame := claudeErrors{}.ErrorFrame("upstream went away")
	assert.Contains(t, string(frame), "event: error\n")
	assert.Contains(t, string(frame), `"type":"error"`)
	assert.Contains(t, string(frame), "upstream went away")
}

func TestOpenAIErrorFrameIsNil(t *testing.T) {
	assert.Nil(t, openAIErrors{}.ErrorFrame("anything"))
}

func TestModelsList(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handler := NewModelsHandler(registry.NewRegistry(nil, "gemini-2.5-pro"))
	router.GET("/v1/models", handler.List)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Equal(t, "list", gjson.Get(body, "object").String())

	models := gjson.Get(body, "data")
	require.True(t, models.IsArray())
	require.NotEmpty(t, models.Array())

	first := models.Array()[0]
	assert.Equal(t, "claude-sonnet-4-5", first.Get("id").String())
	assert.Equal(t, "model", first.Get("object").String())
	assert.Equal(t, int64(200000), first.Get("context_window").Int())
	assert.Equal(t, int64(64000), first.Get("max_output_tokens").Int())
	assert.True(t, first.Get("capabilities.streaming").Bool())
	assert.True(t, first.Get("capabilities.reasoning").Bool())

	lite := gjson.Get(body, `data.#(id=="gemini-2.5-flash-lite")`)
	require.True(t, lite.Exists())
	assert.False(t, lite.Get("capabilities.reasoning").Bool())
}
