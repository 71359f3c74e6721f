package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pronouncex/ttsjobs/internal/apperr"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestContext() (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	return c, w
}

func TestJSONWritesEnvelope(t *testing.T) {
	c, w := newTestContext()
	JSON(c, http.StatusOK, gin.H{"foo": "bar"})

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.EqualValues(t, http.StatusOK, body["code"])
	assert.Equal(t, "ok", body["msg"])
	assert.Equal(t, "bar", body["data"].(map[string]any)["foo"])
}

func TestErrorWritesJobErrorBody(t *testing.T) {
	c, w := newTestContext()
	Error(c, apperr.New(apperr.CodeCapacity, http.StatusTooManyRequests, "at capacity"))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, string(apperr.CodeCapacity), body["code"])
	assert.Equal(t, "at capacity", body["msg"])
}

func TestErrorFallsBackForPlainErrors(t *testing.T) {
	c, w := newTestContext()
	Error(c, assert.AnError)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, string(apperr.CodeInternal), body["code"])
}

func TestNotFoundWritesStatusAndMessage(t *testing.T) {
	c, w := newTestContext()
	NotFound(c, "job not found")

	assert.Equal(t, http.StatusNotFound, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "job not found", body["msg"])
}
