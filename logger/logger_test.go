package logger

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestRequestID_PlainContext(t *testing.T) {
	ctx := WithContext(context.Background(), "req-42")
	assert.Equal(t, "req-42", RequestID(ctx))
	assert.Equal(t, "unknown", RequestID(context.Background()))
}

func TestRequestID_GinContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/", nil)
	c.Set(RequestIDKey, "from-gin")

	assert.Equal(t, "from-gin", RequestID(c))
}

func TestInitializeWithWriter_TeesToWriter(t *testing.T) {
	var buf bytes.Buffer
	log := InitializeWithWriter("production", &buf)
	log.Info("hello")
	_ = log.Sync()

	assert.True(t, strings.Contains(buf.String(), `"msg":"hello"`))
	assert.True(t, strings.Contains(buf.String(), `"timestamp"`))
}
