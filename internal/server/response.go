package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tokmz/sitesync/pkg/errors"
	"github.com/tokmz/sitesync/pkg/tracing"
)

// Response 管理接口统一响应结构
type Response struct {
	Code    int    `json:"code"`
	Data    any    `json:"data"`
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
}

// Success 成功响应
func Success(data any) *Response {
	return &Response{Code: http.StatusOK, Data: data, Message: "success"}
}

// Fail 失败响应
func Fail(code int, message string) *Response {
	return &Response{Code: code, Message: message}
}

// abortWithError 按错误码写入失败响应，非 *errors.Error 视为 500
func abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	resp := Fail(errors.Code(err), "internal error")

	var e *errors.Error
	if errors.As(err, &e) {
		status = e.HttpCode
		resp.Message = e.Message
	}
	if resp.Code == 0 {
		resp.Code = status
	}
	resp.TraceID = tracing.TraceID(c.Request.Context())

	_ = c.Error(err)
	c.AbortWithStatusJSON(status, resp)
}
