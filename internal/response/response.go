// Package response implements the JSON envelope every handler answers
// with, mirroring the code/msg/data shape used across the stack.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pronouncex/ttsjobs/internal/apperr"
)

func JSON(c *gin.Context, httpStatus int, data any) {
	c.JSON(httpStatus, gin.H{
		"code": httpStatus,
		"msg":  "ok",
		"data": data,
	})
}

func Error(c *gin.Context, err error) {
	status, code, msg := apperr.HTTPStatus(err)
	body := gin.H{
		"code": code,
		"msg":  msg,
	}
	if je, ok := err.(*apperr.JobError); ok {
		body["data"] = gin.H{"job_id": je.JobID, "segment_id": je.SegmentID}
	}
	c.AbortWithStatusJSON(status, body)
}

func NotFound(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"code": apperr.CodeNotFound, "msg": msg})
}
