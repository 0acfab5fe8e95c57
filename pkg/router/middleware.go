/*
Copyright 2020 The symcn authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package router

import (
	"strconv"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
)

// Keys of the values RequestID sets on the gin context.
const (
	RequestCountKey = "requestcount"
	RequestIDKey    = "requestid"
	RequestIDHeader = "X-Request-Id"
)

var requestCount int64

// RequestID numbers the requests and tags them with the X-Request-Id header, which is
// generated when the client did not send one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqCount := strconv.FormatInt(atomic.AddInt64(&requestCount, 1), 10)
		c.Set(RequestCountKey, reqCount)
		reqID := c.Request.Header.Get(RequestIDHeader)
		if reqID == "" {
			reqID = uuid.Must(uuid.NewV4()).String()
		}
		c.Set(RequestIDKey, reqID)
		c.Writer.Header().Set(RequestIDHeader, reqID)
		c.Next()
	}
}
