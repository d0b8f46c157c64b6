package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// BodyLimit caps the request body size for chunk submissions. Multipart
// framing adds overhead on top of the chunk payload, so the cap applies
// some headroom over the configured chunk size.
func BodyLimit(maxChunkBytes int64) gin.HandlerFunc {
	const multipartOverhead = 16 * 1024

	limit := maxChunkBytes + multipartOverhead
	return func(c *gin.Context) {
		if maxChunkBytes <= 0 {
			c.Next()
			return
		}

		if c.Request.ContentLength > limit {
			log.Warn().
				Int64("content_length", c.Request.ContentLength).
				Int64("limit", limit).
				Str("path", c.Request.URL.Path).
				Msg("request body exceeds chunk size limit")
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "request body too large",
			})
			c.Abort()
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}
