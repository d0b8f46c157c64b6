package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/qazdrive/uploadhub/cmd/upload-gateway/middleware"
	"github.com/qazdrive/uploadhub/internal/auth"
	internalmw "github.com/qazdrive/uploadhub/internal/middleware"
	"github.com/qazdrive/uploadhub/internal/upload"
	"github.com/qazdrive/uploadhub/pkg/config"
	"github.com/qazdrive/uploadhub/pkg/types"
)

// uploadFieldName is the fixed multipart field carrying the chunk payload
const uploadFieldName = "file"

// UploadRoutes sets up the chunked upload endpoints
func UploadRoutes(api *gin.RouterGroup, uploadService *upload.Service, authService *auth.Service, cfg *config.UploadConfig) {
	group := api.Group("/upload")
	group.Use(middleware.OptionalAuthMiddleware(authService))

	group.POST("/chunked", internalmw.BodyLimit(cfg.MaxChunkBytes), handleSubmitChunk(uploadService))
	group.POST("/chunked/complete", handleCompleteUpload(uploadService))
	group.GET("/chunked/:id", handleUploadStatus(uploadService))
}

func handleSubmitChunk(uploadService *upload.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, _ := middleware.GetUserFromContext(c)

		req := &upload.ChunkRequest{
			Range: upload.ParseContentRange(c.GetHeader("Content-Range")),
		}

		if raw := c.PostForm("upload_id"); raw != "" {
			if id, err := uuid.Parse(raw); err == nil {
				req.SessionID = &id
			}
		}

		fileHeader, err := c.FormFile(uploadFieldName)
		if err == nil {
			file, openErr := fileHeader.Open()
			if openErr != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read uploaded file"})
				return
			}
			defer file.Close()

			req.Filename = fileHeader.Filename
			req.Content = file
			req.Size = fileHeader.Size
		}

		result, err := uploadService.SubmitChunk(c.Request.Context(), user, req)
		if err != nil {
			writeUploadError(c, err)
			return
		}

		c.JSON(http.StatusOK, result)
	}
}

func handleCompleteUpload(uploadService *upload.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, _ := middleware.GetUserFromContext(c)

		rawID := c.PostForm("upload_id")
		if rawID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "upload_id is required"})
			return
		}

		sessionID, err := uuid.Parse(rawID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "upload not found"})
			return
		}

		req := &upload.CompleteRequest{
			SessionID: sessionID,
			Checksum:  c.PostForm("sha256"),
			Metadata:  pendingMetadata(c),
		}

		result, err := uploadService.Complete(c.Request.Context(), user, req)
		if err != nil {
			writeUploadError(c, err)
			return
		}

		if result.FinalizeErr != nil {
			// The upload itself completed; surface the finalize failure
			// so the domain layer can be retried
			c.JSON(http.StatusOK, gin.H{
				"status":    "error",
				"message":   result.FinalizeErr.Error(),
				"upload_id": result.Session.ID,
			})
			return
		}

		if result.Data != nil {
			c.JSON(http.StatusOK, result.Data)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Upload complete"})
	}
}

func handleUploadStatus(uploadService *upload.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, _ := middleware.GetUserFromContext(c)

		sessionID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "upload not found"})
			return
		}

		session, err := uploadService.GetStatus(c.Request.Context(), user, sessionID)
		if err != nil {
			writeUploadError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"upload_id":  session.ID,
			"filename":   session.Filename,
			"offset":     session.Offset,
			"status":     session.Status,
			"created_at": session.CreatedAt,
			"expires_at": session.ExpiresAt(uploadService.SessionTTL()),
		})
	}
}

// pendingMetadata collects the form fields destined for the finalize
// callback, skipping the fields the upload protocol itself consumes
func pendingMetadata(c *gin.Context) types.JSONMap {
	values := c.Request.PostForm
	if c.Request.MultipartForm != nil {
		values = c.Request.MultipartForm.Value
	}

	metadata := types.JSONMap{}
	for key, vals := range values {
		if key == "upload_id" || key == "sha256" || len(vals) == 0 {
			continue
		}
		metadata[key] = vals[0]
	}
	if len(metadata) == 0 {
		return nil
	}
	return metadata
}

// writeUploadError maps typed upload errors to HTTP responses
func writeUploadError(c *gin.Context, err error) {
	if uploadErr, ok := upload.AsError(err); ok {
		c.JSON(uploadErr.HTTPStatus(), gin.H{"error": uploadErr.Message})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
