package routes

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/qazdrive/uploadhub/cmd/upload-gateway/middleware"
	"github.com/qazdrive/uploadhub/internal/auth"
	"github.com/qazdrive/uploadhub/internal/courses"
)

// CoursesRoutes sets up the course catalog endpoints
func CoursesRoutes(api *gin.RouterGroup, coursesService *courses.Service, authService *auth.Service) {
	group := api.Group("/courses")

	group.GET("", handleListCourses(coursesService))
	group.GET("/:id", handleGetCourse(coursesService))
	group.GET("/:id/videos", handleListVideos(coursesService))

	authed := group.Group("")
	authed.Use(middleware.AuthMiddleware(authService))
	authed.POST("", handleCreateCourse(coursesService))
	authed.POST("/videos/:id/progress", handleUpdateProgress(coursesService))
}

func handleCreateCourse(coursesService *courses.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req courses.CreateCourseRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		course, err := coursesService.CreateCourse(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create course"})
			return
		}

		c.JSON(http.StatusCreated, course)
	}
}

func handleListCourses(coursesService *courses.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := coursesService.ListCourses(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list courses"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"courses": list})
	}
}

func handleGetCourse(coursesService *courses.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "course not found"})
			return
		}

		course, err := coursesService.GetCourse(c.Request.Context(), id)
		if err != nil {
			writeCoursesError(c, err)
			return
		}

		c.JSON(http.StatusOK, course)
	}
}

func handleListVideos(coursesService *courses.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "course not found"})
			return
		}

		videos, err := coursesService.ListVideos(c.Request.Context(), id, c.Query("language"))
		if err != nil {
			writeCoursesError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"videos": videos})
	}
}

func handleUpdateProgress(coursesService *courses.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, exists := middleware.GetUserFromContext(c)
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		videoID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "video not found"})
			return
		}

		var req struct {
			Position  int  `json:"position"`
			Completed bool `json:"completed"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		progress, err := coursesService.UpdateProgress(c.Request.Context(), user.ID, videoID, req.Position, req.Completed)
		if err != nil {
			writeCoursesError(c, err)
			return
		}

		c.JSON(http.StatusOK, progress)
	}
}

func writeCoursesError(c *gin.Context, err error) {
	if strings.Contains(err.Error(), "not found") {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
