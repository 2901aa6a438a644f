package server

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/HugeFrog24/gpt-diarizer/config"
	"github.com/HugeFrog24/gpt-diarizer/jobs"
	"github.com/HugeFrog24/gpt-diarizer/media"
	"github.com/HugeFrog24/gpt-diarizer/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	detailInvalidChunk   = "Invalid chunk_seconds: must be an integer (use <= 0 to disable backend chunking)."
	detailMissingSource  = "Provide either audio_file or youtube_video_id"
	detailInternal       = "Internal server error"
	detailInvalidSummary = "Invalid summarize: must be a boolean."
	detailInvalidVideo   = "Invalid youtube_video_id"
)

// requestError carries the status and client-facing detail of a rejected form.
type requestError struct {
	status int
	detail string
	err    error
}

func (e *requestError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.detail, e.err)
	}
	return e.detail
}

func (e *requestError) Unwrap() error {
	return e.err
}

func (s *Server) handleDiarization(c *gin.Context) {
	req, err := s.parseRequest(c)
	if err != nil {
		s.abort(c, err)
		return
	}
	s.opts.Logger.Info().Int("chunk_seconds", req.ChunkSeconds).Str("source", sourceOf(req)).Msg("/speaker-diarization")

	job, err := s.jobs.Submit(req)
	if err != nil {
		s.discardUpload(req)
		s.abort(c, err)
		return
	}

	done, err := s.jobs.Wait(c.Request.Context(), job.ID)
	if err != nil {
		// Client went away.
		if cancelErr := s.jobs.Cancel(job.ID); cancelErr != nil && !errors.Is(cancelErr, jobs.ErrNotCancellable) {
			s.opts.Logger.Warn().Err(cancelErr).Str("job_id", job.ID).Msg("failed to cancel abandoned job")
		}
		s.opts.Logger.Warn().Err(err).Str("job_id", job.ID).Msg("/speaker-diarization: request ended before job finished")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"detail": detailInternal})
		return
	}
	defer func() {
		if err := s.jobs.Remove(job.ID); err != nil {
			s.opts.Logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to release finished job")
		}
	}()

	if done.Status != jobs.StatusCompleted || done.Result == nil {
		s.opts.Logger.Error().Str("job_id", job.ID).Str("status", done.Status.String()).Str("error", done.Error).Msg("/speaker-diarization:/500")
		c.JSON(http.StatusInternalServerError, gin.H{"detail": detailInternal})
		return
	}
	c.JSON(http.StatusOK, done.Result)
}

func (s *Server) handleSubmitJob(c *gin.Context) {
	req, err := s.parseRequest(c)
	if err != nil {
		s.abort(c, err)
		return
	}
	job, err := s.jobs.Submit(req)
	if err != nil {
		s.discardUpload(req)
		s.abort(c, err)
		return
	}
	c.Header("Location", "/jobs/"+job.ID)
	c.JSON(http.StatusAccepted, job)
}

func (s *Server) handleListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": s.jobs.List()})
}

func (s *Server) handleGetJob(c *gin.Context) {
	job, err := s.jobs.Get(c.Param("id"))
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) handleCancelJob(c *gin.Context) {
	id := c.Param("id")
	if err := s.jobs.Cancel(id); err != nil {
		s.abort(c, err)
		return
	}
	job, err := s.jobs.Get(id)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// parseRequest reads the diarization form. An uploaded audio_file wins over
// youtube_video_id and is saved under the upload directory.
func (s *Server) parseRequest(c *gin.Context) (utils.Request, error) {
	if s.opts.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxUploadBytes)
	}

	req := utils.Request{ChunkSeconds: s.opts.DefaultChunkSeconds}
	if raw, ok := c.GetPostForm("chunk_seconds"); ok {
		chunkSeconds, err := parseChunkSeconds(raw)
		if err != nil {
			return req, &requestError{status: http.StatusBadRequest, detail: detailInvalidChunk, err: err}
		}
		req.ChunkSeconds = chunkSeconds
	}
	if raw, ok := c.GetPostForm("summarize"); ok && strings.TrimSpace(raw) != "" {
		summarize, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return req, &requestError{status: http.StatusBadRequest, detail: detailInvalidSummary, err: err}
		}
		req.Summarize = summarize
	}

	file, err := c.FormFile("audio_file")
	switch {
	case err == nil:
		path := filepath.Join(s.opts.UploadDir, uuid.NewString()+strings.ToLower(filepath.Ext(file.Filename)))
		if err := c.SaveUploadedFile(file, path); err != nil {
			return req, fmt.Errorf("failed to store upload: %w", err)
		}
		req.AudioPath = path
		req.AudioName = file.Filename
		return req, nil
	case isTooLarge(err):
		return req, &requestError{status: http.StatusRequestEntityTooLarge, detail: "Uploaded file is too large", err: err}
	case !errors.Is(err, http.ErrMissingFile) && !errors.Is(err, http.ErrNotMultipart):
		return req, &requestError{status: http.StatusBadRequest, detail: "Invalid form data", err: err}
	}

	req.VideoID = strings.TrimSpace(c.PostForm("youtube_video_id"))
	if req.VideoID == "" {
		return req, &requestError{status: http.StatusBadRequest, detail: detailMissingSource}
	}
	return req, nil
}

// parseChunkSeconds clamps positive values and passes values <= 0 through,
// which disables backend chunking.
func parseChunkSeconds(raw string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return v, nil
	}
	return config.ClampChunkSeconds(v), nil
}

func (s *Server) abort(c *gin.Context, err error) {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		c.AbortWithStatusJSON(reqErr.status, gin.H{"detail": reqErr.detail})
	case errors.Is(err, media.ErrInvalidVideoID):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": detailInvalidVideo})
	case errors.Is(err, utils.ErrInvalidRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": detailMissingSource})
	case errors.Is(err, jobs.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"detail": "Job not found"})
	case errors.Is(err, jobs.ErrNotCancellable):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"detail": "Job already finished"})
	case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrClosed):
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"detail": "Server is busy, try again later"})
	default:
		s.opts.Logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"detail": detailInternal})
	}
}

func (s *Server) discardUpload(req utils.Request) {
	if req.AudioPath == "" {
		return
	}
	if err := os.Remove(req.AudioPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.opts.Logger.Warn().Err(err).Str("path", req.AudioPath).Msg("failed to remove upload")
	}
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

func sourceOf(req utils.Request) string {
	if req.AudioPath != "" {
		return jobs.SourceUpload
	}
	return jobs.SourceYouTube
}
