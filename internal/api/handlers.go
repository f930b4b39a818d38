package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/slok/formbot/internal/app/upload"
	"github.com/slok/formbot/internal/model"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy"})
}

func (s *Server) handleUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUploadBytes)

	fh, err := c.FormFile("file")
	if err != nil {
		s.writeError(c, fmt.Errorf("file is required: %w", model.ErrNotValid))
		return
	}

	f, err := fh.Open()
	if err != nil {
		s.writeError(c, fmt.Errorf("could not open uploaded file: %w", err))
		return
	}
	defer f.Close()

	res, err := s.uploader.Run(c.Request.Context(), upload.Request{
		Filename:       fh.Filename,
		Content:        f,
		DestinationURL: c.PostForm("destination_url"),
		Username:       c.PostForm("username"),
		Password:       c.PostForm("password"),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	// The upload is kept, the client still needs to know the content is missing.
	if res.ExtractionError != "" {
		c.JSON(http.StatusInternalServerError, mapUploadToAPI(*res))
		return
	}

	c.JSON(http.StatusOK, mapUploadToAPI(*res))
}

func (s *Server) handleEmailContent(c *gin.Context) {
	e, err := s.emails.GetEmailContent(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, mapEmailToAPI(*e))
}

func (s *Server) handleStart(c *gin.Context) {
	run, err := s.starter.Run(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, mapRunToAPI(*run))
}

func (s *Server) handleStatus(c *gin.Context) {
	tail := s.statusTail
	if v := c.Query("tail"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(c, fmt.Errorf("tail must be a positive number, got %q: %w", v, model.ErrNotValid))
			return
		}
		tail = n
	}

	run, err := s.controller.Status(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, mapRunToAPI(run.Tail(tail)))
}

func (s *Server) handleProvideInput(c *gin.Context) {
	var req ProvideInputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, fmt.Errorf("invalid body: %w: %w", model.ErrNotValid, err))
		return
	}

	if strings.TrimSpace(req.InputValue) == "" {
		s.writeError(c, fmt.Errorf("input value is required: %w", model.ErrNotValid))
		return
	}

	run, err := s.controller.ResolveInput(c.Request.Context(), model.InputSubmission{
		RequestID: req.RequestID,
		Field:     req.Field,
		Value:     req.InputValue,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, mapRunToAPI(run.Tail(s.statusTail)))
}

func (s *Server) handleStop(c *gin.Context) {
	if err := s.controller.Stop(c.Request.Context()); err != nil {
		s.writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) handleListHistory(c *gin.Context) {
	recs, err := s.history.ListRunRecords(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}

	resp := HistoryResponse{Runs: make([]RunRecordResponse, 0, len(recs))}
	for _, r := range recs {
		resp.Runs = append(resp.Runs, mapRunRecordToAPI(r))
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetHistory(c *gin.Context) {
	rec, err := s.history.GetRunRecord(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, mapRunRecordToAPI(*rec))
}

func (s *Server) writeError(c *gin.Context, err error) {
	status, code := codeForError(err)

	if status >= http.StatusInternalServerError {
		s.logger.Errorf("Request %s %s failed: %s", c.Request.Method, c.Request.URL.Path, err)
	}

	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}
