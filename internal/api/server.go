package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/textgen/internal/version"
)

type Server struct {
	store    *GenerationStore
	service  *GenerationService
	provider EngineProvider
}

func NewServer(store *GenerationStore, service *GenerationService, provider EngineProvider) *Server {
	if store == nil {
		store = NewGenerationStore(0)
	}
	return &Server{
		store:    store,
		service:  service,
		provider: provider,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/generate", s.handleGenerate)
	e.GET("/v1/generations/:id", s.handleGetGeneration)
	e.DELETE("/v1/generations/:id", s.handleDeleteGeneration)
	e.GET("/v1/models", s.handleListModels)
	e.GET("/healthz", s.handleHealth)
}

func (s *Server) handleGenerate(c *echo.Context) error {
	if s.service == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "generation service not configured", "", "")
	}
	req, err := decodeJSON[GenerateRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if req.Prompt == nil {
		return writeError(c, http.StatusBadRequest, "invalid_request_error", "prompt is required", "prompt", "")
	}

	var writer *SSEStreamWriter
	var streamWriter StreamWriter
	if req.Stream != nil && *req.Stream {
		w, err := NewSSEStreamWriter(c)
		if err != nil {
			return writeBadRequest(c, err.Error())
		}
		writer = w
		streamWriter = w
	}

	gen, err := s.service.Generate(c.Request().Context(), &req, streamWriter)
	if gen != nil && (req.Store == nil || *req.Store) {
		s.store.Save(*gen)
	}
	if err != nil {
		if writer != nil && writer.Started() {
			return nil
		}
		switch {
		case errors.Is(err, ErrInvalidRequest):
			return writeBadRequest(c, err.Error())
		case errors.Is(err, ErrModelNotFound):
			return writeNotFound(c, err.Error())
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return writeError(c, http.StatusRequestTimeout, "request_cancelled", err.Error(), "", "")
		}
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
	}

	if writer != nil {
		return nil
	}
	return c.JSON(http.StatusOK, gen)
}

func (s *Server) handleGetGeneration(c *echo.Context) error {
	gen, ok := s.store.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, "generation not found")
	}
	return c.JSON(http.StatusOK, gen)
}

func (s *Server) handleDeleteGeneration(c *echo.Context) error {
	id := c.Param("id")
	if !s.store.Delete(id) {
		return writeNotFound(c, "generation not found")
	}
	return c.JSON(http.StatusOK, DeleteGenerationResp{
		ID:      id,
		Object:  "generation",
		Deleted: true,
	})
}

func (s *Server) handleListModels(c *echo.Context) error {
	out := ModelList{Object: "list", Data: []ModelInfo{}}
	if s.provider != nil {
		names, err := s.provider.ListModels()
		if err != nil {
			return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
		}
		for _, name := range names {
			out.Data = append(out.Data, ModelInfo{ID: name, Object: "model", OwnedBy: "textgen"})
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.String(),
	})
}
