package api

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/Sriram-PR/clip-harvester/pkg/models"
	"github.com/Sriram-PR/clip-harvester/pkg/service"
	"github.com/Sriram-PR/clip-harvester/pkg/storage"
	"github.com/Sriram-PR/clip-harvester/pkg/utils"
)

// queryInt reads a non-negative integer query parameter, 0 when absent
func queryInt(c echo.Context, name string) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", utils.ErrValidation, name)
	}
	return n, nil
}

func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", utils.ErrValidation, err)
	}
	return nil
}

func (s *Server) createJob(c echo.Context) error {
	var req service.JobRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	job, err := s.svc.CreateJob(req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, job)
}

func (s *Server) listJobs(c echo.Context) error {
	offset, err := queryInt(c, "offset")
	if err != nil {
		return err
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		return err
	}
	jobs, err := s.svc.ListJobs(storage.JobFilter{
		Status: models.JobStatus(c.QueryParam("status")),
		Mode:   models.SelectorKind(c.QueryParam("mode")),
		Offset: offset,
		Limit:  limit,
	})
	if err != nil {
		return err
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}
	return c.JSON(http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

func (s *Server) getJob(c echo.Context) error {
	detail, err := s.svc.GetJob(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, detail)
}

func (s *Server) cancelJob(c echo.Context) error {
	job, err := s.svc.CancelJob(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, job)
}

func (s *Server) deleteJob(c echo.Context) error {
	n, err := s.svc.DeleteJob(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"deleted": c.Param("id"), "items_deleted": n})
}

func (s *Server) listItems(c echo.Context) error {
	offset, err := queryInt(c, "offset")
	if err != nil {
		return err
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		return err
	}
	items, err := s.svc.ListItems(storage.ItemFilter{
		JobID:  c.QueryParam("job_id"),
		Status: models.ItemStatus(c.QueryParam("status")),
		Offset: offset,
		Limit:  limit,
	})
	if err != nil {
		return err
	}
	if items == nil {
		items = []*models.Item{}
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (s *Server) getItem(c echo.Context) error {
	item, err := s.svc.GetItem(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, item)
}

func (s *Server) retryItem(c echo.Context) error {
	item, err := s.svc.RetryItem(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, map[string]any{"item_id": item.ID, "status": "queued"})
}

func (s *Server) downloadItem(c echo.Context) error {
	item, path, err := s.svc.ItemFile(c.Param("id"))
	if err != nil {
		return err
	}
	return c.Attachment(path, utils.SanitizeFilename(item.ID)+filepath.Ext(path))
}

func (s *Server) streamItem(c echo.Context) error {
	item, path, err := s.svc.ItemFile(c.Param("id"))
	if err != nil {
		return err
	}
	return c.Inline(path, utils.SanitizeFilename(item.ID)+filepath.Ext(path))
}

func (s *Server) addSource(c echo.Context) error {
	var req service.SourceRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	src, err := s.svc.AddSource(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, src)
}

func (s *Server) listSources(c echo.Context) error {
	srcs, err := s.svc.ListSources()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"sources": srcs, "count": len(srcs)})
}

func (s *Server) removeSource(c echo.Context) error {
	src, err := s.svc.RemoveSource(c.Param("value"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, src)
}

func (s *Server) checkSources(c echo.Context) error {
	return c.JSON(http.StatusAccepted, s.svc.CheckSources())
}

func (s *Server) monitorStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.svc.MonitorStatus())
}

func (s *Server) createTemplate(c echo.Context) error {
	var req service.TemplateRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	tmpl, err := s.svc.CreateTemplate(req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, tmpl)
}

func (s *Server) listTemplates(c echo.Context) error {
	ts, err := s.svc.ListTemplates()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"templates": ts, "count": len(ts)})
}

func (s *Server) getTemplate(c echo.Context) error {
	tmpl, err := s.svc.GetTemplate(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tmpl)
}

func (s *Server) updateTemplate(c echo.Context) error {
	var patch service.TemplatePatch
	if err := bind(c, &patch); err != nil {
		return err
	}
	tmpl, err := s.svc.UpdateTemplate(c.Param("id"), patch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tmpl)
}

func (s *Server) deleteTemplate(c echo.Context) error {
	if err := s.svc.DeleteTemplate(c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) toggleTemplate(c echo.Context) error {
	tmpl, err := s.svc.ToggleTemplate(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tmpl)
}

func (s *Server) stats(c echo.Context) error {
	st, err := s.svc.Stats()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) runCleanup(c echo.Context) error {
	report, err := s.svc.RunCleanup(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) cleanupStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.svc.CleanupStatus())
}
