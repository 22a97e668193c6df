package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/signalsfoundry/across/internal/schedule"
	"github.com/signalsfoundry/across/model"
)

type createManyRequest struct {
	Schedules []schedule.Create `json:"schedules"`
}

func (s *Server) handleCreateSchedule(c *gin.Context) {
	var body schedule.Create
	if err := c.ShouldBindJSON(&body); err != nil {
		s.fail(c, fmt.Errorf("%w: %v", model.ErrUnprocessableEntity, err))
		return
	}
	p, err := principal(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	id, err := s.svc.Schedules.Create(c.Request.Context(), body, p.ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, id)
}

func (s *Server) handleCreateSchedules(c *gin.Context) {
	var body createManyRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		s.fail(c, fmt.Errorf("%w: %v", model.ErrUnprocessableEntity, err))
		return
	}
	p, err := principal(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	ids, err := s.svc.Schedules.CreateMany(c.Request.Context(), body.Schedules, p.ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	if ids == nil {
		ids = []uuid.UUID{}
	}
	c.JSON(http.StatusCreated, ids)
}

func (s *Server) handleListSchedules(c *gin.Context) {
	p, err := scheduleParams(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	page, err := s.svc.Schedules.List(c.Request.Context(), p)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) handleScheduleHistory(c *gin.Context) {
	p, err := scheduleParams(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	page, err := s.svc.Schedules.History(c.Request.Context(), p)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) handleGetSchedule(c *gin.Context) {
	id, err := pathUUID(c, "id")
	if err != nil {
		s.fail(c, err)
		return
	}
	q := newQuery(c)
	withObs := q.flag("include_observations")
	if q.err != nil {
		s.fail(c, q.err)
		return
	}
	sched, err := s.svc.Schedules.Get(c.Request.Context(), id, withObs)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sched)
}

func scheduleParams(c *gin.Context) (schedule.ReadParams, error) {
	q := newQuery(c)
	p := schedule.ReadParams{
		ExternalID:     q.str("external_id"),
		Name:           q.str("name"),
		TelescopeIDs:   q.ids("telescope_ids"),
		ObservatoryIDs: q.ids("observatory_ids"),
		Begin:          q.timestamp("date_range_begin"),
		End:            q.timestamp("date_range_end"),
		CreatedByID:    q.id("created_by_id"),
		Pagination:     q.pagination(),
	}
	if v := q.str("status"); v != nil {
		st := model.Status(*v)
		p.Status = &st
	}
	if v := q.str("fidelity"); v != nil {
		f := model.Fidelity(*v)
		p.Fidelity = &f
	}
	return p, q.err
}
