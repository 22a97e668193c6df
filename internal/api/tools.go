package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/signalsfoundry/across/internal/visibility"
	"github.com/signalsfoundry/across/model"
)

func (s *Server) handleWindows(c *gin.Context) {
	id, err := pathUUID(c, "instrument_id")
	if err != nil {
		s.fail(c, err)
		return
	}
	vq, err := visibilityQuery(newQuery(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	res, err := s.svc.Visibility.Windows(c.Request.Context(), id, vq)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleJointWindows(c *gin.Context) {
	q := newQuery(c)
	ids := q.ids("instrument_ids")
	vq, err := visibilityQuery(q)
	if err != nil {
		s.fail(c, err)
		return
	}
	if len(ids) == 0 {
		s.fail(c, fmt.Errorf("%w: instrument_ids: required", model.ErrInvalidParameters))
		return
	}
	res, err := s.svc.Visibility.Joint(c.Request.Context(), ids, vq)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// visibilityQuery reads ra, dec, begin, end, hi_res and min_duration. The
// minimum duration is in seconds.
func visibilityQuery(q *query) (visibility.Query, error) {
	vq := visibility.Query{
		RA:    q.requiredNumber("ra"),
		Dec:   q.requiredNumber("dec"),
		Begin: q.requiredTimestamp("date_range_begin"),
		End:   q.requiredTimestamp("date_range_end"),
		HiRes: q.flag("hi_res"),
	}
	if v := q.number("min_duration"); v != nil {
		vq.MinDuration = time.Duration(*v * float64(time.Second))
	}
	return vq, q.err
}

func (s *Server) handleResolve(c *gin.Context) {
	if s.svc.Resolver == nil {
		s.fail(c, errors.New("name resolution is not configured"))
		return
	}
	name := c.Query("name")
	res, err := s.svc.Resolver.Resolve(c.Request.Context(), name)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
