package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/signalsfoundry/across/internal/observation"
	"github.com/signalsfoundry/across/model"
)

func (s *Server) handleListObservations(c *gin.Context) {
	p, err := observationParams(newQuery(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	page, err := s.svc.Observations.List(c.Request.Context(), p)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) handleGetObservation(c *gin.Context) {
	id, err := pathUUID(c, "id")
	if err != nil {
		s.fail(c, err)
		return
	}
	obs, err := s.svc.Observations.Get(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, obs)
}

// handleOverlap lists observations whose footprint contains (ra, dec).
func (s *Server) handleOverlap(c *gin.Context) {
	q := newQuery(c)
	ra := q.requiredNumber("ra")
	dec := q.requiredNumber("dec")
	p, err := observationParams(q)
	if err != nil {
		s.fail(c, err)
		return
	}
	page, err := s.svc.Observations.OverlapPoint(c.Request.Context(), observation.OverlapParams{ReadParams: p, RA: ra, Dec: dec})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func observationParams(q *query) (observation.ReadParams, error) {
	p := observation.ReadParams{
		ExternalID:        q.str("external_id"),
		ScheduleIDs:       q.ids("schedule_ids"),
		ObservatoryIDs:    q.ids("observatory_ids"),
		TelescopeIDs:      q.ids("telescope_ids"),
		InstrumentIDs:     q.ids("instrument_ids"),
		Proposal:          q.str("proposal"),
		ObjectName:        q.str("object_name"),
		Begin:             q.timestamp("date_range_begin"),
		End:               q.timestamp("date_range_end"),
		ConeRA:            q.number("cone_search_ra"),
		ConeDec:           q.number("cone_search_dec"),
		ConeRadiusDegrees: q.number("cone_search_radius"),
		DepthValue:        q.number("depth_value"),
		BandpassMin:       q.number("bandpass_min"),
		BandpassMax:       q.number("bandpass_max"),
		BandpassUnit:      q.str("bandpass_type"),
		Pagination:        q.pagination(),
	}
	if v := q.str("status"); v != nil {
		st := model.Status(*v)
		p.Status = &st
	}
	if v := q.str("type"); v != nil {
		t := model.ObservationType(*v)
		p.Type = &t
	}
	if v := q.str("depth_unit"); v != nil {
		u := model.DepthUnit(*v)
		p.DepthUnit = &u
	}
	return p, q.err
}
