package api

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/signalsfoundry/across/model"
)

// naiveLayout is accepted for timestamps without an offset, read as UTC.
const naiveLayout = "2006-01-02T15:04:05.999999999"

// query collects the first parse failure so handlers can read every
// parameter and check once.
type query struct {
	c   *gin.Context
	err error
}

func newQuery(c *gin.Context) *query { return &query{c: c} }

func (q *query) fail(name, format string, args ...any) {
	if q.err == nil {
		q.err = fmt.Errorf("%w: %s: %s", model.ErrInvalidParameters, name, fmt.Sprintf(format, args...))
	}
}

func (q *query) raw(name string) (string, bool) {
	v, ok := q.c.GetQuery(name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (q *query) str(name string) *string {
	v, ok := q.raw(name)
	if !ok {
		return nil
	}
	return &v
}

func (q *query) number(name string) *float64 {
	v, ok := q.raw(name)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		q.fail(name, "not a number")
		return nil
	}
	return &f
}

func (q *query) requiredNumber(name string) float64 {
	if _, ok := q.raw(name); !ok {
		q.fail(name, "required")
		return 0
	}
	if f := q.number(name); f != nil {
		return *f
	}
	return 0
}

func (q *query) integer(name string) *int {
	v, ok := q.raw(name)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		q.fail(name, "not an integer")
		return nil
	}
	return &n
}

func (q *query) flag(name string) bool {
	v, ok := q.raw(name)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		q.fail(name, "not a boolean")
	}
	return b
}

func (q *query) timestamp(name string) *time.Time {
	v, ok := q.raw(name)
	if !ok {
		return nil
	}
	t, err := parseTime(v)
	if err != nil {
		q.fail(name, "not an ISO-8601 timestamp")
		return nil
	}
	return &t
}

func (q *query) requiredTimestamp(name string) time.Time {
	t := q.timestamp(name)
	if t == nil {
		if _, ok := q.raw(name); !ok {
			q.fail(name, "required")
		}
		return time.Time{}
	}
	return *t
}

func (q *query) id(name string) *uuid.UUID {
	v, ok := q.raw(name)
	if !ok {
		return nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		q.fail(name, "not a uuid")
		return nil
	}
	return &id
}

// ids accepts repeated parameters and comma separated values.
func (q *query) ids(name string) []uuid.UUID {
	var ids []uuid.UUID
	for _, v := range q.c.QueryArray(name) {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := uuid.Parse(part)
			if err != nil {
				q.fail(name, "%q is not a uuid", part)
				return nil
			}
			ids = append(ids, id)
		}
	}
	return ids
}

func (q *query) pagination() model.Pagination {
	return model.Pagination{Page: q.integer("page"), PageLimit: q.integer("page_limit")}
}

// parseTime accepts RFC 3339 and offset-less timestamps. A '+' offset that
// arrived unescaped decodes to a space and is restored.
func parseTime(v string) (time.Time, error) {
	v = strings.ReplaceAll(v, " ", "+")
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t.UTC(), nil
	}
	return time.ParseInLocation(naiveLayout, v, time.UTC)
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s is not a uuid", model.ErrInvalidParameters, name)
	}
	return id, nil
}
