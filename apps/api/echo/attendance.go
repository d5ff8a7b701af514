package echoapi

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/ulasproject/ulas/core/attendance"
	"github.com/ulasproject/ulas/core/catalog"
)

type attendanceApi struct {
	svc *attendance.Service
	cat catalog.Catalog
}

func registerAttendanceAPI(g *echo.Group, svc *attendance.Service, cat catalog.Catalog) {
	api := attendanceApi{svc: svc, cat: cat}

	ag := g.Group("/attendance/:school/:department/:level")

	// student-facing endpoints
	ag.GET("", api.status)
	ag.POST("/submissions", api.submit)

	// course-rep endpoints
	// TODO: put these behind course-rep auth once the rep/advisor accounts exist
	ag.POST("/rotate", api.rotate)
	ag.DELETE("", api.close)
	ag.POST("/export", api.export)
}

// bindKey builds a SessionKey from path params and rejects combinations the
// catalog does not know (when a catalog is configured at all).
func (api *attendanceApi) bindKey(ctx echo.Context) (attendance.SessionKey, error) {
	school, err := url.PathUnescape(ctx.Param("school"))
	if err != nil {
		return attendance.SessionKey{}, errHttpNotFound
	}
	department, err := url.PathUnescape(ctx.Param("department"))
	if err != nil {
		return attendance.SessionKey{}, errHttpNotFound
	}
	level, err := strconv.Atoi(ctx.Param("level"))
	if err != nil {
		return attendance.SessionKey{}, errHttpNotFound
	}

	if len(api.cat) > 0 && !api.cat.Contains(school, department, level) {
		return attendance.SessionKey{}, errHttpNotFound
	}
	return attendance.SessionKey{School: school, Department: department, Level: level}, nil
}

type (
	statusResponse struct {
		Active bool `json:"active"`
	}

	sessionResponse struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}

	submissionResponse struct {
		attendance.Record
		DeviceID string `json:"device_id"`
		Warning  string `json:"warning,omitempty"`
	}

	exportRequest struct {
		CourseCode string `json:"course_code"`
	}

	exportResponse struct {
		Path string `json:"path"`
	}
)

// Handlers

func (api *attendanceApi) status(ctx echo.Context) error {
	key, err := api.bindKey(ctx)
	if err != nil {
		return err
	}
	active, err := api.svc.IsActive(ctx.Request().Context(), key)
	if err != nil {
		return errors.Wrap(err, "checking session")
	}
	return ctx.JSON(http.StatusOK, statusResponse{Active: active})
}

func (api *attendanceApi) submit(ctx echo.Context) error {
	key, err := api.bindKey(ctx)
	if err != nil {
		return err
	}

	var data attendance.NewSubmission
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSubmission")
	}
	// first-time clients get a device id minted for them; they must persist it
	// and present it on every later submission
	if data.DeviceID == "" {
		data.DeviceID = uuid.New().String()
	}

	rec, err := api.svc.Submit(ctx.Request().Context(), key, data)
	if err != nil {
		var perr *attendance.PartialWriteError
		if errors.As(err, &perr) {
			// the record is durable; tell the submitter, flag the gap
			return ctx.JSON(http.StatusAccepted, submissionResponse{
				Record:   perr.Record,
				DeviceID: data.DeviceID,
				Warning:  "attendance recorded but device not marked; operator notified",
			})
		}
		return err
	}
	return ctx.JSON(http.StatusCreated, submissionResponse{Record: rec, DeviceID: data.DeviceID})
}

func (api *attendanceApi) rotate(ctx echo.Context) error {
	key, err := api.bindKey(ctx)
	if err != nil {
		return err
	}
	sess, err := api.svc.Rotate(ctx.Request().Context(), key)
	if err != nil {
		return errors.Wrap(err, "rotating token")
	}
	return ctx.JSON(http.StatusCreated, sessionResponse{
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt(time.UTC),
	})
}

func (api *attendanceApi) close(ctx echo.Context) error {
	key, err := api.bindKey(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Close(ctx.Request().Context(), key); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *attendanceApi) export(ctx echo.Context) error {
	key, err := api.bindKey(ctx)
	if err != nil {
		return err
	}

	var data exportRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to exportRequest")
	}

	path, err := api.svc.Export(ctx.Request().Context(), key, data.CourseCode)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, exportResponse{Path: path})
}
