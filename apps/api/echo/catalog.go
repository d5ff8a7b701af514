package echoapi

import (
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"github.com/ulasproject/ulas/core/catalog"
)

type catalogApi struct {
	cat catalog.Catalog
}

func registerCatalogAPI(g *echo.Group, cat catalog.Catalog) {
	api := catalogApi{cat: cat}

	cg := g.Group("/schools")
	cg.GET("", api.schools)
	cg.GET("/:school/departments", api.departments)
	cg.GET("/:school/departments/:department/levels", api.levels)
}

func (api *catalogApi) schools(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.cat.Schools())
}

func (api *catalogApi) departments(ctx echo.Context) error {
	school, err := url.PathUnescape(ctx.Param("school"))
	if err != nil {
		return errHttpNotFound
	}
	depts := api.cat.Departments(school)
	if depts == nil {
		return errHttpNotFound
	}
	return ctx.JSON(http.StatusOK, depts)
}

func (api *catalogApi) levels(ctx echo.Context) error {
	school, err := url.PathUnescape(ctx.Param("school"))
	if err != nil {
		return errHttpNotFound
	}
	department, err := url.PathUnescape(ctx.Param("department"))
	if err != nil {
		return errHttpNotFound
	}
	levels := api.cat.Levels(school, department)
	if levels == nil {
		return errHttpNotFound
	}
	return ctx.JSON(http.StatusOK, levels)
}
