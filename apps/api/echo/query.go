package echoapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/querydesc/core"
	"github.com/trezcool/querydesc/core/querydesc"
)

type queryApi struct {
	svc      *querydesc.Service
	validate *validator.Validate
}

func registerQueryAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *querydesc.Service, validate *validator.Validate) {
	api := queryApi{
		svc:      svc,
		validate: validate,
	}

	qg := g.Group("/queries", jwt, noStoreMiddleware)
	qg.GET("/presets", api.queryPresets)
	qg.POST("", api.create)
	qg.GET("", api.query)

	// detail endpoints
	dg := qg.Group("/:id")
	dg.GET("", api.retrieve)
	dg.DELETE("", api.destroy)
	dg.GET("/nodes/:datasource", api.retrieveNode)
	dg.PATCH("/nodes/:datasource", api.mergeNode)
	dg.PUT("/page", api.paginate)
	dg.GET("/watch", api.watch)
	dg.POST("/search", api.search)

	// admin endpoints
	ag := g.Group("/admin", jwt, roleMiddleware(RoleAdmin))
	ag.GET("/owners/:owner/queries", api.queryByOwner)
}

// Handlers

func (api *queryApi) queryPresets(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, PresetsResponse{Presets: querydesc.Presets()})
}

func (api *queryApi) create(ctx echo.Context) error {
	owner, err := getContextOwner(ctx)
	if err != nil {
		return err
	}
	var data querydesc.NewSession
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSession")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	sess, err := api.svc.Initialize(ctx.Request().Context(), owner, data)
	if err != nil {
		return errors.Wrap(err, "initializing query")
	}
	setETag(ctx, sess)
	return ctx.JSON(http.StatusCreated, sess)
}

func (api *queryApi) query(ctx echo.Context) error {
	owner, err := getContextOwner(ctx)
	if err != nil {
		return err
	}
	sessions, err := api.svc.Query(ctx.Request().Context(), owner)
	if err != nil {
		return errors.Wrap(err, "querying queries")
	}
	return ctx.JSON(http.StatusOK, sessions)
}

func (api *queryApi) queryByOwner(ctx echo.Context) error {
	sessions, err := api.svc.Query(ctx.Request().Context(), ctx.Param("owner"))
	if err != nil {
		return errors.Wrap(err, "querying queries")
	}
	return ctx.JSON(http.StatusOK, sessions)
}

func (api *queryApi) retrieve(ctx echo.Context) error {
	owner, err := getContextOwner(ctx)
	if err != nil {
		return err
	}
	sess, err := api.svc.Get(ctx.Request().Context(), owner, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting query")
	}
	setETag(ctx, sess)
	return ctx.JSON(http.StatusOK, sess)
}

func (api *queryApi) destroy(ctx echo.Context) error {
	owner, err := getContextOwner(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Teardown(ctx.Request().Context(), owner, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "tearing down query")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// retrieveNode returns the node, or one of its fields with `?field=`.
func (api *queryApi) retrieveNode(ctx echo.Context) error {
	owner, err := getContextOwner(ctx)
	if err != nil {
		return err
	}
	reqCtx, id, datasource := ctx.Request().Context(), ctx.Param("id"), ctx.Param("datasource")

	field := strings.TrimSpace(ctx.QueryParam(fieldParam))
	if field == "" {
		node, err := api.svc.Node(reqCtx, owner, id, datasource)
		if err != nil {
			return errors.Wrap(err, "getting node")
		}
		return ctx.JSON(http.StatusOK, node)
	}

	val, ok, err := api.svc.Field(reqCtx, owner, id, datasource, field)
	if err != nil {
		return errors.Wrap(err, "getting node field")
	}
	if !ok {
		return errFieldNotSet
	}
	return ctx.JSON(http.StatusOK, FieldResponse{Datasource: datasource, Field: field, Value: val})
}

// mergeNode merges the body into the node. `?ordering=a,-b` replaces the node order.
func (api *queryApi) mergeNode(ctx echo.Context) error {
	owner, err := getContextOwner(ctx)
	if err != nil {
		return err
	}
	version, err := ifMatchVersion(ctx)
	if err != nil {
		return err
	}

	var data querydesc.NodeUpdate
	if ctx.Request().ContentLength != 0 {
		if err = ctx.Bind(&data); err != nil {
			return errors.Wrap(err, "binding to NodeUpdate")
		}
	}
	var ord Ordering
	ord.Bind(ctx)
	if ord.Orders != nil {
		data.Order = ord.Orders
	}
	if data.IsEmpty() {
		return core.NewValidationError(nil, errEmptyNodeUpdates)
	}

	sess, err := api.svc.Merge(ctx.Request().Context(), owner, ctx.Param("id"), ctx.Param("datasource"), data, version)
	if err != nil {
		return errors.Wrap(err, "merging node")
	}
	setETag(ctx, sess)
	return ctx.JSON(http.StatusOK, sess)
}

func (api *queryApi) paginate(ctx echo.Context) error {
	owner, err := getContextOwner(ctx)
	if err != nil {
		return err
	}
	version, err := ifMatchVersion(ctx)
	if err != nil {
		return err
	}
	var data PageRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PageRequest")
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}

	sess, err := api.svc.Paginate(ctx.Request().Context(), owner, ctx.Param("id"), data.Offset, data.Limit, version)
	if err != nil {
		return errors.Wrap(err, "paginating query")
	}
	setETag(ctx, sess)
	return ctx.JSON(http.StatusOK, sess)
}

// watch long-polls until the query version is greater than `?version=`; 304 on timeout.
func (api *queryApi) watch(ctx echo.Context) error {
	owner, err := getContextOwner(ctx)
	if err != nil {
		return err
	}
	version, timeout, err := watchParams(ctx)
	if err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx.Request().Context(), timeout)
	defer cancel()

	sess, err := api.svc.Watch(reqCtx, owner, ctx.Param("id"), version)
	switch errors.Cause(err) {
	case nil:
	case context.DeadlineExceeded, context.Canceled:
		setETag(ctx, sess)
		return ctx.NoContent(http.StatusNotModified)
	default:
		return errors.Wrap(err, "watching query")
	}
	setETag(ctx, sess)
	return ctx.JSON(http.StatusOK, sess)
}

// search runs the query against a backend endpoint, forwarding the caller's token.
func (api *queryApi) search(ctx echo.Context) error {
	owner, err := getContextOwner(ctx)
	if err != nil {
		return err
	}
	var data SearchRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SearchRequest")
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}

	bearer := strings.TrimPrefix(ctx.Request().Header.Get(echo.HeaderAuthorization), "Bearer ")
	res, err := api.svc.Search(ctx.Request().Context(), owner, ctx.Param("id"), core.CleanString(data.Endpoint), bearer)
	if err != nil {
		return errors.Wrap(err, "searching")
	}
	return ctx.JSON(http.StatusOK, res)
}
