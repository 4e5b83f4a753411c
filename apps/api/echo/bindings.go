package echoapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/querydesc/core/querydesc"
)

var (
	orderingParam = "ordering"
	fieldParam    = "field"
	versionParam  = "version"
	timeoutParam  = "timeout"

	defaultWatchTimeout = 30 * time.Second
	maxWatchTimeout     = 2 * time.Minute
)

type (
	Ordering struct {
		Orders []querydesc.Order
	}

	PageRequest struct {
		Offset int `json:"offset" validate:"gte=0"`
		Limit  int `json:"limit" validate:"gte=0"`
	}

	SearchRequest struct {
		Endpoint string `json:"endpoint" validate:"required,notblank"`
	}

	PresetsResponse struct {
		Presets []string `json:"presets"`
	}

	FieldResponse struct {
		Datasource string      `json:"datasource"`
		Field      string      `json:"field"`
		Value      interface{} `json:"value"`
	}
)

// Bind reads `?ordering=name,-createdAt`: a leading "-" sorts descending.
func (ord *Ordering) Bind(ctx echo.Context) {
	val := ctx.QueryParam(orderingParam)
	if val == "" {
		return
	}

	for _, field := range strings.Split(val, ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		if field == "" {
			continue
		}
		dir := querydesc.Asc
		if descending {
			dir = querydesc.Desc
		}
		ord.Orders = append(ord.Orders, querydesc.Order{Field: field, Direction: dir})
	}
}

// ifMatchVersion reads the expected session version from the If-Match header; 0 when absent.
func ifMatchVersion(ctx echo.Context) (int, error) {
	val := strings.TrimSpace(ctx.Request().Header.Get("If-Match"))
	if val == "" || val == "*" {
		return 0, nil
	}
	val = strings.Trim(strings.TrimPrefix(val, "W/"), `"`)
	version, err := strconv.Atoi(val)
	if err != nil || version <= 0 {
		return 0, errBadVersion
	}
	return version, nil
}

func setETag(ctx echo.Context, sess querydesc.Session) {
	ctx.Response().Header().Set("ETag", strconv.Quote(strconv.Itoa(sess.Version)))
}

func watchParams(ctx echo.Context) (version int, timeout time.Duration, err error) {
	if v := ctx.QueryParam(versionParam); v != "" {
		if version, err = strconv.Atoi(v); err != nil || version < 0 {
			return 0, 0, echo.NewHTTPError(http.StatusBadRequest, "version must be a positive number")
		}
	}
	timeout = defaultWatchTimeout
	if t := ctx.QueryParam(timeoutParam); t != "" {
		if timeout, err = time.ParseDuration(t); err != nil || timeout <= 0 {
			return 0, 0, echo.NewHTTPError(http.StatusBadRequest, "timeout must be a duration, eg. 30s")
		}
	}
	if timeout > maxWatchTimeout {
		timeout = maxWatchTimeout
	}
	return version, timeout, nil
}
