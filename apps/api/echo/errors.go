package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/querydesc/core"
	"github.com/trezcool/querydesc/core/querydesc"
	searchsvc "github.com/trezcool/querydesc/services/search"
)

var (
	errUnauthorized     = echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	errHttpForbidden    = echo.NewHTTPError(http.StatusForbidden, "permission denied")
	errHttpNotFound     = echo.NewHTTPError(http.StatusNotFound, "not found")
	errNodeNotFound     = echo.NewHTTPError(http.StatusNotFound, "datasource not found")
	errFieldNotSet      = echo.NewHTTPError(http.StatusNotFound, "field not set")
	errVersionConflict  = echo.NewHTTPError(http.StatusConflict, "query has been modified, refresh it and retry")
	errBadVersion       = echo.NewHTTPError(http.StatusBadRequest, "If-Match must be a query version")
	errUnknownEndpoint  = core.FieldError{Field: "endpoint", Error: "unknown search endpoint"}
	errEmptyNodeUpdates = core.FieldError{Field: "updates", Error: "nothing to update"}
)

// domainHTTPError maps service errors to their HTTP error, if any.
func domainHTTPError(err error) error {
	switch cause := errors.Cause(err); cause {
	case querydesc.ErrNotFound:
		return errHttpNotFound
	case querydesc.ErrNodeNotFound:
		return errNodeNotFound
	case querydesc.ErrVersionConflict:
		return errVersionConflict
	case searchsvc.ErrUnknownEndpoint:
		return core.NewValidationError(nil, errUnknownEndpoint)
	default:
		if _, ok := cause.(*searchsvc.BackendError); ok {
			return echo.NewHTTPError(http.StatusBadGateway, "search backend failed").SetInternal(err)
		}
		return nil
	}
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		if herr := domainHTTPError(err); herr != nil {
			err = herr
		}

		switch origErr := errors.Cause(err).(type) {
		case *echo.HTTPError:
			if origErr == middleware.ErrJWTMissing {
				code = http.StatusUnauthorized
				message = origErr.Message
				break
			}
			if origErr.Internal != nil {
				if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
					origErr = herr
				}
			}
			code = origErr.Code
			message = origErr.Message
			if code >= http.StatusInternalServerError && origErr.Internal != nil {
				logger.Error(http.StatusText(code), origErr.Internal, getContextPerson(ctx))
			}
		case validator.ValidationErrors:
			code = http.StatusBadRequest
			message = core.TranslateErrors(origErr, translator)
		case *core.ValidationError:
			if origErr.Fields != nil {
				fldErrs := make(map[string]string, len(origErr.Fields))
				for _, fErr := range origErr.Fields {
					fldErrs[fErr.Field] = fErr.Error
				}
				message = fldErrs
			} else {
				message = origErr.Error()
			}
			code = http.StatusBadRequest
		default: // any other error is a server error
			code = http.StatusInternalServerError
			msg := http.StatusText(http.StatusInternalServerError)
			message = msg

			logger.Error(msg, errors.Wrap(err, msg), getContextPerson(ctx))

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		if ctx.Echo().Debug && code >= http.StatusInternalServerError {
			message = err.Error()
		}
		if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}
