package web

import (
	"errors"

	"github.com/dukex/amhsctl/pkg/form"
	"github.com/dukex/amhsctl/pkg/lock"
	"github.com/dukex/amhsctl/pkg/pathcodec"
	"github.com/dukex/amhsctl/pkg/pipeline"
	"github.com/dukex/amhsctl/pkg/remote"
	"github.com/dukex/amhsctl/pkg/store"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func problem(c fiber.Ctx, status int, problemType, detail string) error {
	p := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(status).JSON(p)
}

func badRequest(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusBadRequest, "validation_error", detail)
}

func internalError(c fiber.Ctx, err error) error {
	p := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(p)
}

// handleError maps codec, store, remote and pipeline errors to problem documents.
func handleError(c fiber.Ctx, err error) error {
	var (
		malformed *pathcodec.MalformedLeafError
		callErr   *remote.RemoteCallError
	)

	switch {
	case errors.As(err, &malformed):
		return problem(c, fiber.StatusBadRequest, "malformed_leaf", malformed.Error())

	case errors.Is(err, pathcodec.ErrPathConflict):
		return problem(c, fiber.StatusBadRequest, "path_conflict", err.Error())

	case errors.Is(err, pathcodec.ErrEmptyPath), errors.Is(err, form.ErrNestedField), errors.Is(err, errFieldsNotObject):
		return badRequest(c, err.Error())

	case errors.Is(err, store.ErrInvalidSample):
		return badRequest(c, err.Error())

	case store.IsSchemaError(err):
		return problem(c, fiber.StatusUnprocessableEntity, "schema_violation", err.Error())

	case errors.Is(err, store.ErrNoData):
		return problem(c, fiber.StatusNotFound, "seed_not_found", err.Error())

	case errors.Is(err, pipeline.ErrRunInProgress), errors.Is(err, lock.ErrLocked):
		return problem(c, fiber.StatusConflict, "run_in_progress", err.Error())

	case remote.IsBusinessError(err):
		return problem(c, fiber.StatusBadGateway, "remote_failure", err.Error())

	case errors.As(err, &callErr):
		if callErr.IsTimeout() {
			return problem(c, fiber.StatusGatewayTimeout, "remote_timeout", err.Error())
		}

		return problem(c, fiber.StatusBadGateway, "remote_unavailable", err.Error())

	default:
		return internalError(c, err)
	}
}
