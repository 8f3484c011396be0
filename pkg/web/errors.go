package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/dmateus/botherd/pkg/botstate"
	"github.com/dmateus/botherd/pkg/persistence"
	"github.com/dmateus/botherd/pkg/workflow"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleCoreError maps orchestration errors onto problem responses. Every
// rejected operation carries a reason; invalid transitions additionally
// carry the legal alternatives.
func handleCoreError(c fiber.Ctx, err error) error {
	var (
		selfDep           *selfDependencyError
		invalidTransition *botstate.InvalidTransitionError
		parseErr          *workflow.ParseError
		definitionErr     *workflow.DefinitionError
		cycleErr          *workflow.CycleError
		unknownStepErr    *workflow.UnknownStepError
		stepStateErr      *workflow.StepStateError
	)

	switch {
	case errors.As(err, &selfDep):
		return badRequest(c, err.Error())

	case errors.As(err, &invalidTransition):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("invalid_transition").
			WithDetail(invalidTransition.Error())

		return c.Status(fiber.StatusConflict).JSON(struct {
			*problems.Problem

			Allowed []string `json:"allowed"`
		}{
			Problem: problem,
			Allowed: statusStrings(invalidTransition.Allowed),
		})

	case errors.As(err, &stepStateErr):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("invalid_step_state").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	case errors.As(err, &parseErr),
		errors.As(err, &definitionErr),
		errors.As(err, &cycleErr),
		errors.As(err, &unknownStepErr):
		problem := problems.NewStatusProblem(422).
			WithInstance(c.Path()).
			WithType("invalid_definition").
			WithDetail(err.Error())

		return c.Status(fiber.StatusUnprocessableEntity).JSON(problem)

	case persistence.IsNotFound(err):
		problem := problems.NewStatusProblem(404).
			WithInstance(c.Path()).
			WithType("not_found").
			WithDetail(err.Error())

		return c.Status(fiber.StatusNotFound).JSON(problem)

	default:
		return internalError(c, err)
	}
}
