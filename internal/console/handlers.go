package console

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	analyticssdk "github.com/law1om/analytics-platform/sdk/go"

	"github.com/law1om/analytics-platform/internal/domain"
	"github.com/law1om/analytics-platform/internal/httpapi"
	"github.com/law1om/analytics-platform/internal/pipeline"
)

type viewOutput struct {
	Body pipeline.Result `json:"body"`
}

// MutationResponse carries the written entity and the refreshed screen. When the
// write succeeded but the refresh did not, View is nil and RefreshError says why.
type MutationResponse struct {
	Goal         *domain.Goal       `json:"goal,omitempty"`
	Task         *domain.Task       `json:"task,omitempty"`
	View         *pipeline.Result   `json:"view,omitempty"`
	RefreshError *httpapi.ErrorBody `json:"refresh_error,omitempty"`
}

type mutationOutput struct {
	Body MutationResponse `json:"body"`
}

var viewErrors = []int{
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusBadGateway,
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func (c *Console) render(ctx context.Context, kind pipeline.ViewKind, divisionID int64, block string) (*viewOutput, error) {
	cl, authErr := callerFromContext(ctx)
	if authErr != nil {
		return nil, authErr
	}
	req, err := request(cl, kind, divisionID, block)
	if err != nil {
		return nil, handleError(err)
	}
	res, err := c.session(cl, req).Refresh(ctx)
	if err != nil {
		return nil, handleError(err)
	}
	return &viewOutput{Body: res}, nil
}

func (c *Console) registerViews(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "dashboard",
		Method:      http.MethodGet,
		Path:        "/dashboard",
		Summary:     "Bank-wide dashboard, scoped to the caller",
		Errors:      viewErrors,
	}, func(ctx context.Context, _ *struct{}) (*viewOutput, error) {
		return c.render(ctx, pipeline.ViewDashboard, 0, "")
	})

	huma.Register(api, huma.Operation{
		OperationID: "my-division",
		Method:      http.MethodGet,
		Path:        "/my-division",
		Summary:     "The caller's own division",
		Errors:      viewErrors,
	}, func(ctx context.Context, _ *struct{}) (*viewOutput, error) {
		return c.render(ctx, pipeline.ViewMyDivision, 0, "")
	})

	huma.Register(api, huma.Operation{
		OperationID: "division",
		Method:      http.MethodGet,
		Path:        "/divisions/{id}",
		Summary:     "Division detail",
		Errors:      viewErrors,
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*viewOutput, error) {
		return c.render(ctx, pipeline.ViewDivision, input.ID, "")
	})

	huma.Register(api, huma.Operation{
		OperationID: "block",
		Method:      http.MethodGet,
		Path:        "/divisions/{id}/blocks/{block}",
		Summary:     "Block detail within a division",
		Errors:      viewErrors,
	}, func(ctx context.Context, input *struct {
		ID    int64  `path:"id"`
		Block string `path:"block"`
	}) (*viewOutput, error) {
		return c.render(ctx, pipeline.ViewBlock, input.ID, input.Block)
	})
}

// Screen selects which view a mutation refreshes.
type Screen struct {
	View       string `query:"view" enum:"dashboard,my_division,division,block" doc:"Screen to refresh; defaults to the caller's home screen"`
	DivisionID int64  `query:"division_id"`
	Block      string `query:"block"`
}

// mutate runs write through a session bound to the chosen screen.
func (c *Console) mutate(ctx context.Context, sc Screen, write func(*pipeline.Session) (MutationResponse, pipeline.Result, error)) (*mutationOutput, error) {
	cl, authErr := callerFromContext(ctx)
	if authErr != nil {
		return nil, authErr
	}
	kind := pipeline.ViewKind(sc.View)
	if kind == "" {
		kind = defaultView(cl)
	}
	req, err := request(cl, kind, sc.DivisionID, sc.Block)
	if err != nil {
		return nil, handleError(err)
	}
	out, res, err := write(c.session(cl, req))
	var re *pipeline.RefreshError
	switch {
	case errors.As(err, &re):
		c.logger.Warn("refresh after write failed", zap.String("op", re.Op), zap.Error(re.Err))
		if e, ok := handleError(re.Err).(*httpapi.Error); ok {
			out.RefreshError = &e.Body
		}
		return &mutationOutput{Body: out}, nil
	case err != nil:
		return nil, handleError(err)
	}
	out.View = &res
	return &mutationOutput{Body: out}, nil
}

func (c *Console) registerMutations(api huma.API) {
	writeErrors := []int{
		http.StatusBadRequest,
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusConflict,
		http.StatusBadGateway,
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-goal",
		Method:        http.MethodPost,
		Path:          "/goals",
		Summary:       "Create a goal and refresh the screen",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Screen
		Body analyticssdk.GoalInput `json:"body"`
	}) (*mutationOutput, error) {
		return c.mutate(ctx, input.Screen, func(s *pipeline.Session) (MutationResponse, pipeline.Result, error) {
			g, res, err := s.CreateGoal(ctx, input.Body)
			return MutationResponse{Goal: &g}, res, err
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-goal",
		Method:      http.MethodPut,
		Path:        "/goals/{id}",
		Summary:     "Update a goal and refresh the screen",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		Screen
		ID   int64                  `path:"id"`
		Body analyticssdk.GoalInput `json:"body"`
	}) (*mutationOutput, error) {
		return c.mutate(ctx, input.Screen, func(s *pipeline.Session) (MutationResponse, pipeline.Result, error) {
			g, res, err := s.UpdateGoal(ctx, input.ID, input.Body)
			return MutationResponse{Goal: &g}, res, err
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-goal",
		Method:      http.MethodDelete,
		Path:        "/goals/{id}",
		Summary:     "Delete a goal and refresh the screen",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		Screen
		ID int64 `path:"id"`
	}) (*mutationOutput, error) {
		return c.mutate(ctx, input.Screen, func(s *pipeline.Session) (MutationResponse, pipeline.Result, error) {
			res, err := s.DeleteGoal(ctx, input.ID)
			return MutationResponse{}, res, err
		})
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create a task and refresh the screen",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Screen
		Body analyticssdk.TaskInput `json:"body"`
	}) (*mutationOutput, error) {
		return c.mutate(ctx, input.Screen, func(s *pipeline.Session) (MutationResponse, pipeline.Result, error) {
			t, res, err := s.CreateTask(ctx, input.Body)
			return MutationResponse{Task: &t}, res, err
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPut,
		Path:        "/tasks/{id}",
		Summary:     "Update a task and refresh the screen",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		Screen
		ID   int64                  `path:"id"`
		Body analyticssdk.TaskInput `json:"body"`
	}) (*mutationOutput, error) {
		return c.mutate(ctx, input.Screen, func(s *pipeline.Session) (MutationResponse, pipeline.Result, error) {
			t, res, err := s.UpdateTask(ctx, input.ID, input.Body)
			return MutationResponse{Task: &t}, res, err
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/tasks/{id}",
		Summary:     "Delete a task and refresh the screen",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		Screen
		ID int64 `path:"id"`
	}) (*mutationOutput, error) {
		return c.mutate(ctx, input.Screen, func(s *pipeline.Session) (MutationResponse, pipeline.Result, error) {
			res, err := s.DeleteTask(ctx, input.ID)
			return MutationResponse{}, res, err
		})
	})
}
