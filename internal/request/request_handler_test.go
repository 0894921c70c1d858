package request_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go-leave/internal/request"
	requesterrors "go-leave/internal/request/errors"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redismock/v9"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

type fakeService struct {
	createFn         func(ctx context.Context, actorID string, req request.CreateLeaveRequest) (request.LeaveRequestResponse, error)
	approveFn        func(ctx context.Context, actorID, id string) (request.LeaveRequestResponse, error)
	rejectFn         func(ctx context.Context, actorID, id, reason string) (request.LeaveRequestResponse, error)
	cancelFn         func(ctx context.Context, actorID, id string) (request.LeaveRequestResponse, error)
	getByIDFn        func(ctx context.Context, id string) (request.LeaveRequestResponse, error)
	listByEmployeeFn func(ctx context.Context, employeeID string) ([]request.LeaveRequestResponse, error)
	listAllFn        func(ctx context.Context) ([]request.LeaveRequestResponse, error)
	summaryFn        func(ctx context.Context) (request.SummaryResponse, error)
}

func (f *fakeService) Create(ctx context.Context, actorID string, req request.CreateLeaveRequest) (request.LeaveRequestResponse, error) {
	if f.createFn != nil {
		return f.createFn(ctx, actorID, req)
	}
	return request.LeaveRequestResponse{}, nil
}

func (f *fakeService) Approve(ctx context.Context, actorID, id string) (request.LeaveRequestResponse, error) {
	if f.approveFn != nil {
		return f.approveFn(ctx, actorID, id)
	}
	return request.LeaveRequestResponse{}, nil
}

func (f *fakeService) Reject(ctx context.Context, actorID, id, reason string) (request.LeaveRequestResponse, error) {
	if f.rejectFn != nil {
		return f.rejectFn(ctx, actorID, id, reason)
	}
	return request.LeaveRequestResponse{}, nil
}

func (f *fakeService) Cancel(ctx context.Context, actorID, id string) (request.LeaveRequestResponse, error) {
	if f.cancelFn != nil {
		return f.cancelFn(ctx, actorID, id)
	}
	return request.LeaveRequestResponse{}, nil
}

func (f *fakeService) GetByID(ctx context.Context, id string) (request.LeaveRequestResponse, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return request.LeaveRequestResponse{}, nil
}

func (f *fakeService) ListByEmployee(ctx context.Context, employeeID string) ([]request.LeaveRequestResponse, error) {
	if f.listByEmployeeFn != nil {
		return f.listByEmployeeFn(ctx, employeeID)
	}
	return nil, nil
}

func (f *fakeService) ListAll(ctx context.Context) ([]request.LeaveRequestResponse, error) {
	if f.listAllFn != nil {
		return f.listAllFn(ctx)
	}
	return nil, nil
}

func (f *fakeService) Summary(ctx context.Context) (request.SummaryResponse, error) {
	if f.summaryFn != nil {
		return f.summaryFn(ctx)
	}
	return request.SummaryResponse{}, nil
}

type envelope struct {
	Ok    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func performRequest(t *testing.T, handler gin.HandlerFunc, method, path, actorID string, body any, params ...gin.Param) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	if body != nil {
		assert.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, path, &buf)
	c.Request.Header.Set("Content-Type", "application/json")
	c.Set("employee_id", actorID)
	c.Params = params

	handler(c)

	var env envelope
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w, env
}

func TestRequestHandler_Create(t *testing.T) {
	actorID := uuid.New().String()
	leaveTypeID := uuid.New().String()

	t.Run("success", func(t *testing.T) {
		svc := &fakeService{
			createFn: func(ctx context.Context, aid string, req request.CreateLeaveRequest) (request.LeaveRequestResponse, error) {
				assert.Equal(t, actorID, aid)
				assert.Equal(t, leaveTypeID, req.LeaveTypeID)
				return request.LeaveRequestResponse{
					ID:            uuid.New().String(),
					EmployeeID:    aid,
					Decision:      request.DecisionPending,
					DaysRequested: 4,
				}, nil
			},
		}
		h := request.NewHandler(svc)

		w, env := performRequest(t, h.Create, http.MethodPost, "/leave-requests", actorID, request.CreateLeaveRequest{
			LeaveTypeID: leaveTypeID,
			StartDate:   "2026-06-01",
			EndDate:     "2026-06-05",
			Reason:      "Holiday",
		})

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.True(t, env.Ok)

		var resp request.LeaveRequestResponse
		assert.NoError(t, json.Unmarshal(env.Data, &resp))
		assert.Equal(t, request.DecisionPending, resp.Decision)
		assert.Equal(t, 4, resp.DaysRequested)
	})

	t.Run("negative missing leave type id", func(t *testing.T) {
		called := false
		svc := &fakeService{
			createFn: func(ctx context.Context, aid string, req request.CreateLeaveRequest) (request.LeaveRequestResponse, error) {
				called = true
				return request.LeaveRequestResponse{}, nil
			},
		}
		h := request.NewHandler(svc)

		w, env := performRequest(t, h.Create, http.MethodPost, "/leave-requests", actorID, map[string]string{
			"start_date": "2026-06-01",
			"end_date":   "2026-06-05",
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.False(t, env.Ok)
		assert.False(t, called)
		assert.NotNil(t, env.Error)
	})

	t.Run("negative insufficient balance maps to conflict", func(t *testing.T) {
		svc := &fakeService{
			createFn: func(ctx context.Context, aid string, req request.CreateLeaveRequest) (request.LeaveRequestResponse, error) {
				return request.LeaveRequestResponse{}, requesterrors.ErrInvalidDateRange
			},
		}
		h := request.NewHandler(svc)

		w, env := performRequest(t, h.Create, http.MethodPost, "/leave-requests", actorID, request.CreateLeaveRequest{
			LeaveTypeID: leaveTypeID,
			StartDate:   "2026-06-05",
			EndDate:     "2026-06-01",
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.False(t, env.Ok)
	})
}

func TestRequestHandler_Approve(t *testing.T) {
	actorID := uuid.New().String()
	requestID := uuid.New().String()

	t.Run("success", func(t *testing.T) {
		svc := &fakeService{
			approveFn: func(ctx context.Context, aid, id string) (request.LeaveRequestResponse, error) {
				assert.Equal(t, actorID, aid)
				assert.Equal(t, requestID, id)
				return request.LeaveRequestResponse{ID: id, Decision: request.DecisionApproved}, nil
			},
		}
		h := request.NewHandler(svc)

		w, env := performRequest(t, h.Approve, http.MethodPost, "/leave-requests/"+requestID+"/approve", actorID, nil,
			gin.Param{Key: "id", Value: requestID})

		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, env.Ok)
	})

	t.Run("negative already actioned maps to conflict", func(t *testing.T) {
		svc := &fakeService{
			approveFn: func(ctx context.Context, aid, id string) (request.LeaveRequestResponse, error) {
				return request.LeaveRequestResponse{}, requesterrors.ErrAlreadyActioned
			},
		}
		h := request.NewHandler(svc)

		w, env := performRequest(t, h.Approve, http.MethodPost, "/leave-requests/"+requestID+"/approve", actorID, nil,
			gin.Param{Key: "id", Value: requestID})

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.False(t, env.Ok)
		assert.Equal(t, "INVALID_STATE", env.Error.Code)
	})

	t.Run("negative not found", func(t *testing.T) {
		svc := &fakeService{
			approveFn: func(ctx context.Context, aid, id string) (request.LeaveRequestResponse, error) {
				return request.LeaveRequestResponse{}, requesterrors.ErrRequestNotFound
			},
		}
		h := request.NewHandler(svc)

		w, _ := performRequest(t, h.Approve, http.MethodPost, "/leave-requests/"+requestID+"/approve", actorID, nil,
			gin.Param{Key: "id", Value: requestID})

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestRequestHandler_Reject(t *testing.T) {
	actorID := uuid.New().String()
	requestID := uuid.New().String()

	t.Run("success", func(t *testing.T) {
		svc := &fakeService{
			rejectFn: func(ctx context.Context, aid, id, reason string) (request.LeaveRequestResponse, error) {
				assert.Equal(t, "short staffed", reason)
				return request.LeaveRequestResponse{ID: id, Decision: request.DecisionRejected}, nil
			},
		}
		h := request.NewHandler(svc)

		w, env := performRequest(t, h.Reject, http.MethodPost, "/leave-requests/"+requestID+"/reject", actorID,
			request.RejectLeaveRequest{Reason: "short staffed"},
			gin.Param{Key: "id", Value: requestID})

		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, env.Ok)
	})

	t.Run("negative missing reason", func(t *testing.T) {
		called := false
		svc := &fakeService{
			rejectFn: func(ctx context.Context, aid, id, reason string) (request.LeaveRequestResponse, error) {
				called = true
				return request.LeaveRequestResponse{}, nil
			},
		}
		h := request.NewHandler(svc)

		w, _ := performRequest(t, h.Reject, http.MethodPost, "/leave-requests/"+requestID+"/reject", actorID,
			map[string]string{},
			gin.Param{Key: "id", Value: requestID})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.False(t, called)
	})
}

func TestRequestHandler_Cancel(t *testing.T) {
	actorID := uuid.New().String()
	requestID := uuid.New().String()

	t.Run("negative not owner maps to forbidden", func(t *testing.T) {
		svc := &fakeService{
			cancelFn: func(ctx context.Context, aid, id string) (request.LeaveRequestResponse, error) {
				return request.LeaveRequestResponse{}, requesterrors.ErrNotRequestOwner
			},
		}
		h := request.NewHandler(svc)

		w, env := performRequest(t, h.Cancel, http.MethodPost, "/leave-requests/"+requestID+"/cancel", actorID, nil,
			gin.Param{Key: "id", Value: requestID})

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "FORBIDDEN", env.Error.Code)
	})

	t.Run("negative approved under forbid policy", func(t *testing.T) {
		svc := &fakeService{
			cancelFn: func(ctx context.Context, aid, id string) (request.LeaveRequestResponse, error) {
				return request.LeaveRequestResponse{}, requesterrors.ErrCancelApprovedForbidden
			},
		}
		h := request.NewHandler(svc)

		w, _ := performRequest(t, h.Cancel, http.MethodPost, "/leave-requests/"+requestID+"/cancel", actorID, nil,
			gin.Param{Key: "id", Value: requestID})

		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

// The idempotency middleware takes the lock and stashes the keys; the
// handler completes the protocol by caching the successful response and
// releasing the lock so a retry replays instead of blocking on 409.
func TestRequestHandler_IdempotencyCompletion(t *testing.T) {
	actorID := uuid.New().String()

	t.Run("success caches response and releases lock", func(t *testing.T) {
		gin.SetMode(gin.TestMode)

		resp := request.LeaveRequestResponse{
			ID:         uuid.New().String(),
			EmployeeID: actorID,
			Decision:   request.DecisionPending,
		}
		svc := &fakeService{
			createFn: func(ctx context.Context, aid string, req request.CreateLeaveRequest) (request.LeaveRequestResponse, error) {
				return resp, nil
			},
		}

		rdb, redisMock := redismock.NewClientMock()
		h := request.NewHandlerWithRedis(svc, rdb)

		payload, err := json.Marshal(resp)
		assert.NoError(t, err)
		redisMock.ExpectSet("idemp:key", payload, 24*time.Hour).SetVal("OK")
		redisMock.ExpectDel("idemp:key:lock").SetVal(1)

		var buf bytes.Buffer
		assert.NoError(t, json.NewEncoder(&buf).Encode(request.CreateLeaveRequest{
			LeaveTypeID: uuid.New().String(),
			StartDate:   "2026-06-01",
			EndDate:     "2026-06-05",
		}))

		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodPost, "/leave-requests", &buf)
		c.Request.Header.Set("Content-Type", "application/json")
		c.Set("employee_id", actorID)
		c.Set("idempotency_cache_key", "idemp:key")
		c.Set("idempotency_lock_key", "idemp:key:lock")

		h.Create(c)

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("failure releases lock without caching", func(t *testing.T) {
		gin.SetMode(gin.TestMode)

		svc := &fakeService{
			approveFn: func(ctx context.Context, aid, id string) (request.LeaveRequestResponse, error) {
				return request.LeaveRequestResponse{}, requesterrors.ErrAlreadyActioned
			},
		}

		rdb, redisMock := redismock.NewClientMock()
		h := request.NewHandlerWithRedis(svc, rdb)

		redisMock.ExpectDel("idemp:key:lock").SetVal(1)

		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodPost, "/leave-requests/x/approve", nil)
		c.Set("employee_id", actorID)
		c.Set("idempotency_cache_key", "idemp:key")
		c.Set("idempotency_lock_key", "idemp:key:lock")
		c.Params = []gin.Param{{Key: "id", Value: uuid.New().String()}}

		h.Approve(c)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})
}

func TestRequestHandler_Listings(t *testing.T) {
	actorID := uuid.New().String()

	t.Run("list mine uses acting employee", func(t *testing.T) {
		svc := &fakeService{
			listByEmployeeFn: func(ctx context.Context, employeeID string) ([]request.LeaveRequestResponse, error) {
				assert.Equal(t, actorID, employeeID)
				return []request.LeaveRequestResponse{{ID: uuid.New().String()}}, nil
			},
		}
		h := request.NewHandler(svc)

		w, env := performRequest(t, h.ListMine, http.MethodGet, "/leave-requests/me", actorID, nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, env.Ok)
	})

	t.Run("summary", func(t *testing.T) {
		svc := &fakeService{
			summaryFn: func(ctx context.Context) (request.SummaryResponse, error) {
				return request.SummaryResponse{Total: 4, Approved: 2, Pending: 1, Rejected: 1}, nil
			},
		}
		h := request.NewHandler(svc)

		w, env := performRequest(t, h.Summary, http.MethodGet, "/leave-requests/summary", actorID, nil)

		assert.Equal(t, http.StatusOK, w.Code)

		var resp request.SummaryResponse
		assert.NoError(t, json.Unmarshal(env.Data, &resp))
		assert.Equal(t, int64(4), resp.Total)
	})
}
