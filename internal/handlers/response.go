package handlers

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/nimasrn/credit-topup/internal/services"
	"github.com/nimasrn/credit-topup/pkg/logger"
	xhttp "github.com/nimasrn/credit-topup/pkg/http"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// envelope is the uniform body of every JSON response.
type envelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type listResponse struct {
	Items any   `json:"items"`
	Total int64 `json:"total"`
}

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	body := ctx.PostBody()
	return json.Unmarshal(body, dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func writeSuccess(ctx *xhttp.RequestCtx, message string, data any) {
	writeJSON(ctx, xhttp.StatusOK, envelope{Status: statusSuccess, Message: message, Data: data})
}

func writeError(ctx *xhttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, envelope{Status: statusError, Message: msg})
}

// writeServiceError maps err to its HTTP status. Anything that is not a
// service error is reported as a generic 500.
func writeServiceError(ctx *xhttp.RequestCtx, err error) {
	var se *services.Error
	if !errors.As(err, &se) {
		se = services.NewServiceError(services.KindInternal, err)
	}

	status := se.Kind.HTTPStatus()
	if status >= xhttp.StatusInternalServerError {
		logger.Error("Request failed",
			"method", string(ctx.Method()), "path", string(ctx.Path()),
			"request_id", xhttp.RequestID(ctx), "kind", se.Kind.String(), "error", err)
	}
	writeError(ctx, status, se.Message())
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

func queryInt(ctx *xhttp.RequestCtx, key string) int {
	n, err := strconv.Atoi(query(ctx, key))
	if err != nil {
		return 0
	}
	return n
}

func pathParam(ctx *xhttp.RequestCtx, name string) string {
	v, _ := ctx.UserValue(name).(string)
	return v
}
