package xhttp

import (
	"fmt"

	"github.com/fasthttp/router"
	"github.com/nimasrn/credit-topup/pkg/logger"
)

type Router = router.Router

// errorBody matches the envelope the API handlers write, so clients see one
// error shape whether the router or a handler rejected the request.
const errorBody = `{"status":"error","message":%q}`

func NewRouter() *Router {
	return router.New()
}

// CreateDefaultRouter returns a router that answers unknown paths and methods
// with JSON errors and turns handler panics into a 500.
func CreateDefaultRouter() *Router {
	r := NewRouter()
	r.RedirectTrailingSlash = true
	r.RedirectFixedPath = true
	r.SaveMatchedRoutePath = true
	r.HandleOPTIONS = false
	r.HandleMethodNotAllowed = true
	r.NotFound = NotFoundHandler
	r.MethodNotAllowed = MethodNotAllowedHandler
	r.PanicHandler = PanicHandler
	return r
}

func NotFoundHandler(ctx *RequestCtx) {
	writeRouterError(ctx, StatusNotFound)
}

func MethodNotAllowedHandler(ctx *RequestCtx) {
	writeRouterError(ctx, StatusMethodNotAllowed)
}

func PanicHandler(ctx *RequestCtx, rcv interface{}) {
	logger.Error("[xhttp] handler panicked", "panic", rcv, "method", string(ctx.Method()),
		"path", string(ctx.Path()), "request_id", RequestID(ctx))
	writeRouterError(ctx, StatusInternalServerError)
}

func writeRouterError(ctx *RequestCtx, status int) {
	ctx.Response.ResetBody()
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json; charset=utf-8")
	ctx.SetBodyString(fmt.Sprintf(errorBody, StatusText(status)))
}
