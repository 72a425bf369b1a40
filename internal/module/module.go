// Package module is the convention every route module follows: a name, a
// base path, a key namespace and a list of endpoints. The Registry mounts
// modules on a gorilla/mux router and injects the shared store and guard.
package module

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/commerce_layer/internal/auth"
	"github.com/R3E-Network/commerce_layer/internal/errors"
	"github.com/R3E-Network/commerce_layer/internal/httputil"
	"github.com/R3E-Network/commerce_layer/internal/kv"
	"github.com/R3E-Network/commerce_layer/internal/logging"
)

// Access says whether an endpoint needs an authenticated caller.
type Access int

const (
	Public Access = iota
	Authenticated
)

func (a Access) String() string {
	if a == Authenticated {
		return "authenticated"
	}
	return "public"
}

// HandlerFunc serves one endpoint. store is already scoped to the module's
// namespace; id is nil for anonymous callers of public endpoints.
type HandlerFunc func(r *http.Request, store kv.Store, id *auth.Identity) (*Response, error)

// Endpoint is one route of a module. Path is relative to the module's base
// path and may use mux variables ("/shipments/{tracking}").
type Endpoint struct {
	Method  string
	Path    string
	Access  Access
	Handler HandlerFunc
}

// Module is a mountable group of endpoints sharing one namespace. A module
// without endpoints is still mounted so its address space is reserved.
type Module struct {
	Name        string
	BasePath    string
	Namespace   kv.Namespace
	Description string
	Endpoints   []Endpoint
}

// Response is what a handler returns on success.
type Response struct {
	Status int
	Body   interface{}
}

// OK returns a 200 response.
func OK(body interface{}) *Response {
	return &Response{Status: http.StatusOK, Body: body}
}

// Created returns a 201 response.
func Created(body interface{}) *Response {
	return &Response{Status: http.StatusCreated, Body: body}
}

// NoContent returns a 204 response.
func NoContent() *Response {
	return &Response{Status: http.StatusNoContent}
}

// Var returns the mux path variable name.
func Var(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}

// DecodeJSON decodes the request body into v, turning failures into
// InvalidInput errors.
func DecodeJSON(r *http.Request, v interface{}) error {
	if err := httputil.DecodeJSONBody(r, v); err != nil {
		return errors.InvalidInput(err.Error())
	}
	return nil
}

// Registry collects modules and mounts them with one shared store and guard.
type Registry struct {
	store   kv.Store
	guard   *auth.Guard
	logger  *logging.Logger
	modules []*Module
	chain   []func(http.Handler) http.Handler
}

// NewRegistry creates a registry. guard may be nil, in which case every
// caller is anonymous.
func NewRegistry(store kv.Store, guard *auth.Guard, logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Registry{store: store, guard: guard, logger: logger}
}

// Register validates m and adds it. Names, base paths and namespaces must
// not collide with an already registered module.
func (reg *Registry) Register(m Module) error {
	if m.Name == "" {
		return fmt.Errorf("module: name is required")
	}
	if !strings.HasPrefix(m.BasePath, "/") || len(m.BasePath) < 2 || strings.HasSuffix(m.BasePath, "/") {
		return fmt.Errorf("module %s: base path %q must start with / and not end with /", m.Name, m.BasePath)
	}
	if _, err := kv.NewNamespace(string(m.Namespace)); err != nil || !strings.HasSuffix(string(m.Namespace), ":") {
		return fmt.Errorf("module %s: invalid namespace %q", m.Name, m.Namespace)
	}

	seen := make(map[string]bool, len(m.Endpoints))
	for _, ep := range m.Endpoints {
		if ep.Method == "" || ep.Handler == nil {
			return fmt.Errorf("module %s: endpoint %q needs a method and a handler", m.Name, ep.Path)
		}
		if ep.Path != "" && !strings.HasPrefix(ep.Path, "/") {
			return fmt.Errorf("module %s: endpoint path %q must start with /", m.Name, ep.Path)
		}
		route := strings.ToUpper(ep.Method) + " " + ep.Path
		if seen[route] {
			return fmt.Errorf("module %s: duplicate endpoint %s", m.Name, route)
		}
		seen[route] = true
	}

	for _, other := range reg.modules {
		switch {
		case other.Name == m.Name:
			return fmt.Errorf("module %s: already registered", m.Name)
		case pathsOverlap(other.BasePath, m.BasePath):
			return fmt.Errorf("module %s: base path %s overlaps module %s (%s)", m.Name, m.BasePath, other.Name, other.BasePath)
		case other.Namespace.Overlaps(m.Namespace):
			return fmt.Errorf("module %s: namespace %s overlaps module %s (%s)", m.Name, m.Namespace, other.Name, other.Namespace)
		}
	}

	mod := m
	reg.modules = append(reg.modules, &mod)
	return nil
}

// Use adds middleware that wraps every endpoint after authentication, so
// the caller's identity is already in the request context. Call it before
// Mount; the first middleware added runs first.
func (reg *Registry) Use(mw ...func(http.Handler) http.Handler) {
	reg.chain = append(reg.chain, mw...)
}

func pathsOverlap(a, b string) bool {
	return a == b || strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

// Modules returns the registered modules ordered by base path.
func (reg *Registry) Modules() []Module {
	out := make([]Module, 0, len(reg.modules))
	for _, m := range reg.modules {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BasePath < out[j].BasePath })
	return out
}

// Mount installs every registered module on router.
func (reg *Registry) Mount(router *mux.Router) {
	for _, m := range reg.modules {
		scoped := kv.Scope(reg.store, m.Namespace)

		if len(m.Endpoints) == 0 {
			reserved := reg.reservedHandler(m)
			router.Handle(m.BasePath, reserved)
			router.PathPrefix(m.BasePath + "/").Handler(reserved)
			reg.logger.WithFields(map[string]interface{}{
				"module":    m.Name,
				"base_path": m.BasePath,
			}).Debug("mounted scaffold module")
			continue
		}

		sub := router.PathPrefix(m.BasePath).Subrouter()
		for _, ep := range m.Endpoints {
			sub.Handle(ep.Path, reg.handler(m, ep, scoped)).
				Methods(strings.ToUpper(ep.Method)).
				Name(m.Name + ":" + strings.ToUpper(ep.Method) + " " + ep.Path)
		}
		reg.logger.WithFields(map[string]interface{}{
			"module":    m.Name,
			"base_path": m.BasePath,
			"endpoints": len(m.Endpoints),
		}).Debug("mounted module")
	}
}

func (reg *Registry) reservedHandler(m *Module) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorResponse(w, r, http.StatusNotFound, string(errors.CodeNotFound),
			fmt.Sprintf("module %s has no endpoints", m.Name), nil)
	})
}

func (reg *Registry) handler(m *Module, ep Endpoint, store kv.Store) http.Handler {
	var next http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp, err := ep.Handler(r, store, auth.FromContext(r.Context()))
		if err != nil {
			reg.writeError(w, r, err)
			return
		}
		writeResponse(w, resp)
	})
	for i := len(reg.chain) - 1; i >= 0; i-- {
		next = reg.chain[i](next)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var id *auth.Identity
		if reg.guard != nil {
			var err error
			id, err = reg.guard.Authenticate(ctx, r.Header)
			if err != nil {
				if ep.Access == Authenticated {
					reg.writeError(w, r, err)
					return
				}
				reg.logger.WithContext(ctx).WithError(err).Warn("identity provider failure on public endpoint; continuing anonymously")
				id = nil
			}
		}
		if ep.Access == Authenticated && id == nil {
			reg.writeError(w, r, errors.Unauthorized(""))
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(ctx, id)))
	})
}

func writeResponse(w http.ResponseWriter, resp *Response) {
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	if status == http.StatusNoContent || resp.Body == nil {
		w.WriteHeader(status)
		return
	}
	httputil.WriteJSON(w, status, resp.Body)
}

func (reg *Registry) writeError(w http.ResponseWriter, r *http.Request, err error) {
	WriteError(reg.logger, w, r, err)
}

// WriteError renders err as the standard error envelope. Errors without a
// known kind become 500s and are logged with their cause.
func WriteError(logger *logging.Logger, w http.ResponseWriter, r *http.Request, err error) {
	se := errors.GetServiceError(err)
	if se == nil {
		se = errors.Internal("internal server error", err)
	}
	if se.HTTPStatus >= http.StatusInternalServerError && logger != nil {
		logger.WithContext(r.Context()).WithError(err).WithField("code", se.Code).Error("request failed")
	}
	httputil.WriteErrorResponse(w, r, se.HTTPStatus, string(se.Code), se.Message, se.Details)
}
