package promotions

import (
	"net/http"

	"github.com/R3E-Network/commerce_layer/internal/auth"
	"github.com/R3E-Network/commerce_layer/internal/kv"
	"github.com/R3E-Network/commerce_layer/internal/module"
)

// Module returns the /promotions route module.
func Module(svc *Service) module.Module {
	return module.Module{
		Name:        "promotions",
		BasePath:    "/promotions",
		Namespace:   Namespace,
		Description: "Prize codes and one-per-user redemption",
		Endpoints: []module.Endpoint{
			{Method: http.MethodPost, Path: "/codes", Access: module.Authenticated, Handler: func(r *http.Request, store kv.Store, id *auth.Identity) (*module.Response, error) {
				var req NewCode
				if err := module.DecodeJSON(r, &req); err != nil {
					return nil, err
				}
				code, err := svc.Create(r.Context(), store, id.UserID, req)
				if err != nil {
					return nil, err
				}
				return module.Created(code), nil
			}},
			{Method: http.MethodGet, Path: "/codes/{code}", Access: module.Public, Handler: func(r *http.Request, store kv.Store, _ *auth.Identity) (*module.Response, error) {
				status, err := svc.Get(r.Context(), store, module.Var(r, "code"))
				if err != nil {
					return nil, err
				}
				return module.OK(status), nil
			}},
			{Method: http.MethodPost, Path: "/codes/{code}/redeem", Access: module.Authenticated, Handler: func(r *http.Request, store kv.Store, id *auth.Identity) (*module.Response, error) {
				redemption, err := svc.Redeem(r.Context(), store, id.UserID, module.Var(r, "code"))
				if err != nil {
					return nil, err
				}
				return module.OK(redemption), nil
			}},
		},
	}
}
