package inventory

import (
	"net/http"

	"github.com/R3E-Network/commerce_layer/internal/auth"
	"github.com/R3E-Network/commerce_layer/internal/kv"
	"github.com/R3E-Network/commerce_layer/internal/module"
)

type reserveRequest struct {
	Quantity int64 `json:"quantity"`
}

// Module returns the /inventory route module. Every endpoint requires an
// authenticated caller. GET /items?sku=A&sku=B looks up just those SKUs.
func Module(svc *Service) module.Module {
	return module.Module{
		Name:        "inventory",
		BasePath:    "/inventory",
		Namespace:   Namespace,
		Description: "Stock levels and reservations",
		Endpoints: []module.Endpoint{
			{Method: http.MethodGet, Path: "/items", Access: module.Authenticated, Handler: func(r *http.Request, store kv.Store, _ *auth.Identity) (*module.Response, error) {
				if skus := r.URL.Query()["sku"]; len(skus) > 0 {
					items, missing, err := svc.Lookup(r.Context(), store, skus)
					if err != nil {
						return nil, err
					}
					return module.OK(map[string]interface{}{"items": items, "count": len(items), "missing": missing}), nil
				}
				items, err := svc.List(r.Context(), store)
				if err != nil {
					return nil, err
				}
				return module.OK(map[string]interface{}{"items": items, "count": len(items)}), nil
			}},
			{Method: http.MethodPut, Path: "/items/{sku}", Access: module.Authenticated, Handler: func(r *http.Request, store kv.Store, id *auth.Identity) (*module.Response, error) {
				var in ItemInput
				if err := module.DecodeJSON(r, &in); err != nil {
					return nil, err
				}
				item, created, err := svc.Put(r.Context(), store, id.UserID, module.Var(r, "sku"), in)
				if err != nil {
					return nil, err
				}
				if created {
					return module.Created(item), nil
				}
				return module.OK(item), nil
			}},
			{Method: http.MethodGet, Path: "/items/{sku}", Access: module.Authenticated, Handler: func(r *http.Request, store kv.Store, _ *auth.Identity) (*module.Response, error) {
				item, err := svc.Get(r.Context(), store, module.Var(r, "sku"))
				if err != nil {
					return nil, err
				}
				return module.OK(item), nil
			}},
			{Method: http.MethodPost, Path: "/items/{sku}/reserve", Access: module.Authenticated, Handler: func(r *http.Request, store kv.Store, _ *auth.Identity) (*module.Response, error) {
				var req reserveRequest
				if err := module.DecodeJSON(r, &req); err != nil {
					return nil, err
				}
				res, err := svc.Reserve(r.Context(), store, module.Var(r, "sku"), req.Quantity)
				if err != nil {
					return nil, err
				}
				return module.OK(res), nil
			}},
		},
	}
}
