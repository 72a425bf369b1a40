package shipping

import (
	"net/http"

	"github.com/R3E-Network/commerce_layer/internal/auth"
	"github.com/R3E-Network/commerce_layer/internal/kv"
	"github.com/R3E-Network/commerce_layer/internal/module"
)

// BasePath is where the shipping module is mounted by default.
const BasePath = "/shipping"

type quoteResponse struct {
	Cost             int64   `json:"cost"`
	ChargeableWeight float64 `json:"chargeable_weight"`
}

type listResponse struct {
	Shipments []Shipment `json:"shipments"`
	Count     int        `json:"count"`
}

// Module returns the shipping route module backed by svc.
func Module(svc *Service) module.Module {
	h := &handlers{svc: svc}
	return module.Module{
		Name:        "shipping",
		BasePath:    BasePath,
		Namespace:   Namespace,
		Description: "Shipments, tracking numbers and cost quotes",
		Endpoints: []module.Endpoint{
			{Method: http.MethodPost, Path: "/quote", Access: module.Public, Handler: h.quote},
			{Method: http.MethodPost, Path: "/shipments", Access: module.Authenticated, Handler: h.create},
			{Method: http.MethodGet, Path: "/shipments", Access: module.Authenticated, Handler: h.list},
			{Method: http.MethodGet, Path: "/shipments/{tracking}", Access: module.Public, Handler: h.get},
			{Method: http.MethodPatch, Path: "/shipments/{tracking}", Access: module.Authenticated, Handler: h.update},
			{Method: http.MethodDelete, Path: "/shipments/{tracking}", Access: module.Authenticated, Handler: h.delete},
		},
	}
}

type handlers struct {
	svc *Service
}

func (h *handlers) quote(r *http.Request, _ kv.Store, _ *auth.Identity) (*module.Response, error) {
	var p Parcel
	if err := module.DecodeJSON(r, &p); err != nil {
		return nil, err
	}
	cost, err := h.svc.Quote(p)
	if err != nil {
		return nil, err
	}
	return module.OK(quoteResponse{Cost: cost, ChargeableWeight: ChargeableWeight(p.Weight, p.Dimensions)}), nil
}

func (h *handlers) create(r *http.Request, store kv.Store, id *auth.Identity) (*module.Response, error) {
	var p Parcel
	if err := module.DecodeJSON(r, &p); err != nil {
		return nil, err
	}
	shipment, err := h.svc.Create(r.Context(), store, id.UserID, p)
	if err != nil {
		return nil, err
	}
	return module.Created(shipment), nil
}

func (h *handlers) list(r *http.Request, store kv.Store, id *auth.Identity) (*module.Response, error) {
	shipments, err := h.svc.List(r.Context(), store, id.UserID)
	if err != nil {
		return nil, err
	}
	return module.OK(listResponse{Shipments: shipments, Count: len(shipments)}), nil
}

func (h *handlers) get(r *http.Request, store kv.Store, _ *auth.Identity) (*module.Response, error) {
	shipment, err := h.svc.Get(r.Context(), store, module.Var(r, "tracking"))
	if err != nil {
		return nil, err
	}
	return module.OK(shipment.Tracking()), nil
}

func (h *handlers) update(r *http.Request, store kv.Store, id *auth.Identity) (*module.Response, error) {
	var patch Patch
	if err := module.DecodeJSON(r, &patch); err != nil {
		return nil, err
	}
	shipment, err := h.svc.Update(r.Context(), store, id.UserID, module.Var(r, "tracking"), patch)
	if err != nil {
		return nil, err
	}
	return module.OK(shipment), nil
}

func (h *handlers) delete(r *http.Request, store kv.Store, id *auth.Identity) (*module.Response, error) {
	if err := h.svc.Delete(r.Context(), store, id.UserID, module.Var(r, "tracking")); err != nil {
		return nil, err
	}
	return module.NoContent(), nil
}
