// Package scaffold declares the modules that are mounted and namespaced but
// do not serve any endpoints yet.
package scaffold

import (
	"github.com/R3E-Network/commerce_layer/internal/kv"
	"github.com/R3E-Network/commerce_layer/internal/module"
)

var modules = []module.Module{
	{Name: "billing", BasePath: "/billing", Namespace: kv.MustNamespace("billing"), Description: "Invoices and payments"},
	{Name: "crm", BasePath: "/crm", Namespace: kv.MustNamespace("crm"), Description: "Customer records"},
	{Name: "marketing", BasePath: "/marketing", Namespace: kv.MustNamespace("marketing"), Description: "Campaigns"},
	{Name: "social-migration", BasePath: "/social-migration", Namespace: kv.MustNamespace("social"), Description: "Social account imports"},
	{Name: "analytics", BasePath: "/analytics", Namespace: kv.MustNamespace("analytics"), Description: "Reporting"},
	{Name: "support", BasePath: "/support", Namespace: kv.MustNamespace("support"), Description: "Support tickets"},
}

// Modules returns a fresh copy of every scaffold module.
func Modules() []module.Module {
	out := make([]module.Module, len(modules))
	copy(out, modules)
	return out
}
