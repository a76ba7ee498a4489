package handlers

import (
	"github.com/toricodesthings/ghostgate/internal/admission"
	"github.com/toricodesthings/ghostgate/internal/backend"
	"github.com/toricodesthings/ghostgate/internal/config"
	"github.com/toricodesthings/ghostgate/internal/identity"
	"github.com/toricodesthings/ghostgate/internal/payments"
	"github.com/toricodesthings/ghostgate/internal/pdftoolchain"
	"github.com/toricodesthings/ghostgate/internal/plans"
)

// State is the gateway's shared application state, grounded on
// original_source/state.rs's AppState. Built once at startup and
// threaded into every handler.
type State struct {
	Config    config.Config
	Backend   *backend.Client
	Verifier  *identity.Verifier
	Directory *identity.DirectoryClient
	Payments  *payments.Client
	PriceMap  plans.PriceMap
	Adapter   pdftoolchain.Adapter
	Gate      *admission.Gate
}
