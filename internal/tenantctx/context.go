// Package tenantctx implements the tenant and governance boundary (C1):
// tenant/actor/governance context plumbing, capability profiles, and
// module-path scoping. It replaces the source's module-level mutable
// tenant slug with explicit per-request values threaded by the caller —
// there is no process-global tenant state anywhere in this package.
package tenantctx

import (
	"github.com/c360studio/changeops/internal/errs"
)

// Source identifies where a tenant context came from.
type Source string

const (
	// SourceHeader means the tenant was resolved from an inbound request
	// header (the external HTTP transport's concern; the core only sees
	// the resolved value).
	SourceHeader Source = "header"
	// SourceSystem means the tenant context was constructed by an internal
	// caller (the schedule poller, the dispatcher recovering on startup).
	SourceSystem Source = "system"
)

// Tenant is the immutable tenant identity for the duration of one
// operation. It is never mutated after construction.
type Tenant struct {
	ID     string
	Source Source
}

// ActorType distinguishes who is driving an operation.
type ActorType string

const (
	ActorUser   ActorType = "user"
	ActorSystem ActorType = "system"
	ActorAgent  ActorType = "agent"
)

// Actor identifies the caller driving an operation.
type Actor struct {
	ID   string
	Type ActorType
}

// Governance carries the change-control reference required for writes to
// governed entities (overrides, workflow definitions, package installs).
type Governance struct {
	ChangeID string
}

// Context bundles the values every C1-gated operation is parameterized
// by. It is passed explicitly; nothing here is stored in a package
// variable.
type Context struct {
	Tenant       Tenant
	Actor        Actor
	Governance   Governance
	Capabilities ProfileName
}

// New builds a request Context.
func New(tenantID string, source Source, actor Actor) Context {
	return Context{
		Tenant: Tenant{ID: tenantID, Source: source},
		Actor:  actor,
	}
}

// WithGovernance returns a copy of ctx with Governance set.
func (c Context) WithGovernance(changeID string) Context {
	c.Governance = Governance{ChangeID: changeID}
	return c
}

// RequireGovernance fails closed with GOVERNANCE_REQUIRED when a governed
// write has no changeId attached.
func (c Context) RequireGovernance() error {
	if c.Governance.ChangeID == "" {
		return errs.New(errs.CodeGovernanceRequired, "governed write requires Governance.changeId")
	}
	return nil
}

// WithCapabilities returns a copy of ctx with Capabilities set to name,
// the profile RequireCapabilities resolves against.
func (c Context) WithCapabilities(name ProfileName) Context {
	c.Capabilities = name
	return c
}

// RequireCapabilities resolves the context's capability profile and
// fails closed with CAPABILITY_DENIED if it lacks any of required. An
// empty Capabilities name resolves to the deny-all profile, so an
// operation requiring a token always needs one explicitly attached.
func (c Context) RequireCapabilities(required ...Token) error {
	return ResolveProfile(c.Capabilities).Require(required...)
}

// CheckTenant validates that an entity's tenantId matches the outer
// tenant context. Any mismatch is an INVARIANT_VIOLATION — tenant
// isolation is never negotiable.
func (c Context) CheckTenant(entityTenantID string) error {
	if entityTenantID != c.Tenant.ID {
		return errs.Newf(errs.CodeInvariantViolation,
			"tenant mismatch: context tenant %q does not own entity tenant %q", c.Tenant.ID, entityTenantID)
	}
	return nil
}
