package tenantctx

import (
	"sync"

	"github.com/c360studio/changeops/internal/errs"
)

// Token is a single capability grantable to a module execution.
type Token string

const (
	// TokenFSRead permits reading files under a module's boundary.
	TokenFSRead Token = "FS_READ"
	// TokenFSWrite permits writing files under a module's boundary.
	TokenFSWrite Token = "FS_WRITE"
	// TokenCmdRun permits invoking the runner sandbox.
	TokenCmdRun Token = "CMD_RUN"
	// TokenNetOut permits outbound network calls (the LLM producer, a
	// notification channel).
	TokenNetOut Token = "NET_OUT"
)

// IsValid reports whether t is a known capability token.
func (t Token) IsValid() bool {
	switch t {
	case TokenFSRead, TokenFSWrite, TokenCmdRun, TokenNetOut:
		return true
	}
	return false
}

// ProfileName names a capability profile bundle.
type ProfileName string

const (
	// ProfileCodeModuleDefault is granted to package-install execution
	// contexts: it can read/write within its module boundary but cannot
	// shell out or reach the network.
	ProfileCodeModuleDefault ProfileName = "CODE_MODULE_DEFAULT"
	// ProfileWorkflowModuleDefault is granted to workflow execution
	// contexts: read-only filesystem plus network egress for
	// notification steps.
	ProfileWorkflowModuleDefault ProfileName = "WORKFLOW_MODULE_DEFAULT"
	// ProfileReadOnly permits no mutation of any kind.
	ProfileReadOnly ProfileName = "READ_ONLY"
)

// profileMu guards profileExpansions: a config file reload (see
// internal/config's capability-profile hot reload) replaces profile
// definitions at runtime while requests on other goroutines resolve
// profiles concurrently.
var profileMu sync.RWMutex

// profileExpansions maps each named profile to the capability tokens it
// grants. Expansion is table-driven, not hardcoded per call site, so a new
// profile only needs an entry here. These are the built-in defaults;
// SetProfile/ReplaceProfiles can override or extend them at runtime.
var profileExpansions = map[ProfileName]map[Token]bool{
	ProfileCodeModuleDefault: {
		TokenFSRead:  true,
		TokenFSWrite: true,
	},
	ProfileWorkflowModuleDefault: {
		TokenFSRead:  true,
		TokenNetOut:  true,
	},
	ProfileReadOnly: {
		TokenFSRead: true,
	},
}

// SetProfile registers or replaces the token set for a named profile.
// Used by the config loader to apply capability-profile overrides read
// from disk, including on a hot-reload triggered by the file watcher.
func SetProfile(name ProfileName, tokens []Token) {
	set := make(map[Token]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	profileMu.Lock()
	defer profileMu.Unlock()
	profileExpansions[name] = set
}

// ReplaceProfiles atomically discards every existing profile definition
// — including the built-in defaults — and installs profiles in its
// place. A config reload that omits a previously-defined profile means
// that profile now resolves to deny-all, matching ResolveProfile's
// fail-closed behavior for any other unknown name.
func ReplaceProfiles(profiles map[ProfileName][]Token) {
	next := make(map[ProfileName]map[Token]bool, len(profiles))
	for name, tokens := range profiles {
		set := make(map[Token]bool, len(tokens))
		for _, t := range tokens {
			set[t] = true
		}
		next[name] = set
	}
	profileMu.Lock()
	defer profileMu.Unlock()
	profileExpansions = next
}

// Profile is an expanded capability bundle ready to check requests
// against.
type Profile struct {
	Name   ProfileName
	Tokens map[Token]bool
}

// ResolveProfile expands a named profile to its capability tokens. An
// unknown profile name resolves to an empty (deny-all) profile rather than
// erroring — capability checks fail closed regardless.
func ResolveProfile(name ProfileName) Profile {
	profileMu.RLock()
	defer profileMu.RUnlock()
	tokens := profileExpansions[name]
	if tokens == nil {
		tokens = map[Token]bool{}
	}
	// Copy out from under the lock: callers may hold the returned Profile
	// past the next ReplaceProfiles call.
	out := make(map[Token]bool, len(tokens))
	for t, v := range tokens {
		out[t] = v
	}
	return Profile{Name: name, Tokens: out}
}

// Require checks that the profile grants every token in required, failing
// closed with CAPABILITY_DENIED on the first missing one.
func (p Profile) Require(required ...Token) error {
	for _, tok := range required {
		if !p.Tokens[tok] {
			return errs.Newf(errs.CodeCapabilityDenied, "profile %s lacks required capability %s", p.Name, tok)
		}
	}
	return nil
}

// Has reports whether the profile grants tok, without erroring.
func (p Profile) Has(tok Token) bool {
	return p.Tokens[tok]
}
