// Package intent models the actions a chat user can trigger from inline
// buttons.  Callback data is parsed into a closed set of kinds once, at the
// edge, and dispatched through a table that must cover every kind.
package intent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies a user intent.
type Kind int

const (
	Unknown Kind = iota
	OpenSession
	MyAccount
	Security
	ActiveSessions
	RevokeSession
	EnableTwoFA
	DisableTwoFA
	RecoveryKey
	SecurityDashboard
	RecentActivity
	EmergencyMenu
	ConfirmLockdown
	CancelLockdown
	AccountMenu
	BackMenu
	Help
	HelpAccount
	HelpSecurity
	HelpSessions
	ReportSuspicious
	UpgradePro
	AgreeTOS
	DeclineTOS

	numKinds
)

var names = [numKinds]string{
	Unknown:           "unknown",
	OpenSession:       "open_session",
	MyAccount:         "my_account",
	Security:          "security",
	ActiveSessions:    "active_sessions",
	RevokeSession:     "revoke_session",
	EnableTwoFA:       "enable_2fa",
	DisableTwoFA:      "disable_2fa",
	RecoveryKey:       "recovery_key",
	SecurityDashboard: "security_dashboard",
	RecentActivity:    "recent_activity",
	EmergencyMenu:     "emergency_menu",
	ConfirmLockdown:   "confirm_lockdown",
	CancelLockdown:    "cancel_lockdown",
	AccountMenu:       "account_menu",
	BackMenu:          "back_menu",
	Help:              "help",
	HelpAccount:       "help_account",
	HelpSecurity:      "help_security",
	HelpSessions:      "help_sessions",
	ReportSuspicious:  "report_suspicious",
	UpgradePro:        "upgrade_pro",
	AgreeTOS:          "agree_tos",
	DeclineTOS:        "decline_tos",
}

// aliases are alternative spellings still carried by older messages.
var aliases = map[string]Kind{
	"view_sessions": ActiveSessions,
}

var byName = func() map[string]Kind {
	m := make(map[string]Kind, len(names)+len(aliases))
	for k := Kind(1); k < numKinds; k++ {
		m[names[k]] = k
	}
	for a, k := range aliases {
		m[a] = k
	}
	return m
}()

func (k Kind) String() string {
	if k < 0 || k >= numKinds {
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
	return names[k]
}

// Kinds returns every valid kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, 0, numKinds-1)
	for k := Kind(1); k < numKinds; k++ {
		out = append(out, k)
	}
	return out
}

// Intent is a parsed callback.  Arg carries the payload of kinds that
// take one: the session id for RevokeSession and the optional referral
// code for AgreeTOS.
type Intent struct {
	Kind Kind
	Arg  string
}

// SessionID returns the numeric argument of a RevokeSession intent.
func (in Intent) SessionID() (uint64, error) {
	if in.Kind != RevokeSession {
		return 0, fmt.Errorf("%s has no session id", in.Kind)
	}
	return strconv.ParseUint(in.Arg, 10, 64)
}

// ErrUnknownIntent is returned by Parse for unrecognized callback data.
var ErrUnknownIntent = errors.New("unknown intent")

const (
	revokePrefix = "revoke_session_"
	agreeSep     = ":"
)

// Parse decodes callback data.
func Parse(data string) (Intent, error) {
	data = strings.TrimSpace(data)
	if rest, ok := strings.CutPrefix(data, revokePrefix); ok {
		if id, err := strconv.ParseUint(rest, 10, 64); err != nil || id == 0 {
			return Intent{}, fmt.Errorf("%w: %q", ErrUnknownIntent, data)
		}
		return Intent{Kind: RevokeSession, Arg: rest}, nil
	}
	if rest, ok := strings.CutPrefix(data, names[AgreeTOS]+agreeSep); ok {
		return Intent{Kind: AgreeTOS, Arg: rest}, nil
	}
	if k, ok := byName[data]; ok && k != RevokeSession {
		return Intent{Kind: k}, nil
	}
	return Intent{}, fmt.Errorf("%w: %q", ErrUnknownIntent, data)
}

// Encode renders in as callback data accepted by Parse.
func (in Intent) Encode() string {
	switch in.Kind {
	case RevokeSession:
		return revokePrefix + in.Arg
	case AgreeTOS:
		if in.Arg != "" {
			return names[AgreeTOS] + agreeSep + in.Arg
		}
	}
	return in.Kind.String()
}

// Handler reacts to one intent.
type Handler func(ctx context.Context, in Intent) error

// Table maps every kind to its handler.
type Table map[Kind]Handler

// ErrNoHandler is returned by Dispatch when the table lacks the kind.
var ErrNoHandler = errors.New("no handler for intent")

// Validate reports the kinds the table does not handle.
func (t Table) Validate() error {
	var missing []string
	for _, k := range Kinds() {
		if t[k] == nil {
			missing = append(missing, k.String())
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("%w: %s", ErrNoHandler, strings.Join(missing, ", "))
}

// Dispatch runs the handler for in.
func (t Table) Dispatch(ctx context.Context, in Intent) error {
	h := t[in.Kind]
	if h == nil {
		return fmt.Errorf("%w: %s", ErrNoHandler, in.Kind)
	}
	return h(ctx, in)
}
