package ledger

import (
	"fmt"

	eos "github.com/eoscanada/eos-go"
)

// ApprovePayload is eosio.msig::approve.
type ApprovePayload struct {
	Proposer     eos.AccountName     `json:"proposer"`
	ProposalName eos.Name            `json:"proposal_name"`
	Level        eos.PermissionLevel `json:"level"`
}

// ProposePayload is eosio.msig::propose. Trx is embedded verbatim.
type ProposePayload struct {
	Proposer     eos.AccountName       `json:"proposer"`
	ProposalName eos.Name              `json:"proposal_name"`
	Requested    []eos.PermissionLevel `json:"requested"`
	Trx          *eos.Transaction      `json:"trx"`
}

// CancelPayload is eosio.msig::cancel.
type CancelPayload struct {
	Proposer     eos.AccountName `json:"proposer"`
	ProposalName eos.Name        `json:"proposal_name"`
	Canceler     eos.AccountName `json:"canceler"`
}

// CheckName rejects names the chain name encoding would silently rewrite,
// such as "kick7" which packs to "kick".
func CheckName(name string) error {
	if name == "" {
		return fmt.Errorf("name is empty")
	}
	v, err := eos.StringToName(name)
	if err != nil {
		return fmt.Errorf("name %q: %v", name, err)
	}
	if eos.NameToString(v) != name {
		return fmt.Errorf("name %q is not a valid chain name", name)
	}
	return nil
}

// Level converts an Authority into the chain permission level.
func (a Authority) Level() eos.PermissionLevel {
	return eos.PermissionLevel{
		Actor:      eos.AN(a.Account),
		Permission: eos.PN(a.Permission),
	}
}

// Levels converts a list of authorities, preserving order.
func Levels(in []Authority) []eos.PermissionLevel {
	out := make([]eos.PermissionLevel, 0, len(in))
	for _, a := range in {
		out = append(out, a.Level())
	}
	return out
}

// EOS converts the action for the eos-go encoder. Raw []byte data is taken
// as already-serialized action data.
func (a Action) EOS() *eos.Action {
	auth := make([]eos.PermissionLevel, 0, len(a.Authorization))
	for _, p := range a.Authorization {
		auth = append(auth, p.Level())
	}
	out := &eos.Action{
		Account:       eos.AN(a.Account),
		Name:          eos.ActN(a.Name),
		Authorization: auth,
	}
	switch data := a.Data.(type) {
	case []byte:
		out.ActionData = eos.ActionData{HexData: eos.HexBytes(data)}
	default:
		out.ActionData = eos.NewActionData(data)
	}
	return out
}

// EOSActions converts a list of actions, preserving order.
func EOSActions(in []Action) []*eos.Action {
	out := make([]*eos.Action, 0, len(in))
	for _, a := range in {
		out = append(out, a.EOS())
	}
	return out
}
