package ledger

import (
	"encoding/json"
	"fmt"
	"strings"
)

type proposalRow struct {
	ProposalName *string `json:"proposal_name"`
}

type permissionLevelRow struct {
	Actor      string `json:"actor"`
	Permission string `json:"permission"`
}

// approvalEntryRow covers both table layouts: approvals2 wraps the level
// ({"level":{...},"time":...}), the legacy approvals table does not.
type approvalEntryRow struct {
	Level      *permissionLevelRow `json:"level"`
	Actor      string              `json:"actor"`
	Permission string              `json:"permission"`
}

type approvalRow struct {
	ProposalName      *string             `json:"proposal_name"`
	ProvidedApprovals *[]approvalEntryRow `json:"provided_approvals"`
}

// DecodeProposals decodes proposal table rows owned by scope.
func DecodeProposals(scope string, rows []json.RawMessage) ([]ProposalRecord, error) {
	out := make([]ProposalRecord, 0, len(rows))
	for idx, raw := range rows {
		var row proposalRow
		if err := json.Unmarshal(raw, &row); err != nil {
			return nil, fmt.Errorf("%w: proposal[%d]: %v", ErrDecode, idx, err)
		}
		if row.ProposalName == nil || strings.TrimSpace(*row.ProposalName) == "" {
			return nil, fmt.Errorf("%w: proposal[%d]: missing proposal_name", ErrDecode, idx)
		}
		if err := CheckName(*row.ProposalName); err != nil {
			return nil, fmt.Errorf("%w: proposal[%d]: %v", ErrDecode, idx, err)
		}
		out = append(out, ProposalRecord{
			ProposalName: *row.ProposalName,
			Proposer:     scope,
		})
	}
	return out, nil
}

// DecodeApprovals decodes approvals table rows.
func DecodeApprovals(rows []json.RawMessage) ([]ApprovalRecord, error) {
	out := make([]ApprovalRecord, 0, len(rows))
	for idx, raw := range rows {
		var row approvalRow
		if err := json.Unmarshal(raw, &row); err != nil {
			return nil, fmt.Errorf("%w: approval[%d]: %v", ErrDecode, idx, err)
		}
		if row.ProposalName == nil || strings.TrimSpace(*row.ProposalName) == "" {
			return nil, fmt.Errorf("%w: approval[%d]: missing proposal_name", ErrDecode, idx)
		}
		if err := CheckName(*row.ProposalName); err != nil {
			return nil, fmt.Errorf("%w: approval[%d]: %v", ErrDecode, idx, err)
		}
		if row.ProvidedApprovals == nil {
			return nil, fmt.Errorf("%w: approval[%d]: missing provided_approvals", ErrDecode, idx)
		}
		provided := make([]Authority, 0, len(*row.ProvidedApprovals))
		for j, entry := range *row.ProvidedApprovals {
			level := permissionLevelRow{Actor: entry.Actor, Permission: entry.Permission}
			if entry.Level != nil {
				level = *entry.Level
			}
			if strings.TrimSpace(level.Actor) == "" {
				return nil, fmt.Errorf("%w: approval[%d].provided_approvals[%d]: missing actor", ErrDecode, idx, j)
			}
			provided = append(provided, Authority{Account: level.Actor, Permission: level.Permission})
		}
		out = append(out, ApprovalRecord{
			ProposalName:      *row.ProposalName,
			ProvidedApprovals: provided,
		})
	}
	return out, nil
}
