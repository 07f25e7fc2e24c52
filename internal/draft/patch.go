package draft

import (
	"context"
	"time"

	"github.com/c360studio/changeops/internal/errs"
	"github.com/c360studio/changeops/internal/pkgmodel"
	"github.com/c360studio/changeops/internal/tenantctx"
)

// Patch implements patch(draftId, ops[]) -> Draft. Each op is applied in
// order against a copy of the current package; any op failing
// validation rejects the whole batch — the draft is left completely
// unchanged, no new version is appended.
func (e *Engine) Patch(ctx context.Context, tc tenantctx.Context, draftID string, ops []PatchOp) (*Draft, error) {
	d, storeVersion, err := e.getDraft(ctx, tc.Tenant.ID, draftID)
	if err != nil {
		return nil, err
	}
	if err := tc.CheckTenant(d.TenantID); err != nil {
		return nil, err
	}

	current, _, err := e.getVersion(ctx, d.TenantID, draftID, d.CurrentVersion)
	if err != nil {
		return nil, err
	}

	next := clonePackage(current.Package)
	for _, op := range ops {
		if err := applyPatchOp(next, op); err != nil {
			return nil, err
		}
	}

	if problems := next.Validate(); len(problems) > 0 {
		return nil, problems[0]
	}

	d.CurrentVersion++
	d.Checksum = pkgmodel.Checksum(next)
	d.ValidationErrs = nil
	d.UpdatedAt = time.Now()

	if _, err := e.putDraft(ctx, d, &storeVersion); err != nil {
		return nil, err
	}
	if err := e.appendVersion(ctx, d, next, ReasonPatch); err != nil {
		return nil, err
	}
	e.emitAudit(ctx, tc, d.ID, "patched", nil)
	return d, nil
}

func clonePackage(p *pkgmodel.Package) *pkgmodel.Package {
	out := *p
	out.RecordTypes = append([]pkgmodel.RecordType(nil), p.RecordTypes...)
	for i, rt := range out.RecordTypes {
		out.RecordTypes[i].Fields = append([]pkgmodel.Field(nil), rt.Fields...)
	}
	out.SlaPolicies = append([]pkgmodel.SlaPolicy(nil), p.SlaPolicies...)
	out.AssignmentRules = append([]pkgmodel.AssignmentRule(nil), p.AssignmentRules...)
	out.Workflows = append([]pkgmodel.Workflow(nil), p.Workflows...)
	out.Roles = append([]pkgmodel.Role(nil), p.Roles...)
	return &out
}

func findRecordTypeIndex(p *pkgmodel.Package, key string) int {
	for i, rt := range p.RecordTypes {
		if rt.Key == key {
			return i
		}
	}
	return -1
}

func applyPatchOp(p *pkgmodel.Package, op PatchOp) error {
	switch op.Op {
	case PatchAddField:
		idx := findRecordTypeIndex(p, op.RecordTypeKey)
		if idx < 0 {
			return errs.Newf(errs.CodeValidationError, "add_field: unknown record type %q", op.RecordTypeKey).WithRecordType(op.RecordTypeKey)
		}
		for _, f := range p.RecordTypes[idx].Fields {
			if f.Name == op.FieldName {
				return errs.Newf(errs.CodeValidationError, "add_field: field %q already exists on %q", op.FieldName, op.RecordTypeKey).WithRecordType(op.RecordTypeKey)
			}
		}
		p.RecordTypes[idx].Fields = append(p.RecordTypes[idx].Fields, pkgmodel.Field{
			Name: op.FieldName, Type: op.FieldType, Required: op.Required,
		})
		return nil

	case PatchRenameField:
		idx := findRecordTypeIndex(p, op.RecordTypeKey)
		if idx < 0 {
			return errs.Newf(errs.CodeValidationError, "rename_field: unknown record type %q", op.RecordTypeKey).WithRecordType(op.RecordTypeKey)
		}
		for i, f := range p.RecordTypes[idx].Fields {
			if f.Name == op.FieldName {
				p.RecordTypes[idx].Fields[i].Name = op.NewFieldName
				return nil
			}
		}
		return errs.Newf(errs.CodeValidationError, "rename_field: unknown field %q on %q", op.FieldName, op.RecordTypeKey).WithRecordType(op.RecordTypeKey)

	case PatchRemoveField:
		idx := findRecordTypeIndex(p, op.RecordTypeKey)
		if idx < 0 {
			return errs.Newf(errs.CodeValidationError, "remove_field: unknown record type %q", op.RecordTypeKey).WithRecordType(op.RecordTypeKey)
		}
		fields := p.RecordTypes[idx].Fields
		for i, f := range fields {
			if f.Name != op.FieldName {
				continue
			}
			if f.Required {
				return errs.Newf(errs.CodeValidationError, "cannot remove required field %q from %q", op.FieldName, op.RecordTypeKey).
					WithRecordType(op.RecordTypeKey).WithDetails(map[string]any{"code": "REQUIRED_FIELD_REMOVED"})
			}
			p.RecordTypes[idx].Fields = append(fields[:i], fields[i+1:]...)
			return nil
		}
		return errs.Newf(errs.CodeValidationError, "remove_field: unknown field %q on %q", op.FieldName, op.RecordTypeKey).WithRecordType(op.RecordTypeKey)

	case PatchSetSLA:
		for i, s := range p.SlaPolicies {
			if s.RecordTypeKey == op.RecordTypeKey {
				p.SlaPolicies[i].DurationMinutes = op.DurationMinutes
				return nil
			}
		}
		p.SlaPolicies = append(p.SlaPolicies, pkgmodel.SlaPolicy{
			RecordTypeKey: op.RecordTypeKey, DurationMinutes: op.DurationMinutes,
		})
		return nil

	case PatchSetAssignmentGroup:
		for i, r := range p.AssignmentRules {
			if r.RecordTypeKey == op.RecordTypeKey {
				p.AssignmentRules[i].StrategyType = "group"
				p.AssignmentRules[i].Config.GroupKey = op.GroupKey
				return nil
			}
		}
		p.AssignmentRules = append(p.AssignmentRules, pkgmodel.AssignmentRule{
			RecordTypeKey: op.RecordTypeKey,
			StrategyType:  "group",
			Config:        pkgmodel.AssignmentRuleConfig{GroupKey: op.GroupKey},
		})
		return nil

	default:
		return errs.Newf(errs.CodeValidationError, "unknown patch op %q", op.Op)
	}
}
