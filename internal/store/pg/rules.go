package pg

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"accessgate.org/internal/auth"
)

// RuleRepo reads the role by element access matrix.
type RuleRepo struct {
	q querier
}

var _ auth.RuleStore = (*RuleRepo)(nil)

// RulesFor loads every rule of roleIDs on element in one round trip.
func (r *RuleRepo) RulesFor(ctx context.Context, roleIDs []string, element auth.BusinessElement) ([]auth.AccessRule, error) {
	if len(roleIDs) == 0 {
		return []auth.AccessRule{}, nil
	}
	args := make([]any, 0, len(roleIDs)+1)
	args = append(args, string(element))
	marks := make([]string, len(roleIDs))
	for i, id := range roleIDs {
		args = append(args, id)
		marks[i] = fmt.Sprintf("$%d", i+2)
	}
	rows, err := r.q.QueryContext(ctx, `
		select ar.role_id, ar.read, ar.read_all, ar."create", ar.update, ar.update_all, ar.delete, ar.delete_all
		from access_rules ar
		join business_elements be on be.id = ar.business_element_id
		where be.name = $1 and ar.role_id in (`+strings.Join(marks, ", ")+`)
	`, args...)
	if err != nil {
		return nil, Classify(err)
	}
	defer rows.Close()

	out := make([]auth.AccessRule, 0, len(roleIDs))
	for rows.Next() {
		rule := auth.AccessRule{Element: element}
		if err := rows.Scan(&rule.RoleID, &rule.Read, &rule.ReadAll, &rule.Create,
			&rule.Update, &rule.UpdateAll, &rule.Delete, &rule.DeleteAll); err != nil {
			return nil, Classify(err)
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, Classify(err)
	}
	return out, nil
}

const ruleColumns = `ar.role_id, be.name, ar.read, ar.read_all, ar."create", ar.update, ar.update_all, ar.delete, ar.delete_all`

func scanRule(row scanner) (auth.AccessRule, error) {
	var rule auth.AccessRule
	var element string
	if err := row.Scan(&rule.RoleID, &element, &rule.Read, &rule.ReadAll, &rule.Create,
		&rule.Update, &rule.UpdateAll, &rule.Delete, &rule.DeleteAll); err != nil {
		return auth.AccessRule{}, Classify(err)
	}
	rule.Element = auth.BusinessElement(element)
	return rule, nil
}

// RuleFilter narrows List. Empty fields match everything.
type RuleFilter struct {
	RoleID  string
	Element auth.BusinessElement
	Limit   int
	Offset  int
}

// List returns rules ordered by element name, then role.
func (r *RuleRepo) List(ctx context.Context, f RuleFilter) ([]auth.AccessRule, error) {
	limit, offset := ListFilter{Limit: f.Limit, Offset: f.Offset}.bounds()
	var (
		conds []string
		args  []any
	)
	if f.RoleID != "" {
		args = append(args, f.RoleID)
		conds = append(conds, fmt.Sprintf("ar.role_id = $%d", len(args)))
	}
	if f.Element != "" {
		args = append(args, string(f.Element))
		conds = append(conds, fmt.Sprintf("be.name = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " where " + strings.Join(conds, " and ")
	}
	args = append(args, limit, offset)
	rows, err := r.q.QueryContext(ctx, fmt.Sprintf(`
		select %s
		from access_rules ar
		join business_elements be on be.id = ar.business_element_id%s
		order by be.name, ar.role_id
		limit $%d offset $%d`, ruleColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, Classify(err)
	}
	defer rows.Close()
	out := make([]auth.AccessRule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, Classify(err)
	}
	return out, nil
}

// RulePatch sets the listed flags of one rule. Flags not in the map are kept.
type RulePatch map[auth.Permission]bool

// Update applies p to the rule of roleID on element and returns the stored
// row. A missing rule is ErrNotFound; rules are seeded, never created here.
func (r *RuleRepo) Update(ctx context.Context, roleID string, element auth.BusinessElement, p RulePatch) (auth.AccessRule, error) {
	if _, err := uuid.Parse(roleID); err != nil {
		return auth.AccessRule{}, ErrNotFound
	}
	args := []any{roleID, string(element)}
	sets := make([]string, 0, len(p))
	for _, perm := range auth.AllPermissions {
		on, ok := p[perm]
		if !ok {
			continue
		}
		args = append(args, on)
		sets = append(sets, fmt.Sprintf(`"%s" = $%d`, perm, len(args)))
	}
	if len(sets) == 0 {
		return auth.AccessRule{}, fmt.Errorf("%w: nothing to update", auth.ErrInvalidInput)
	}
	row := r.q.QueryRowContext(ctx, `
		update access_rules ar
		set `+strings.Join(sets, ", ")+`
		from business_elements be
		where be.id = ar.business_element_id and ar.role_id = $1 and be.name = $2
		returning `+ruleColumns, args...)
	return scanRule(row)
}
