package option

import (
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueryOption mutates a scoped query before it is executed by a repository.
type QueryOption func(db *gorm.DB) *gorm.DB

type Operator string

const (
	EQ    Operator = "eq"
	NEQ   Operator = "neq"
	GT    Operator = "gt"
	GTE   Operator = "gte"
	LT    Operator = "lt"
	LTE   Operator = "lte"
	IN    Operator = "in"
	NOTIN Operator = "not_in"
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

type QuerySortBy struct {
	SortBy  string
	OrderBy string
	Allow   map[string]bool
}

const defaultSortColumn = "created_at"

// WithSortBy orders by SortBy when it is whitelisted in Allow, falling back to created_at.
func WithSortBy(s QuerySortBy) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		column := defaultSortColumn
		if s.SortBy != "" && s.Allow[s.SortBy] {
			column = s.SortBy
		}

		return db.Order(clause.OrderByColumn{
			Column: clause.Column{Name: column},
			Desc:   strings.EqualFold(s.OrderBy, "desc"),
		})
	}
}

func ApplyOperator(conds ...Condition) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		exprs := make([]clause.Expression, 0, len(conds))
		for _, c := range conds {
			if expr := toExpression(c); expr != nil {
				exprs = append(exprs, expr)
			}
		}
		if len(exprs) == 0 {
			return db
		}
		return db.Where(clause.And(exprs...))
	}
}

func toExpression(c Condition) clause.Expression {
	column := clause.Column{Name: c.Field}
	switch c.Operator {
	case EQ:
		return clause.Eq{Column: column, Value: c.Value}
	case NEQ:
		return clause.Neq{Column: column, Value: c.Value}
	case GT:
		return clause.Gt{Column: column, Value: c.Value}
	case GTE:
		return clause.Gte{Column: column, Value: c.Value}
	case LT:
		return clause.Lt{Column: column, Value: c.Value}
	case LTE:
		return clause.Lte{Column: column, Value: c.Value}
	case IN:
		return clause.IN{Column: column, Values: toValues(c.Value)}
	case NOTIN:
		return clause.Not(clause.IN{Column: column, Values: toValues(c.Value)})
	default:
		return nil
	}
}

func toValues(v any) []any {
	switch vs := v.(type) {
	case []string:
		out := make([]any, 0, len(vs))
		for _, s := range vs {
			out = append(out, s)
		}
		return out
	case []int:
		out := make([]any, 0, len(vs))
		for _, i := range vs {
			out = append(out, i)
		}
		return out
	case []any:
		return vs
	default:
		return []any{v}
	}
}

func WithPreload(query string, args ...any) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Preload(query, args...)
	}
}

func WithLimit(limit int) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return db
		}
		return db.Limit(limit)
	}
}

// WithCursorAfter keeps rows strictly after (createdAt, id) in ascending order.
func WithCursorAfter(createdAt time.Time, id string) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("(created_at > ?) OR (created_at = ? AND id > ?)", createdAt, createdAt, id)
	}
}

func WithLockingUpdate() QueryOption {
	return LockingUpdate
}

// LockingUpdate is usable both as a QueryOption and as a gorm scope.
func LockingUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}
