// Package ledger defines the synchronizable ledger entities (categories,
// persons, expenses, incomes), their sync bookkeeping, and the JSON document
// shapes exchanged with the remote document store.
package ledger

import (
	"fmt"
	"strings"
)

// Kind identifies one synchronizable entity type.
type Kind int

const (
	KindCategory Kind = iota
	KindPerson
	KindExpense
	KindIncome
)

// AllKinds lists every kind in dependency order: referenced kinds first.
var AllKinds = []Kind{KindCategory, KindPerson, KindExpense, KindIncome}

func (k Kind) String() string {
	switch k {
	case KindCategory:
		return "category"
	case KindPerson:
		return "person"
	case KindExpense:
		return "expense"
	case KindIncome:
		return "income"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Collection returns the remote collection name under a tenant path.
func (k Kind) Collection() string {
	switch k {
	case KindCategory:
		return "categories"
	case KindPerson:
		return "persons"
	case KindExpense:
		return "expenses"
	case KindIncome:
		return "incomes"
	default:
		return ""
	}
}

// IsTransaction reports whether records of this kind carry category and
// person references (expenses and incomes).
func (k Kind) IsTransaction() bool {
	return k == KindExpense || k == KindIncome
}

// ParseKind converts a kind name ("expense", "incomes", ...) to a Kind.
// Both singular and collection forms are accepted.
func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))

	for _, k := range AllKinds {
		if name == k.String() || name == k.Collection() {
			return k, nil
		}
	}

	return 0, fmt.Errorf("ledger: unknown kind %q", s)
}
