// Package query builds search domains for the remote server. A domain is a filter
// expression in the server's prefix-notation array form, e.g.
// ["&", ["name", "=", "A"], ["age", ">", 3]]; constructors build single-condition
// domains and And/Or/Not combine them. Domains marshal to JSON as-is and pass directly
// into rop.Client.Search/SearchRead.
package query

import "encoding/json"

// Domain is a search filter in the server's prefix-notation form. The zero value
// matches every record.
type Domain []any

func condition(field string, operator string, value any) Domain {
	return Domain{[]any{field, operator, value}}
}

// Eq matches records whose field equals value.
func Eq(field string, value any) Domain {
	return condition(field, "=", value)
}

// NotEq matches records whose field differs from value.
func NotEq(field string, value any) Domain {
	return condition(field, "!=", value)
}

// In matches records whose field is one of values.
func In(field string, values ...any) Domain {
	return condition(field, "in", values)
}

// NotIn matches records whose field is none of values.
func NotIn(field string, values ...any) Domain {
	return condition(field, "not in", values)
}

// Gt matches records whose field is greater than value.
func Gt(field string, value any) Domain {
	return condition(field, ">", value)
}

// Gte matches records whose field is greater than or equal to value.
func Gte(field string, value any) Domain {
	return condition(field, ">=", value)
}

// Lt matches records whose field is less than value.
func Lt(field string, value any) Domain {
	return condition(field, "<", value)
}

// Lte matches records whose field is less than or equal to value.
func Lte(field string, value any) Domain {
	return condition(field, "<=", value)
}

// Like matches records whose field contains pattern, case sensitive. % and _ wildcards
// are interpreted by the server.
func Like(field string, pattern string) Domain {
	return condition(field, "like", pattern)
}

// ILike is Like ignoring case.
func ILike(field string, pattern string) Domain {
	return condition(field, "ilike", pattern)
}

// ChildOf matches records below the given record in the model's hierarchy, the record
// itself included.
func ChildOf(field string, id int64) Domain {
	return condition(field, "child_of", id)
}

// combine joins the given domains with the prefix operator op. Each well-formed domain
// reduces to one term, so k domains need k-1 operator prefixes.
func combine(op string, domains []Domain) Domain {
	if len(domains) == 0 {
		return nil
	}
	if len(domains) == 1 {
		return domains[0]
	}
	n := len(domains) - 1
	for _, d := range domains {
		n += len(d)
	}
	out := make(Domain, 0, n)
	for i := 0; i < len(domains)-1; i++ {
		out = append(out, op)
	}
	for _, d := range domains {
		out = append(out, d...)
	}
	return out
}

// And matches records satisfying every given domain.
func And(domains ...Domain) Domain {
	return combine("&", domains)
}

// Or matches records satisfying at least one of the given domains.
func Or(domains ...Domain) Domain {
	return combine("|", domains)
}

// Not negates the given domain.
func Not(d Domain) Domain {
	if len(d) == 0 {
		return d
	}
	out := make(Domain, 0, len(d)+1)
	out = append(out, "!")
	return append(out, d...)
}

// MarshalJSON renders the domain in the server's array form. A nil domain marshals as
// the empty filter [] rather than null.
func (d Domain) MarshalJSON() ([]byte, error) {
	if d == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]any(d))
}
