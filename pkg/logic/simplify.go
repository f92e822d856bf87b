package logic

import "sort"

// maxOracleAtoms bounds the truth-table enumeration. Above this many distinct
// atoms the oracle degrades to conservative answers.
const maxOracleAtoms = 14

// Simplify canonicalizes e: nested connectives are flattened, arguments are
// sorted and deduplicated, literals are folded, and complementary arguments
// collapse the connective.
func Simplify(e Expr) Expr {
	switch x := e.(type) {
	case *Not:
		arg := Simplify(x.Arg)
		return NewNot(arg)
	case *And:
		return simplifyConnective(x.Args, true)
	case *Or:
		return simplifyConnective(x.Args, false)
	default:
		return e
	}
}

// simplifyConnective canonicalizes one And (conj=true) or Or (conj=false)
// level after flattening same-kind children.
func simplifyConnective(args []Expr, conj bool) Expr {
	var flat []Expr
	for _, a := range args {
		a = Simplify(a)
		switch inner := a.(type) {
		case *And:
			if conj {
				flat = append(flat, inner.Args...)
				continue
			}
		case *Or:
			if !conj {
				flat = append(flat, inner.Args...)
				continue
			}
		}
		flat = append(flat, a)
	}

	seen := make(map[string]Expr)
	var keep []Expr
	for _, a := range flat {
		if l, ok := a.(*Lit); ok {
			if l.Value == conj {
				continue // identity element
			}
			if l.Value {
				return True // true dominates Or
			}
			return False // false dominates And
		}
		k := Key(a)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = a
		keep = append(keep, a)
	}

	// A term alongside its own negation decides the whole connective.
	for _, a := range keep {
		if _, ok := seen[Key(NewNot(a))]; ok {
			if conj {
				return False
			}
			return True
		}
	}

	sort.Slice(keep, func(i, j int) bool { return Key(keep[i]) < Key(keep[j]) })

	if conj {
		return NewAnd(keep...)
	}
	return NewOr(keep...)
}

// Equal reports structural equality after canonicalization.
func Equal(a, b Expr) bool {
	return Key(Simplify(a)) == Key(Simplify(b))
}

// Equivalent reports whether a and b denote the same boolean function. It
// first tries structural equality, then a bounded truth-table comparison;
// when the atom count exceeds the oracle bound it answers false.
func Equivalent(a, b Expr) bool {
	if Equal(a, b) {
		return true
	}
	atoms := map[string]struct{}{}
	CollectAtoms(a, atoms)
	CollectAtoms(b, atoms)
	if len(atoms) > maxOracleAtoms {
		return false
	}
	names := atomNames(atoms)
	for assign := 0; assign < 1<<len(names); assign++ {
		env := makeEnv(names, assign)
		if eval(a, env) != eval(b, env) {
			return false
		}
	}
	return true
}

// Satisfiable reports whether some assignment of the atoms makes e true.
// When the atom count exceeds the oracle bound it conservatively answers
// true.
func Satisfiable(e Expr) bool {
	e = Simplify(e)
	if IsTrue(e) {
		return true
	}
	if IsFalse(e) {
		return false
	}
	atoms := map[string]struct{}{}
	CollectAtoms(e, atoms)
	if len(atoms) > maxOracleAtoms {
		return true
	}
	names := atomNames(atoms)
	for assign := 0; assign < 1<<len(names); assign++ {
		if eval(e, makeEnv(names, assign)) {
			return true
		}
	}
	return false
}

// CollectAtoms gathers the keys of the atomic boolean terms of e. Anything
// that is not an interpreted connective counts as one atom.
func CollectAtoms(e Expr, out map[string]struct{}) {
	switch x := e.(type) {
	case *Lit:
	case *Not:
		CollectAtoms(x.Arg, out)
	case *And:
		for _, a := range x.Args {
			CollectAtoms(a, out)
		}
	case *Or:
		for _, a := range x.Args {
			CollectAtoms(a, out)
		}
	default:
		out[Key(e)] = struct{}{}
	}
}

func atomNames(atoms map[string]struct{}) []string {
	names := make([]string, 0, len(atoms))
	for k := range atoms {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func makeEnv(names []string, assign int) map[string]bool {
	env := make(map[string]bool, len(names))
	for i, n := range names {
		env[n] = assign&(1<<i) != 0
	}
	return env
}

// eval computes e under an assignment of atom keys to truth values.
func eval(e Expr, env map[string]bool) bool {
	switch x := e.(type) {
	case *Lit:
		return x.Value
	case *Not:
		return !eval(x.Arg, env)
	case *And:
		for _, a := range x.Args {
			if !eval(a, env) {
				return false
			}
		}
		return true
	case *Or:
		for _, a := range x.Args {
			if eval(a, env) {
				return true
			}
		}
		return false
	default:
		return env[Key(e)]
	}
}
