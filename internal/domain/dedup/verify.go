package dedup

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"recordmanager/internal/config"
	"recordmanager/internal/core/apperror"
	"recordmanager/internal/domain/dedup/keys"
	"recordmanager/internal/domain/record"
	"recordmanager/internal/metadata"
)

// Entry is one side of a verification: the stored record, its parsed
// metadata (nil when the payload could not be parsed) and its active
// cluster (nil when unclustered or stale).
type Entry struct {
	Record   *record.Record
	Metadata metadata.Record
	Cluster  *record.DedupRecord
}

// Verifier decides whether two key-sharing records describe the same work.
// Implementations are deterministic and side-effect free.
type Verifier interface {
	Verify(a, b Entry, match record.KeyKind) (bool, error)
}

// RuleVerifier is the built-in verifier.
//
// A candidate is rejected when it comes from the evaluated record's source
// (or its cluster already holds one), when the format families differ, or
// when both sides carry ISBNs and none is shared. A match found through the
// title key alone additionally needs years within YearTolerance, a shared
// author surname when both sides list authors, and at least one of the two
// agreeing.
type RuleVerifier struct {
	YearTolerance   int
	AllowSameSource bool
}

// NewRuleVerifier builds the verifier from configuration.
func NewRuleVerifier(cfg config.DedupConfig) RuleVerifier {
	return RuleVerifier{YearTolerance: cfg.YearTolerance, AllowSameSource: cfg.AllowSameSource}
}

func (v RuleVerifier) Verify(a, b Entry, match record.KeyKind) (bool, error) {
	if !v.AllowSameSource {
		src := sourceOf(a.Record)
		if sourceOf(b.Record) == src {
			return false, nil
		}
		if b.Cluster != nil && b.Cluster.HasSource(src, a.Record.ID) {
			return false, nil
		}
	}

	isbnA, isbnB := a.Record.ISBNKeys, b.Record.ISBNKeys
	if len(isbnA) > 0 && len(isbnB) > 0 &&
		(record.CandidateKeys{ISBN: isbnA}).Overlap(record.CandidateKeys{ISBN: isbnB}) == 0 {
		return false, nil
	}

	if a.Metadata == nil || b.Metadata == nil {
		return match != record.KeyTitle, nil
	}

	famA, famB := a.Metadata.FormatFamily(), b.Metadata.FormatFamily()
	if famA != "" && famB != "" && famA != famB {
		return false, nil
	}

	if match != record.KeyTitle {
		return true, nil
	}

	corroborated := false

	yearA, yearB := a.Metadata.PublicationYear(), b.Metadata.PublicationYear()
	if yearA > 0 && yearB > 0 {
		if abs(yearA-yearB) > v.YearTolerance {
			return false, nil
		}
		corroborated = true
	}

	authA, authB := surnames(a.Metadata.Authors()), surnames(b.Metadata.Authors())
	if len(authA) > 0 && len(authB) > 0 {
		if !intersects(authA, authB) {
			return false, nil
		}
		corroborated = true
	}

	return corroborated, nil
}

func sourceOf(r *record.Record) string {
	if r.SourceID != "" {
		return r.SourceID
	}
	return record.SourceOf(r.ID)
}

// surnames returns folded family names: the part before the first comma,
// or the last word of a direct-order name.
func surnames(names []string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		if i := strings.IndexByte(n, ','); i >= 0 {
			n = n[:i]
		} else if f := strings.Fields(n); len(f) > 0 {
			n = f[len(f)-1]
		}
		if s := keys.Fold(n); s != "" {
			out[s] = struct{}{}
		}
	}
	return out
}

func intersects(a, b map[string]struct{}) bool {
	for k := range a {
		if _, ok := b[k]; ok {
			return true
		}
	}
	return false
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// ExpressionVerifier evaluates a CEL expression that must yield a bool.
// Variables: a and b (maps with title, authors, year, format, isbns,
// source) and match ("isbn", "id" or "title").
type ExpressionVerifier struct {
	expr string
	prg  cel.Program
}

// NewExpressionVerifier compiles expr.
func NewExpressionVerifier(expr string) (*ExpressionVerifier, error) {
	env, err := cel.NewEnv(
		cel.Variable("a", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("b", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("match", cel.StringType),
	)
	if err != nil {
		return nil, apperror.NewConfig("build verify expression environment").WithCause(err)
	}
	ast, iss := env.Compile(expr)
	if iss.Err() != nil {
		return nil, apperror.NewConfig(fmt.Sprintf("compile verify expression: %v", iss.Err()))
	}
	if !ast.OutputType().IsExactType(cel.BoolType) && !ast.OutputType().IsExactType(cel.DynType) {
		return nil, apperror.NewConfig(fmt.Sprintf("verify expression must return bool, got %s", ast.OutputType()))
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, apperror.NewConfig("plan verify expression").WithCause(err)
	}
	return &ExpressionVerifier{expr: expr, prg: prg}, nil
}

func (v *ExpressionVerifier) Verify(a, b Entry, match record.KeyKind) (bool, error) {
	out, _, err := v.prg.Eval(map[string]any{
		"a":     attributes(a),
		"b":     attributes(b),
		"match": string(match),
	})
	if err != nil {
		return false, fmt.Errorf("evaluate verify expression: %w", err)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, fmt.Errorf("verify expression returned %T", out.Value())
	}
	return ok, nil
}

func attributes(e Entry) map[string]any {
	m := map[string]any{
		"title":   "",
		"authors": []string{},
		"year":    0,
		"format":  "",
		"isbns":   append([]string{}, e.Record.ISBNKeys...),
		"source":  sourceOf(e.Record),
	}
	if md := e.Metadata; md != nil {
		m["title"] = md.Title()
		if a := md.Authors(); a != nil {
			m["authors"] = a
		}
		m["year"] = md.PublicationYear()
		m["format"] = md.FormatFamily()
	}
	return m
}

// ChainVerifier accepts only when every verifier accepts.
type ChainVerifier []Verifier

func (c ChainVerifier) Verify(a, b Entry, match record.KeyKind) (bool, error) {
	for _, v := range c {
		ok, err := v.Verify(a, b, match)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// NewVerifier returns the rule verifier, chained with the configured
// expression when one is set.
func NewVerifier(cfg config.DedupConfig) (Verifier, error) {
	rules := NewRuleVerifier(cfg)
	if strings.TrimSpace(cfg.VerifyExpression) == "" {
		return rules, nil
	}
	expr, err := NewExpressionVerifier(cfg.VerifyExpression)
	if err != nil {
		return nil, err
	}
	return ChainVerifier{rules, expr}, nil
}
