// Package filter selects account updates with CEL expressions such as
//
//	lamports > 1000000 && owner == "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
//
// Available variables: key and owner (base58 strings), lamports, seq and
// size (ints), executable (bool) and data (bytes).
package filter

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/bartke/accountstream/account"
)

// Filter is a compiled expression. The zero value and filters built from an
// empty expression match everything.
type Filter struct {
	prog cel.Program
	keys *account.KeyCache
}

func New(expr string) (*Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return &Filter{}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("key", cel.StringType),
		cel.Variable("owner", cel.StringType),
		cel.Variable("lamports", cel.IntType),
		cel.Variable("seq", cel.IntType),
		cel.Variable("size", cel.IntType),
		cel.Variable("executable", cel.BoolType),
		cel.Variable("data", cel.BytesType),
	)
	if err != nil {
		return nil, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, iss.Err()
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("filter must evaluate to bool, got %s", ast.OutputType())
	}
	prog, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	return &Filter{prog: prog, keys: account.NewKeyCache()}, nil
}

// Match evaluates the filter for an update of key. Evaluation errors, for
// example an out of range index into data, count as no match.
func (f *Filter) Match(key account.Key, r account.Record) bool {
	if f == nil || f.prog == nil {
		return true
	}
	out, _, err := f.prog.Eval(map[string]any{
		"key":        f.keys.String(key),
		"owner":      f.keys.String(r.Owner),
		"lamports":   int64(r.Lamports),
		"seq":        int64(r.Seq),
		"size":       int64(len(r.Data)),
		"executable": r.Executable,
		"data":       r.Data,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

// Wrap returns a callback that forwards only matching updates of key to cb.
func (f *Filter) Wrap(key account.Key, cb account.Callback) account.Callback {
	return func(r account.Record) error {
		if !f.Match(key, r) {
			return nil
		}
		return cb(r)
	}
}
