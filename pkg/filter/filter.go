// Package filter compiles CEL expressions for filtering connections
// beyond the built-in port and state axes.
package filter

import (
	"fmt"
	"reflect"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/ext"

	"github.com/minerops/stratum-counter/pkg/netstat"
)

// Filter holds a compiled CEL expression for filtering connections
type Filter struct {
	env        *cel.Env
	program    cel.Program
	expression string
}

var connType = reflect.TypeFor[netstat.Connection]()

// NewEnv creates a shared CEL environment with registered types.
// This can be reused across multiple filter compilations.
func NewEnv() (*cel.Env, error) {
	return cel.NewEnv(
		// Register the native Go type for direct struct access
		// ParseStructTags enables using `cel:"fieldname"` struct tags
		ext.NativeTypes(
			ext.ParseStructTags(true),
			connType,
		),

		// Declare the "conn" variable as Connection
		// Allows expressions like: conn.remotePort > 1024
		cel.Variable("conn", cel.ObjectType(connType.String())),

		// TCP state constants
		// Usage: conn.state == established
		cel.Constant("established", cel.UintType, types.Uint(netstat.Established)),
		cel.Constant("syn_sent", cel.UintType, types.Uint(netstat.SynSent)),
		cel.Constant("syn_recv", cel.UintType, types.Uint(netstat.SynRecv)),
		cel.Constant("fin_wait1", cel.UintType, types.Uint(netstat.FinWait1)),
		cel.Constant("fin_wait2", cel.UintType, types.Uint(netstat.FinWait2)),
		cel.Constant("time_wait", cel.UintType, types.Uint(netstat.TimeWait)),
		cel.Constant("close", cel.UintType, types.Uint(netstat.Close)),
		cel.Constant("close_wait", cel.UintType, types.Uint(netstat.CloseWait)),
		cel.Constant("last_ack", cel.UintType, types.Uint(netstat.LastAck)),
		cel.Constant("listen", cel.UintType, types.Uint(netstat.Listen)),
		cel.Constant("closing", cel.UintType, types.Uint(netstat.Closing)),

		// Enable useful string extensions
		// Adds: .contains(), .startsWith(), .endsWith(), .split(), etc.
		ext.Strings(),
	)
}

// New compiles a CEL expression into a Filter.
// The expression should return a boolean value.
//
// Available variables:
//   - conn: Connection with fields: localAddr, localPort, remoteAddr,
//     remotePort, state, inode
//
// Example expressions:
//   - conn.remoteAddr.startsWith("10.")
//   - conn.remotePort > 1024
//   - conn.localAddr == "172.17.0.2" || conn.localAddr == "172.17.0.3"
func New(expression string) (*Filter, error) {
	env, err := NewEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return NewWithEnv(env, expression)
}

// NewWithEnv compiles a CEL expression using a pre-created environment.
func NewWithEnv(env *cel.Env, expression string) (*Filter, error) {
	// Parse and type-check the expression
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compilation error: %w", issues.Err())
	}

	// Ensure expression returns bool
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}

	// Create the executable program
	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return &Filter{
		env:        env,
		program:    program,
		expression: expression,
	}, nil
}

// Expression returns the original CEL expression string
func (f *Filter) Expression() string {
	return f.expression
}

// Match evaluates the filter against a connection.
func (f *Filter) Match(conn netstat.Connection) (bool, error) {
	result, _, err := f.program.Eval(map[string]any{
		"conn": conn,
	})
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error: %w", err)
	}

	b, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("unexpected result type: %T", result.Value())
	}
	return b, nil
}

// Validate checks if a CEL expression is valid without creating a full
// Filter. Returns nil if valid, or an error describing the problem.
func Validate(expression string) error {
	env, err := NewEnv()
	if err != nil {
		return fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("invalid expression: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}

	return nil
}
