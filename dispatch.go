package mssqlmcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sqlbridge/mssql-mcp/internal/hint"
	"github.com/sqlbridge/mssql-mcp/internal/policy"
	"github.com/sqlbridge/mssql-mcp/internal/redact"
	"github.com/sqlbridge/mssql-mcp/internal/timeout"
)

// Handler executes one operation against an already-validated connection
// with already-approved arguments.
type Handler func(ctx context.Context, conn Conn, args Args) (any, error)

// Operation pairs static metadata with its handler.
type Operation struct {
	Spec    OperationSpec
	Handler Handler
}

// connectionSource is the slice of Pool the dispatcher needs; tests
// substitute recording fakes.
type connectionSource interface {
	Ensure(ctx context.Context) (Conn, error)
}

// Dispatcher is the sole public entry point for every named operation.
// It looks up the operation, ensures a valid connection, consults the
// safety policy, invokes the handler, and normalizes the outcome into a
// uniform response envelope. No handler runs without passing the
// connection and policy steps first.
type Dispatcher struct {
	cfg      Config
	pool     connectionSource
	policy   *policy.Engine
	timeouts *timeout.Manager
	hints    *hint.Matcher
	ops      map[string]Operation
	logger   zerolog.Logger
}

// DispatcherOption customizes dispatcher construction.
type DispatcherOption func(*dispatcherOptions)

type dispatcherOptions struct {
	ops          []Operation
	timeoutRules []timeout.Rule
	hintRules    []hint.Rule
}

// WithOperations replaces the default operation catalogue. The registry is
// frozen at construction; there is no later mutation.
func WithOperations(ops []Operation) DispatcherOption {
	return func(o *dispatcherOptions) { o.ops = ops }
}

// WithTimeoutRules adds per-operation deadline overrides on top of the
// configured default.
func WithTimeoutRules(rules []timeout.Rule) DispatcherOption {
	return func(o *dispatcherOptions) { o.timeoutRules = rules }
}

// WithHintRules replaces the default error guidance rules.
func WithHintRules(rules []hint.Rule) DispatcherOption {
	return func(o *dispatcherOptions) { o.hintRules = rules }
}

// NewDispatcher creates a Dispatcher over the given pool. The operation
// registry defaults to the full catalogue and is immutable afterwards.
func NewDispatcher(cfg Config, pool connectionSource, logger zerolog.Logger, opts ...DispatcherOption) (*Dispatcher, error) {
	o := &dispatcherOptions{hintRules: hint.DefaultRules()}
	for _, opt := range opts {
		opt(o)
	}

	tmgr, err := timeout.NewManager(timeout.Config{
		DefaultTimeout: cfg.QueryTimeout,
		Rules:          o.timeoutRules,
	})
	if err != nil {
		return nil, err
	}
	hints, err := hint.NewMatcher(o.hintRules)
	if err != nil {
		return nil, err
	}

	d := &Dispatcher{
		cfg:      cfg,
		pool:     pool,
		policy:   policy.NewEngine(cfg.ReadOnly),
		timeouts: tmgr,
		hints:    hints,
		logger:   logger,
	}

	ops := o.ops
	if ops == nil {
		ops = d.defaultOperations()
	}
	d.ops = make(map[string]Operation, len(ops))
	for _, op := range ops {
		if _, dup := d.ops[op.Spec.Name]; dup {
			return nil, fmt.Errorf("duplicate operation %q", op.Spec.Name)
		}
		d.ops[op.Spec.Name] = op
	}
	return d, nil
}

// Operations returns the registered operations in no particular order.
// In read-only mode, operations not eligible for read-only use are omitted:
// READONLY gates the set advertised to callers, not just execution.
func (d *Dispatcher) Operations() []Operation {
	out := make([]Operation, 0, len(d.ops))
	for _, op := range d.ops {
		if d.cfg.ReadOnly && !op.Spec.AllowedWhenReadOnly {
			continue
		}
		out = append(out, op)
	}
	return out
}

// ReadOnly reports whether the dispatcher runs in read-only mode.
func (d *Dispatcher) ReadOnly() bool { return d.cfg.ReadOnly }

// Dispatch handles one request end to end. It always returns a response;
// nothing below this boundary is allowed to crash the process.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) *Response {
	start := time.Now()
	resp := d.dispatch(ctx, req)

	evt := d.logger.Info()
	if !resp.Success {
		evt = d.logger.Warn().Str("error_kind", string(resp.ErrorKind))
	}
	evt.Str("operation", req.Operation).
		Dur("duration", time.Since(start)).
		Bool("success", resp.Success).
		Msg("dispatch")
	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, req Request) *Response {
	// Unknown names fail before the pool is touched.
	op, ok := d.ops[req.Operation]
	if !ok {
		return errResponse(ErrUnknownOperation, fmt.Sprintf("unknown operation %q", req.Operation))
	}

	conn, err := d.pool.Ensure(ctx)
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			return errResponse(ErrAuth, d.describe(err))
		}
		return errResponse(ErrConnection, d.describe(err))
	}

	decision := d.policy.Check(policy.Input{
		Kind:                op.Spec.Kind.policyKind(),
		RequiresWhere:       op.Spec.RequiresWhere,
		AllowedWhenReadOnly: op.Spec.AllowedWhenReadOnly,
		Where:               req.Args.String("where"),
		Statement:           req.Args.String("query"),
	})
	if !decision.Allowed {
		return errResponse(ErrPolicyViolation, decision.Reason)
	}

	deadline := d.timeouts.Resolve(op.Spec.Name)
	opCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	payload, err := d.invoke(opCtx, op, conn, req.Args)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || opCtx.Err() == context.DeadlineExceeded {
			return errResponse(ErrTimeout, fmt.Sprintf("operation %s exceeded its %s deadline", op.Spec.Name, deadline))
		}
		return errResponse(ErrExecution, d.describe(err))
	}
	return okResponse(payload)
}

// invoke runs the handler inside a recovery boundary: raw driver panics
// become ordinary execution errors instead of taking the process down.
func (d *Dispatcher) invoke(ctx context.Context, op Operation, conn Conn, args Args) (payload any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %s panicked: %v", op.Spec.Name, r)
		}
	}()
	return op.Handler(ctx, conn, args)
}

// describe scrubs credential material from an error and appends any
// matching guidance for the caller.
func (d *Dispatcher) describe(err error) string {
	msg := redact.ScrubErr(err)
	if guidance := d.hints.Match(msg); guidance != "" {
		msg = msg + "\n\n" + guidance
	}
	return msg
}
