package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"openrate/core/events"
	"openrate/core/types"
	nativecommon "openrate/native/common"
	"openrate/native/custody"
	"openrate/observability"
)

// ModuleName is the pause key guarding every market mutation.
const ModuleName = "market"

var errNilStore = errors.New("market engine: store not configured")

// Engine orchestrates market lifecycle operations over a transactional Store.
// Every mutation on a market is serialised through the Sequencer, executed in
// a single store transaction and reconciled before commit. Events are emitted
// only after the transaction commits.
type Engine struct {
	store     Store
	sequencer Sequencer
	clock     Clock
	emitter   events.Emitter
	logger    *slog.Logger
	metrics   *observability.LedgerMetrics
	tracer    trace.Tracer
	pauses    nativecommon.PauseView
	params    Params

	authorities map[[20]byte]struct{}

	haltMu sync.RWMutex
	halted map[[32]byte]string
}

// NewEngine creates a market engine with an in-process sequencer, a wall clock
// using the parameter period and a no-op emitter.
func NewEngine(store Store, params Params) *Engine {
	if params.MaxRateBps == 0 {
		params.MaxRateBps = DefaultMaxRateBps
	}
	if params.PeriodSeconds == 0 {
		params.PeriodSeconds = DefaultPeriodSeconds
	}
	return &Engine{
		store:     store,
		sequencer: NewLocalSequencer(),
		clock:     NewPeriodClock(params.Period()),
		emitter:   events.NoopEmitter{},
		logger:    slog.Default(),
		tracer:    otel.Tracer("openrate/native/market"),
		params:    params,
		halted:    make(map[[32]byte]string),
	}
}

// SetSequencer replaces the serialisation backend. Passing nil restores the
// in-process sequencer.
func (e *Engine) SetSequencer(s Sequencer) {
	if s == nil {
		s = NewLocalSequencer()
	}
	e.sequencer = s
}

// SetClock overrides the time source. Primarily intended for tests.
func (e *Engine) SetClock(c Clock) {
	if c == nil {
		c = NewPeriodClock(e.params.Period())
	}
	e.clock = c
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetLogger configures the structured logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetMetrics enables Prometheus instrumentation.
func (e *Engine) SetMetrics(m *observability.LedgerMetrics) { e.metrics = m }

// SetPauses wires the operator pause switches.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetAuthorities restricts InitializeMarket to the supplied identities. An
// empty list allows any caller.
func (e *Engine) SetAuthorities(addrs [][20]byte) {
	if len(addrs) == 0 {
		e.authorities = nil
		return
	}
	e.authorities = make(map[[20]byte]struct{}, len(addrs))
	for _, addr := range addrs {
		e.authorities[addr] = struct{}{}
	}
}

// Params returns the protocol parameters in force.
func (e *Engine) Params() Params { return e.params }

// Halted reports whether the market was halted by a consistency fault and why.
func (e *Engine) Halted(market [32]byte) (string, bool) {
	e.haltMu.RLock()
	defer e.haltMu.RUnlock()
	reason, ok := e.halted[market]
	return reason, ok
}

// HaltedMarkets lists every halted market in identifier order.
func (e *Engine) HaltedMarkets() [][32]byte {
	e.haltMu.RLock()
	defer e.haltMu.RUnlock()
	out := make([][32]byte, 0, len(e.halted))
	for id := range e.halted {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return FormatID(out[i]) < FormatID(out[j]) })
	return out
}

func (e *Engine) now() time.Time {
	return e.clock.Now().UTC().Truncate(time.Second)
}

// loanStart is the current time rounded up to the next whole second. Periods
// are counted from it, so a stored start never precedes the actual draw.
func (e *Engine) loanStart() time.Time {
	now := e.clock.Now().UTC()
	start := now.Truncate(time.Second)
	if start.Before(now) {
		start = start.Add(time.Second)
	}
	return start
}

// txFunc runs inside a store transaction. emit queues an event for delivery
// after commit.
type txFunc func(tx Tx, emit func(*types.Event)) error

type execOptions struct {
	operation string
	market    [32]byte
	// reconcile runs the vault reconciliation before commit and enables the
	// halt path for consistency faults.
	reconcile bool
}

func (e *Engine) execute(ctx context.Context, opts execOptions, fn txFunc) (err error) {
	if e == nil || e.store == nil {
		return errNilStore
	}
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "market."+opts.operation, trace.WithAttributes(
		attribute.String("market.id", FormatID(opts.market)),
	))
	defer func() {
		code := "ok"
		if err != nil {
			code = CodeOf(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, code)
		}
		span.End()
		e.metrics.ObserveOperation(opts.operation, code, time.Since(start))
	}()

	if nativecommon.Guard(e.pauses, ModuleName) != nil {
		return ErrPaused
	}
	if opts.reconcile {
		if _, halted := e.Halted(opts.market); halted {
			return ErrMarketHalted
		}
	}

	release, err := e.sequencer.Acquire(ctx, "market:"+FormatID(opts.market))
	if err != nil {
		return fmt.Errorf("market: acquire sequencer: %w", err)
	}
	defer release()

	if opts.reconcile {
		if _, halted := e.Halted(opts.market); halted {
			return ErrMarketHalted
		}
	}

	var pending []*types.Event
	err = e.store.Update(ctx, func(tx Tx) error {
		pending = pending[:0]
		queue := func(evt *types.Event) {
			if evt != nil {
				pending = append(pending, evt)
			}
		}
		if err := fn(tx, queue); err != nil {
			return err
		}
		if !opts.reconcile {
			return nil
		}
		return e.reconcile(tx, opts.market)
	})
	if err != nil {
		if opts.reconcile && isConsistencyFault(err) {
			e.halt(opts.market, opts.operation, err)
		}
		return err
	}
	for _, evt := range pending {
		e.emitter.Emit(marketEvent{evt: evt})
	}
	return nil
}

func isConsistencyFault(err error) bool {
	return errors.Is(err, ErrInsufficientVaultFunds) || errors.Is(err, ErrInvariantViolation)
}

func (e *Engine) halt(market [32]byte, operation string, cause error) {
	reason := CodeOf(cause)
	e.haltMu.Lock()
	if _, exists := e.halted[market]; !exists {
		e.halted[market] = reason
	}
	count := len(e.halted)
	e.haltMu.Unlock()

	e.logger.Error("market halted after consistency fault",
		slog.String("market", FormatID(market)),
		slog.String("operation", operation),
		slog.String("reason", reason),
		slog.Any("error", cause),
	)
	e.metrics.RecordFault(reason, count)
	e.emitter.Emit(marketEvent{evt: NewMarketHaltedEvent(market, reason)})
}

// reconcile checks that vault accounting matches bid and loan state.
func (e *Engine) reconcile(tx Tx, market [32]byte) error {
	report, err := buildReport(tx, market)
	if err != nil {
		return err
	}
	if !report.OK() {
		return fmt.Errorf("%w: principal=%d remaining=%d borrowed=%d holdings=%d proceeds=%d bidProceeds=%d",
			ErrInvariantViolation, report.Principal, report.BidRemaining, report.TotalBorrowed,
			report.Holdings, report.Proceeds, report.BidProceeds)
	}
	return nil
}

func buildReport(tx Tx, market [32]byte) (InvariantReport, error) {
	m, ok, err := tx.MarketGet(market)
	if err != nil {
		return InvariantReport{}, err
	}
	if !ok {
		return InvariantReport{}, ErrMarketNotFound
	}
	v, err := loadVault(tx, m)
	if err != nil {
		return InvariantReport{}, err
	}
	totals, err := tx.MarketTotals(market)
	if err != nil {
		return InvariantReport{}, err
	}
	holdings, err := custody.Holdings(tx, custodyVault(v))
	if err != nil {
		return InvariantReport{}, err
	}
	return InvariantReport{
		Market:        market,
		Principal:     v.Principal,
		Proceeds:      v.Proceeds,
		TotalBorrowed: m.TotalBorrowed,
		BidRemaining:  totals.Remaining,
		BidProceeds:   totals.Proceeds,
		Holdings:      holdings,
	}, nil
}

func custodyVault(v *Vault) custody.Vault {
	return custody.Vault{Market: v.Market, Mint: v.Mint}
}

func loadMarket(tx Tx, id [32]byte) (*Market, error) {
	m, ok, err := tx.MarketGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrMarketNotFound
	}
	return m, nil
}

func loadVault(tx Tx, m *Market) (*Vault, error) {
	v, ok, err := tx.VaultGet(m.Vault)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: vault missing for market %s", ErrInvariantViolation, FormatID(m.ID))
	}
	if v.Authority != custody.VaultAuthority(m.ID) {
		return nil, fmt.Errorf("%w: vault authority mismatch for market %s", ErrInvariantViolation, FormatID(m.ID))
	}
	return v, nil
}

// withdrawFromVault maps custody failures to engine errors. A shortfall is a
// consistency fault since every outgoing transfer is backed by accounting.
func withdrawFromVault(tx Tx, v *Vault, to [20]byte, amount uint64) error {
	if err := custody.Withdraw(tx, custodyVault(v), to, amount); err != nil {
		if errors.Is(err, custody.ErrVaultShortfall) {
			return fmt.Errorf("%w: %v", ErrInsufficientVaultFunds, err)
		}
		return err
	}
	return nil
}

func subtractBacked(have, amount uint64, what string) (uint64, error) {
	if have < amount {
		return 0, fmt.Errorf("%w: %s %d below %d", ErrInvariantViolation, what, have, amount)
	}
	return have - amount, nil
}
