package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/caseledger/internal/domain"
	"github.com/alanyoungcy/caseledger/internal/gamecfg"
	"github.com/alanyoungcy/caseledger/internal/outcome"
)

// CasinoService settles single-shot games and mines rounds. Every wager is
// debited and every payout credited through ApplyDelta in the same atomic
// unit as the resolution.
type CasinoService struct {
	atomic domain.Atomic
	cfg    *gamecfg.Config
	games  map[string]outcome.Game
	rng    outcome.Rand
	pub    publisher
	logger *slog.Logger
	now    func() time.Time
}

// NewCasinoService creates a CasinoService from the game configuration.
func NewCasinoService(atomic domain.Atomic, cfg *gamecfg.Config, rng outcome.Rand, bus domain.SignalBus, logger *slog.Logger) *CasinoService {
	return &CasinoService{
		atomic: atomic,
		cfg:    cfg,
		games:  cfg.Games(),
		rng:    rng,
		pub:    publisher{bus: bus, logger: logger},
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// PlayResult is returned by Play. Delta is the net balance change.
type PlayResult struct {
	Outcome domain.WagerOutcome `json:"outcome"`
	Payout  domain.Money        `json:"payout"`
	Delta   domain.Money        `json:"delta"`
	Balance domain.Money        `json:"balance"`
}

func (s *CasinoService) checkBet(bet domain.Money) error {
	if bet < s.cfg.Limits.MinBet || bet > s.cfg.Limits.MaxBet {
		return fmt.Errorf("bet %s outside [%s, %s]: %w", bet, s.cfg.Limits.MinBet, s.cfg.Limits.MaxBet, domain.ErrInvalidBet)
	}
	return nil
}

// Play resolves one round of a single-shot game.
func (s *CasinoService) Play(ctx context.Context, userID, game string, bet domain.Money, p outcome.Params) (PlayResult, error) {
	g, ok := s.games[game]
	if !ok {
		return PlayResult{}, fmt.Errorf("casino_service: game %q: %w", game, domain.ErrNotFound)
	}
	if err := s.checkBet(bet); err != nil {
		return PlayResult{}, fmt.Errorf("casino_service: play %s: %w", game, err)
	}

	var (
		res     PlayResult
		entries []domain.LedgerEntry
	)
	now := s.now()
	err := s.atomic.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		entries = nil
		debit, err := ApplyDelta(ctx, tx, DeltaRequest{
			UserID: userID,
			Delta:  -bet,
			Type:   domain.LedgerWager,
			Meta:   map[string]any{"game": game},
		}, now)
		if err != nil {
			return err
		}
		entries = append(entries, debit)

		out, err := g.Resolve(bet, p, s.rng)
		if err != nil {
			return err
		}

		balance := debit.BalanceAfter
		if out.PayoutDelta > 0 {
			credit, err := ApplyDelta(ctx, tx, DeltaRequest{
				UserID: userID,
				Delta:  out.PayoutDelta,
				Type:   domain.LedgerPayout,
				Meta:   map[string]any{"game": game, "selected": out.Selected},
			}, now)
			if err != nil {
				return err
			}
			entries = append(entries, credit)
			balance = credit.BalanceAfter
		}

		res = PlayResult{
			Outcome: out,
			Payout:  out.PayoutDelta,
			Delta:   out.PayoutDelta - bet,
			Balance: balance,
		}
		return nil
	})
	if err != nil {
		return PlayResult{}, fmt.Errorf("casino_service: play %s: %w", game, err)
	}

	s.logger.DebugContext(ctx, "wager settled",
		slog.String("user_id", userID),
		slog.String("game", game),
		slog.String("bet", bet.String()),
		slog.String("payout", res.Payout.String()),
	)
	s.pub.ledger(ctx, entries...)
	return res, nil
}

// MinesView is the player's view of a mines round. Mine positions are only
// disclosed once the round is over.
type MinesView struct {
	ID             string            `json:"id"`
	Bet            domain.Money      `json:"bet"`
	Cells          int               `json:"cells"`
	Mines          int               `json:"mines"`
	Revealed       []int             `json:"revealed"`
	State          domain.MinesState `json:"state"`
	Multiplier     decimal.Decimal   `json:"multiplier"`
	NextMultiplier *decimal.Decimal  `json:"next_multiplier,omitempty"`
	Payout         domain.Money      `json:"payout"`
	MinePositions  []int             `json:"mine_positions,omitempty"`
	Balance        domain.Money      `json:"balance"`
}

func (s *CasinoService) minesEdge() decimal.Decimal {
	return decimal.NewFromFloat(s.cfg.Mines.HouseEdge)
}

func (s *CasinoService) view(r domain.MinesRound, balance domain.Money) MinesView {
	v := MinesView{
		ID:       r.ID,
		Bet:      r.Bet,
		Cells:    r.Cells,
		Mines:    r.Mines,
		Revealed: slices.Clone(r.Revealed),
		State:    r.State,
		Payout:   r.Payout,
		Balance:  balance,
	}
	k := len(r.Revealed)
	if m, err := outcome.MinesMultiplier(r.Cells, r.Mines, k, s.minesEdge()); err == nil {
		v.Multiplier = m
	}
	if r.State == domain.MinesActive {
		if m, err := outcome.MinesMultiplier(r.Cells, r.Mines, k+1, s.minesEdge()); err == nil {
			v.NextMultiplier = &m
		}
	} else {
		v.MinePositions = slices.Clone(r.MinePositions)
		slices.Sort(v.MinePositions)
	}
	return v
}

// StartMines debits bet and persists a new round with mines hidden among the
// configured number of cells.
func (s *CasinoService) StartMines(ctx context.Context, userID string, bet domain.Money, mines int) (MinesView, error) {
	if err := s.checkBet(bet); err != nil {
		return MinesView{}, fmt.Errorf("casino_service: start mines: %w", err)
	}
	mc := s.cfg.Mines
	if mines < mc.MinMines || mines > mc.MaxMines {
		return MinesView{}, fmt.Errorf("casino_service: start mines: %d mines outside [%d, %d]: %w",
			mines, mc.MinMines, mc.MaxMines, domain.ErrInvalidBet)
	}

	var (
		view  MinesView
		entry domain.LedgerEntry
	)
	now := s.now()
	err := s.atomic.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		round := domain.MinesRound{
			ID:            uuid.NewString(),
			UserID:        userID,
			Bet:           bet,
			Cells:         mc.Cells,
			Mines:         mines,
			MinePositions: s.rng.Perm(mc.Cells)[:mines],
			Revealed:      []int{},
			State:         domain.MinesActive,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		entry, err = ApplyDelta(ctx, tx, DeltaRequest{
			UserID: userID,
			Delta:  -bet,
			Type:   domain.LedgerWager,
			Meta:   map[string]any{"game": "mines", "round_id": round.ID},
		}, now)
		if err != nil {
			return err
		}
		if err := tx.Mines().Create(ctx, round); err != nil {
			return err
		}
		view = s.view(round, entry.BalanceAfter)
		return nil
	})
	if err != nil {
		return MinesView{}, fmt.Errorf("casino_service: start mines: %w", err)
	}
	s.pub.ledger(ctx, entry)
	return view, nil
}

// lockRound locks an active round owned by userID.
func lockRound(ctx context.Context, tx domain.Tx, userID, roundID string) (domain.MinesRound, error) {
	round, err := tx.Mines().GetForUpdate(ctx, roundID)
	if err != nil {
		return domain.MinesRound{}, err
	}
	if round.UserID != userID {
		return domain.MinesRound{}, fmt.Errorf("mines round %s: %w", roundID, domain.ErrNotFound)
	}
	if round.State != domain.MinesActive {
		return domain.MinesRound{}, fmt.Errorf("mines round %s is %s: %w", roundID, round.State, domain.ErrInvalidState)
	}
	return round, nil
}

// settle credits the multiplier for the current reveals and closes the round.
func (s *CasinoService) settle(ctx context.Context, tx domain.Tx, round *domain.MinesRound, now time.Time) (domain.LedgerEntry, error) {
	mult, err := outcome.MinesMultiplier(round.Cells, round.Mines, len(round.Revealed), s.minesEdge())
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	round.Payout = outcome.Payout(round.Bet, mult)
	round.State = domain.MinesCashedOut
	round.UpdatedAt = now
	return ApplyDelta(ctx, tx, DeltaRequest{
		UserID: round.UserID,
		Delta:  round.Payout,
		Type:   domain.LedgerPayout,
		Meta: map[string]any{
			"game":       "mines",
			"round_id":   round.ID,
			"reveals":    len(round.Revealed),
			"multiplier": mult.StringFixed(4),
		},
	}, now)
}

// RevealMines uncovers cell. Hitting a mine loses the round; uncovering the
// last safe cell cashes out automatically.
func (s *CasinoService) RevealMines(ctx context.Context, userID, roundID string, cell int) (MinesView, error) {
	var (
		view    MinesView
		entries []domain.LedgerEntry
	)
	now := s.now()
	err := s.atomic.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		entries = nil
		round, err := lockRound(ctx, tx, userID, roundID)
		if err != nil {
			return err
		}
		if cell < 0 || cell >= round.Cells {
			return fmt.Errorf("cell %d outside board of %d: %w", cell, round.Cells, domain.ErrInvalidBet)
		}
		if round.IsRevealed(cell) {
			return fmt.Errorf("cell %d already revealed: %w", cell, domain.ErrInvalidState)
		}

		round.Revealed = append(round.Revealed, cell)
		round.UpdatedAt = now
		if round.IsMine(cell) {
			round.State = domain.MinesLost
		} else if len(round.Revealed) == round.Cells-round.Mines {
			entry, err := s.settle(ctx, tx, &round, now)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		if err := tx.Mines().Update(ctx, round); err != nil {
			return err
		}

		bal, err := tx.Balances().Get(ctx, userID)
		if err != nil {
			return err
		}
		view = s.view(round, bal.Balance)
		return nil
	})
	if err != nil {
		return MinesView{}, fmt.Errorf("casino_service: reveal %s: %w", roundID, err)
	}
	s.pub.ledger(ctx, entries...)
	return view, nil
}

// CashoutMines credits bet times the current multiplier and closes the
// round. At least one safe cell must have been revealed.
func (s *CasinoService) CashoutMines(ctx context.Context, userID, roundID string) (MinesView, error) {
	var (
		view  MinesView
		entry domain.LedgerEntry
	)
	now := s.now()
	err := s.atomic.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		round, err := lockRound(ctx, tx, userID, roundID)
		if err != nil {
			return err
		}
		if len(round.Revealed) == 0 {
			return fmt.Errorf("mines round %s has no reveals: %w", roundID, domain.ErrInvalidState)
		}
		entry, err = s.settle(ctx, tx, &round, now)
		if err != nil {
			return err
		}
		if err := tx.Mines().Update(ctx, round); err != nil {
			return err
		}
		view = s.view(round, entry.BalanceAfter)
		return nil
	})
	if err != nil {
		return MinesView{}, fmt.Errorf("casino_service: cashout %s: %w", roundID, err)
	}

	s.logger.InfoContext(ctx, "mines cashed out",
		slog.String("user_id", userID),
		slog.String("round_id", roundID),
		slog.String("payout", view.Payout.String()),
	)
	s.pub.ledger(ctx, entry)
	return view, nil
}
