// Package repository содержит транзакционное хранилище состояния игроков.
package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/race-economy/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresRepository хранит состояние игроков в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт пул соединений и применяет миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет запросы вне бизнес-транзакций при сетевых сбоях и конфликтах.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{200 * time.Millisecond, 1 * time.Second, 3 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isTransient(err) || i == len(delays) {
			break
		}

		timer := time.NewTimer(delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// classifyTxError превращает конфликты сериализации в ErrConflict.
func classifyTxError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected, pgerrcode.UniqueViolation:
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
	}
	return err
}

// Ping проверяет доступность БД.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// RunInTx выполняет fn в сериализуемой транзакции. Чтения блокируют строки,
// записи накапливаются и применяются перед фиксацией.
func (r *PostgresRepository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ptx := &pgTx{tx: tx}
	if err := fn(ctx, ptx); err != nil {
		return classifyTxError(err)
	}

	for _, op := range ptx.ops {
		if err := op(ctx, tx); err != nil {
			return classifyTxError(fmt.Errorf("apply write: %w", err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return classifyTxError(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

type pgTx struct {
	tx  pgx.Tx
	ops []func(ctx context.Context, tx pgx.Tx) error
}

func (t *pgTx) stage(sql string, args ...any) {
	t.ops = append(t.ops, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, sql, args...)
		return err
	})
}

const receiptColumns = `player_id, op_id, operation, status, result, COALESCE(error_code, ''), created_at, updated_at, completed_at`

func scanReceipt(row pgx.Row) (*model.Receipt, error) {
	var (
		rc     model.Receipt
		status string
		result []byte
	)
	err := row.Scan(&rc.PlayerID, &rc.OpID, &rc.Operation, &status, &result, &rc.ErrorCode, &rc.CreatedAt, &rc.UpdatedAt, &rc.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan receipt: %w", err)
	}
	rc.Status = model.ReceiptStatus(status)
	if result != nil {
		rc.Result = json.RawMessage(result)
	}
	return &rc, nil
}

func (t *pgTx) GetReceipt(ctx context.Context, playerID, opID string) (*model.Receipt, error) {
	return scanReceipt(t.tx.QueryRow(ctx,
		`SELECT `+receiptColumns+` FROM idempotency_receipts WHERE player_id = $1 AND op_id = $2 FOR UPDATE`,
		playerID, opID,
	))
}

func (t *pgTx) GetPlayer(ctx context.Context, playerID string) (model.Player, error) {
	p := model.Player{ID: playerID}
	err := t.tx.QueryRow(ctx,
		`SELECT gems, coins, exp, trophies, coin_booster_until, exp_booster_until, created_at, updated_at
		 FROM players WHERE id = $1 FOR UPDATE`,
		playerID,
	).Scan(&p.Gems, &p.Coins, &p.Exp, &p.Trophies, &p.CoinBoosterUntil, &p.ExpBoosterUntil, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return p, nil
		}
		return p, fmt.Errorf("get player: %w", err)
	}
	p.Exists = true
	return p, nil
}

func (t *pgTx) GetInventoryEntries(ctx context.Context, playerID string, skuIDs []string) (map[string]model.InventoryEntry, error) {
	res := make(map[string]model.InventoryEntry, len(skuIDs))
	if len(skuIDs) == 0 {
		return res, nil
	}

	rows, err := t.tx.Query(ctx,
		`SELECT sku_id, quantity, created_at, updated_at
		 FROM inventory_entries
		 WHERE player_id = $1 AND sku_id = ANY($2)
		 FOR UPDATE`,
		playerID, skuIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("select inventory: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e := model.InventoryEntry{PlayerID: playerID}
		if err := rows.Scan(&e.SkuID, &e.Quantity, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan inventory: %w", err)
		}
		res[e.SkuID] = e
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

func (t *pgTx) GetInventorySummary(ctx context.Context, playerID string) (model.InventorySummary, error) {
	s := model.InventorySummary{
		PlayerID: playerID,
		Items:    map[string]model.SummaryItem{},
		Totals:   map[string]int64{},
	}

	var items, totals []byte
	err := t.tx.QueryRow(ctx,
		`SELECT items, totals, updated_at FROM inventory_summaries WHERE player_id = $1 FOR UPDATE`,
		playerID,
	).Scan(&items, &totals, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s, nil
		}
		return s, fmt.Errorf("get summary: %w", err)
	}

	if err := json.Unmarshal(items, &s.Items); err != nil {
		return s, fmt.Errorf("decode summary items: %w", err)
	}
	if err := json.Unmarshal(totals, &s.Totals); err != nil {
		return s, fmt.Errorf("decode summary totals: %w", err)
	}
	return s, nil
}

const mainOfferColumns = `player_id, offer_id, offer_type, expires_at, tier, state, next_offer_at, is_starter, special_offers, updated_at`

func scanMainOffer(row pgx.Row) (*model.MainOffer, error) {
	var (
		o        model.MainOffer
		state    string
		specials []byte
	)
	err := row.Scan(&o.PlayerID, &o.OfferID, &o.OfferType, &o.ExpiresAt, &o.Tier, &state, &o.NextOfferAt, &o.IsStarter, &specials, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.State = model.OfferState(state)
	if len(specials) > 0 {
		if err := json.Unmarshal(specials, &o.SpecialOffers); err != nil {
			return nil, fmt.Errorf("decode special offers: %w", err)
		}
	}
	return &o, nil
}

func (t *pgTx) GetMainOffer(ctx context.Context, playerID string) (*model.MainOffer, error) {
	o, err := scanMainOffer(t.tx.QueryRow(ctx,
		`SELECT `+mainOfferColumns+` FROM main_offers WHERE player_id = $1 FOR UPDATE`,
		playerID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get main offer: %w", err)
	}
	return o, nil
}

func (t *pgTx) GetOfferFlowState(ctx context.Context, playerID string) (*model.OfferFlowState, error) {
	s := model.OfferFlowState{PlayerID: playerID}
	var purchased []byte
	err := t.tx.QueryRow(ctx,
		`SELECT tier, starter_eligible, starter_shown, starter_purchased, offers_purchased,
		        total_iap_purchases, last_expired_at, last_purchased_at, updated_at
		 FROM offer_flow_states WHERE player_id = $1 FOR UPDATE`,
		playerID,
	).Scan(&s.Tier, &s.StarterEligible, &s.StarterShown, &s.StarterPurchased, &purchased,
		&s.TotalIAPPurchases, &s.LastExpiredAt, &s.LastPurchasedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get offer flow state: %w", err)
	}
	if err := json.Unmarshal(purchased, &s.OffersPurchased); err != nil {
		return nil, fmt.Errorf("decode purchases: %w", err)
	}
	return &s, nil
}

func (t *pgTx) GetScheduledTransition(ctx context.Context, playerID string) (*model.ScheduledTransition, error) {
	e := model.ScheduledTransition{PlayerID: playerID}
	var reason string
	err := t.tx.QueryRow(ctx,
		`SELECT fire_at, reason, tier, created_at FROM scheduled_transitions WHERE player_id = $1 FOR UPDATE`,
		playerID,
	).Scan(&e.FireAt, &reason, &e.Tier, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get scheduled transition: %w", err)
	}
	e.Reason = model.TransitionReason(reason)
	return &e, nil
}

func (t *pgTx) GetRace(ctx context.Context, playerID, raceID string) (*model.Race, error) {
	rc := model.Race{PlayerID: playerID, RaceID: raceID}
	var (
		ratings []byte
		result  []byte
		status  string
	)
	err := t.tx.QueryRow(ctx,
		`SELECT player_index, ratings, pre_deducted, status, result, created_at, finished_at
		 FROM races WHERE player_id = $1 AND race_id = $2 FOR UPDATE`,
		playerID, raceID,
	).Scan(&rc.PlayerIndex, &ratings, &rc.PreDeducted, &status, &result, &rc.CreatedAt, &rc.FinishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get race: %w", err)
	}
	if err := json.Unmarshal(ratings, &rc.Ratings); err != nil {
		return nil, fmt.Errorf("decode ratings: %w", err)
	}
	rc.Status = model.RaceStatus(status)
	if result != nil {
		rc.Result = json.RawMessage(result)
	}
	return &rc, nil
}

func (t *pgTx) PutReceipt(rc model.Receipt) {
	var result []byte
	if rc.Result != nil {
		result = []byte(rc.Result)
	}
	t.stage(
		`INSERT INTO idempotency_receipts (player_id, op_id, operation, status, result, error_code, created_at, updated_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)
		 ON CONFLICT (player_id, op_id) DO UPDATE SET
		   operation = EXCLUDED.operation,
		   status = EXCLUDED.status,
		   result = EXCLUDED.result,
		   error_code = EXCLUDED.error_code,
		   updated_at = EXCLUDED.updated_at,
		   completed_at = EXCLUDED.completed_at`,
		rc.PlayerID, rc.OpID, rc.Operation, string(rc.Status), result, rc.ErrorCode, rc.CreatedAt, rc.UpdatedAt, rc.CompletedAt,
	)
}

func (t *pgTx) PutPlayer(p model.Player) {
	t.stage(
		`INSERT INTO players (id, gems, coins, exp, trophies, coin_booster_until, exp_booster_until, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
		   gems = EXCLUDED.gems,
		   coins = EXCLUDED.coins,
		   exp = EXCLUDED.exp,
		   trophies = EXCLUDED.trophies,
		   coin_booster_until = EXCLUDED.coin_booster_until,
		   exp_booster_until = EXCLUDED.exp_booster_until,
		   updated_at = EXCLUDED.updated_at`,
		p.ID, p.Gems, p.Coins, p.Exp, p.Trophies, p.CoinBoosterUntil, p.ExpBoosterUntil, p.CreatedAt, p.UpdatedAt,
	)
}

func (t *pgTx) PutInventoryEntry(e model.InventoryEntry) {
	t.stage(
		`INSERT INTO inventory_entries (player_id, sku_id, quantity, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (player_id, sku_id) DO UPDATE SET
		   quantity = EXCLUDED.quantity,
		   updated_at = EXCLUDED.updated_at`,
		e.PlayerID, e.SkuID, e.Quantity, e.CreatedAt, e.UpdatedAt,
	)
}

func (t *pgTx) PutInventorySummary(s model.InventorySummary) {
	items, itemsErr := json.Marshal(nonNilItems(s.Items))
	totals, totalsErr := json.Marshal(nonNilTotals(s.Totals))
	if err := errors.Join(itemsErr, totalsErr); err != nil {
		t.fail(fmt.Errorf("encode summary: %w", err))
		return
	}
	t.stage(
		`INSERT INTO inventory_summaries (player_id, items, totals, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (player_id) DO UPDATE SET
		   items = EXCLUDED.items,
		   totals = EXCLUDED.totals,
		   updated_at = EXCLUDED.updated_at`,
		s.PlayerID, items, totals, s.UpdatedAt,
	)
}

func (t *pgTx) PutMainOffer(o model.MainOffer) {
	specials := o.SpecialOffers
	if specials == nil {
		specials = []model.SpecialOffer{}
	}
	data, err := json.Marshal(specials)
	if err != nil {
		t.fail(fmt.Errorf("encode special offers: %w", err))
		return
	}
	t.stage(
		`INSERT INTO main_offers (`+mainOfferColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (player_id) DO UPDATE SET
		   offer_id = EXCLUDED.offer_id,
		   offer_type = EXCLUDED.offer_type,
		   expires_at = EXCLUDED.expires_at,
		   tier = EXCLUDED.tier,
		   state = EXCLUDED.state,
		   next_offer_at = EXCLUDED.next_offer_at,
		   is_starter = EXCLUDED.is_starter,
		   special_offers = EXCLUDED.special_offers,
		   updated_at = EXCLUDED.updated_at`,
		o.PlayerID, o.OfferID, o.OfferType, o.ExpiresAt, o.Tier, string(o.State), o.NextOfferAt, o.IsStarter, data, o.UpdatedAt,
	)
}

func (t *pgTx) PutOfferFlowState(s model.OfferFlowState) {
	purchased := s.OffersPurchased
	if purchased == nil {
		purchased = []model.PurchaseRecord{}
	}
	data, err := json.Marshal(purchased)
	if err != nil {
		t.fail(fmt.Errorf("encode purchases: %w", err))
		return
	}
	t.stage(
		`INSERT INTO offer_flow_states (player_id, tier, starter_eligible, starter_shown, starter_purchased,
		   offers_purchased, total_iap_purchases, last_expired_at, last_purchased_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (player_id) DO UPDATE SET
		   tier = EXCLUDED.tier,
		   starter_eligible = EXCLUDED.starter_eligible,
		   starter_shown = EXCLUDED.starter_shown,
		   starter_purchased = EXCLUDED.starter_purchased,
		   offers_purchased = EXCLUDED.offers_purchased,
		   total_iap_purchases = EXCLUDED.total_iap_purchases,
		   last_expired_at = EXCLUDED.last_expired_at,
		   last_purchased_at = EXCLUDED.last_purchased_at,
		   updated_at = EXCLUDED.updated_at`,
		s.PlayerID, s.Tier, s.StarterEligible, s.StarterShown, s.StarterPurchased,
		data, s.TotalIAPPurchases, s.LastExpiredAt, s.LastPurchasedAt, s.UpdatedAt,
	)
}

func (t *pgTx) PutScheduledTransition(e model.ScheduledTransition) {
	t.stage(
		`INSERT INTO scheduled_transitions (player_id, fire_at, reason, tier, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (player_id) DO UPDATE SET
		   fire_at = EXCLUDED.fire_at,
		   reason = EXCLUDED.reason,
		   tier = EXCLUDED.tier,
		   created_at = EXCLUDED.created_at`,
		e.PlayerID, e.FireAt, string(e.Reason), e.Tier, e.CreatedAt,
	)
}

func (t *pgTx) DeleteScheduledTransition(playerID string) {
	t.stage(`DELETE FROM scheduled_transitions WHERE player_id = $1`, playerID)
}

func (t *pgTx) PutRace(rc model.Race) {
	ratings, err := json.Marshal(rc.Ratings)
	if err != nil {
		t.fail(fmt.Errorf("encode ratings: %w", err))
		return
	}
	var result []byte
	if rc.Result != nil {
		result = []byte(rc.Result)
	}
	t.stage(
		`INSERT INTO races (player_id, race_id, player_index, ratings, pre_deducted, status, result, created_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (player_id, race_id) DO UPDATE SET
		   status = EXCLUDED.status,
		   result = EXCLUDED.result,
		   finished_at = EXCLUDED.finished_at`,
		rc.PlayerID, rc.RaceID, rc.PlayerIndex, ratings, rc.PreDeducted, string(rc.Status), result, rc.CreatedAt, rc.FinishedAt,
	)
}

// fail откладывает ошибку кодирования до фиксации, где она отменит транзакцию.
func (t *pgTx) fail(err error) {
	t.ops = append(t.ops, func(context.Context, pgx.Tx) error { return err })
}

func nonNilItems(m map[string]model.SummaryItem) map[string]model.SummaryItem {
	if m == nil {
		return map[string]model.SummaryItem{}
	}
	return m
}

func nonNilTotals(m map[string]int64) map[string]int64 {
	if m == nil {
		return map[string]int64{}
	}
	return m
}

// GetReceipt возвращает квитанцию вне транзакции.
func (r *PostgresRepository) GetReceipt(ctx context.Context, playerID, opID string) (*model.Receipt, error) {
	var rc *model.Receipt
	err := r.withRetry(ctx, func() error {
		var err error
		rc, err = scanReceipt(r.pool.QueryRow(ctx,
			`SELECT `+receiptColumns+` FROM idempotency_receipts WHERE player_id = $1 AND op_id = $2`,
			playerID, opID,
		))
		return err
	})
	return rc, err
}

// AcquireReceipt вставляет квитанцию in_progress либо перезахватывает failed или
// просроченную in_progress. Завершённые квитанции не трогает.
func (r *PostgresRepository) AcquireReceipt(ctx context.Context, rc model.Receipt, lease time.Duration) error {
	staleBefore := rc.UpdatedAt.Add(-lease)

	var status string
	err := r.pool.QueryRow(ctx,
		`INSERT INTO idempotency_receipts (player_id, op_id, operation, status, created_at, updated_at)
		 VALUES ($1, $2, $3, 'in_progress', $4, $5)
		 ON CONFLICT (player_id, op_id) DO UPDATE SET
		   operation = EXCLUDED.operation,
		   status = 'in_progress',
		   error_code = NULL,
		   updated_at = EXCLUDED.updated_at
		 WHERE idempotency_receipts.status = 'failed'
		    OR (idempotency_receipts.status = 'in_progress' AND idempotency_receipts.updated_at < $6)
		 RETURNING status`,
		rc.PlayerID, rc.OpID, rc.Operation, rc.CreatedAt, rc.UpdatedAt, staleBefore,
	).Scan(&status)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("acquire receipt: %w", err)
	}

	existing, err := r.GetReceipt(ctx, rc.PlayerID, rc.OpID)
	if err != nil {
		return err
	}
	if existing != nil && existing.Status == model.ReceiptCompleted {
		return ErrReceiptCompleted
	}
	return ErrReceiptInProgress
}

// MarkReceiptFailed помечает незавершённую квитанцию как failed.
func (r *PostgresRepository) MarkReceiptFailed(ctx context.Context, playerID, opID, code string, at time.Time) error {
	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`UPDATE idempotency_receipts
			 SET status = 'failed', error_code = $3, updated_at = $4
			 WHERE player_id = $1 AND op_id = $2 AND status <> 'completed'`,
			playerID, opID, code, at,
		)
		if err != nil {
			return fmt.Errorf("mark receipt failed: %w", err)
		}
		return nil
	})
}

// ListDueTransitions возвращает наступившие записи планировщика.
func (r *PostgresRepository) ListDueTransitions(ctx context.Context, nowMs int64, limit int) ([]model.ScheduledTransition, error) {
	var res []model.ScheduledTransition
	err := r.withRetry(ctx, func() error {
		res = res[:0]
		rows, err := r.pool.Query(ctx,
			`SELECT player_id, fire_at, reason, tier, created_at
			 FROM scheduled_transitions
			 WHERE fire_at <= $1
			 ORDER BY fire_at, player_id
			 LIMIT $2`,
			nowMs, limit,
		)
		if err != nil {
			return fmt.Errorf("select due transitions: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				e      model.ScheduledTransition
				reason string
			)
			if err := rows.Scan(&e.PlayerID, &e.FireAt, &reason, &e.Tier, &e.CreatedAt); err != nil {
				return fmt.Errorf("scan transition: %w", err)
			}
			e.Reason = model.TransitionReason(reason)
			res = append(res, e)
		}
		return rows.Err()
	})
	return res, err
}

// ListOverdueActiveOffers возвращает активные предложения, истёкшие раньше cutoffMs.
func (r *PostgresRepository) ListOverdueActiveOffers(ctx context.Context, cutoffMs int64, limit int) ([]model.MainOffer, error) {
	var res []model.MainOffer
	err := r.withRetry(ctx, func() error {
		res = res[:0]
		rows, err := r.pool.Query(ctx,
			`SELECT `+mainOfferColumns+`
			 FROM main_offers
			 WHERE state = 'active' AND expires_at < $1
			 ORDER BY player_id
			 LIMIT $2`,
			cutoffMs, limit,
		)
		if err != nil {
			return fmt.Errorf("select overdue offers: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			o, err := scanMainOffer(rows)
			if err != nil {
				return fmt.Errorf("scan offer: %w", err)
			}
			res = append(res, *o)
		}
		return rows.Err()
	})
	return res, err
}

// ListPlayerIDs постранично перечисляет игроков, у которых есть хоть какое-то состояние.
func (r *PostgresRepository) ListPlayerIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	var res []string
	err := r.withRetry(ctx, func() error {
		res = res[:0]
		rows, err := r.pool.Query(ctx,
			`SELECT id FROM (
			   SELECT id FROM players
			   UNION SELECT player_id FROM main_offers
			   UNION SELECT player_id FROM offer_flow_states
			 ) p
			 WHERE id > $1
			 ORDER BY id
			 LIMIT $2`,
			afterID, limit,
		)
		if err != nil {
			return fmt.Errorf("select players: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return fmt.Errorf("scan player: %w", err)
			}
			res = append(res, id)
		}
		return rows.Err()
	})
	return res, err
}
