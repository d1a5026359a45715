package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mmeshcher/race-economy/internal/apperr"
	"github.com/mmeshcher/race-economy/internal/catalog"
	"github.com/mmeshcher/race-economy/internal/inventory"
	"github.com/mmeshcher/race-economy/internal/model"
	"github.com/mmeshcher/race-economy/internal/offer"
	"github.com/mmeshcher/race-economy/internal/race"
	"github.com/mmeshcher/race-economy/internal/repository"
	"github.com/mmeshcher/race-economy/internal/txn"
	"github.com/mmeshcher/race-economy/internal/validation"
)

var (
	ErrRaceExists   = apperr.FailedPrecondition("race already started")
	ErrRaceNotFound = apperr.NotFound("race not found")
	ErrRaceFinished = apperr.FailedPrecondition("race already finished")
)

// StartRaceResult: ответ startRace.
type StartRaceResult struct {
	RaceID      string `json:"raceId"`
	PreDeducted int    `json:"preDeducted"`
	Trophies    int64  `json:"trophies"`
	Rank        string `json:"rank"`
}

type raceRead struct {
	player model.Player
	race   *model.Race
}

func readRace(playerID, raceID string) func(ctx context.Context, r repository.Reader) (raceRead, error) {
	return func(ctx context.Context, r repository.Reader) (raceRead, error) {
		var (
			d   raceRead
			err error
		)
		if d.player, err = r.GetPlayer(ctx, playerID); err != nil {
			return d, err
		}
		if d.race, err = r.GetRace(ctx, playerID, raceID); err != nil {
			return d, err
		}
		return d, nil
	}
}

// StartRace фиксирует снимок рейтингов лобби и сразу списывает трофеи за
// последнее место. Выход из заезда без finishRace оставляет это списание в силе.
// Собственный рейтинг игрока берётся из его профиля, а не из запроса.
func (s *Service) StartRace(ctx context.Context, playerID, opID, raceID string, playerIndex int, ratings []int) (txn.Result[StartRaceResult], error) {
	var res txn.Result[StartRaceResult]
	if !validation.IsValidID(raceID) {
		return res, ErrInvalidRaceID
	}
	if err := race.ValidateLobby(playerIndex, ratings); err != nil {
		return res, err
	}
	for _, r := range ratings {
		if r < 0 {
			return res, fmt.Errorf("%w: negative rating", race.ErrInvalidLobby)
		}
	}
	now := s.clock.Now()

	op := txn.Op{PlayerID: playerID, OpID: opID, Name: OpStartRace}
	return txn.RunReadThenWrite(ctx, s.orch, op, readRace(playerID, raceID),
		func(w repository.Writer, d raceRead) (StartRaceResult, error) {
			if d.race != nil {
				return StartRaceResult{}, fmt.Errorf("%w: %s", ErrRaceExists, raceID)
			}

			p := d.player
			snapshot := append([]int(nil), ratings...)
			snapshot[playerIndex] = int(p.Trophies)

			// Трофеи не уходят ниже нуля, поэтому запоминаем фактическое списание.
			after := max(p.Trophies+int64(race.LastPlaceDelta(playerIndex, snapshot)), 0)
			applied := int(after - p.Trophies)
			p.Trophies = after
			inventory.Touch(&p, now)

			w.PutRace(model.Race{
				PlayerID:    playerID,
				RaceID:      raceID,
				PlayerIndex: playerIndex,
				Ratings:     snapshot,
				PreDeducted: applied,
				Status:      model.RaceStarted,
				CreatedAt:   now,
			})
			w.PutPlayer(p)

			return StartRaceResult{
				RaceID:      raceID,
				PreDeducted: applied,
				Trophies:    p.Trophies,
				Rank:        race.RankFor(int(p.Trophies)),
			}, nil
		},
	)
}

// FinishRaceResult: ответ finishRace.
type FinishRaceResult struct {
	RaceID string `json:"raceId"`
	race.Rewards
	Trophies     int64               `json:"trophies"`
	Coins        int64               `json:"totalCoins"`
	Exp          int64               `json:"totalExp"`
	SpecialOffer *model.SpecialOffer `json:"specialOffer,omitempty"`
}

type finishRead struct {
	raceRead
	main *model.MainOffer
	flow *model.OfferFlowState
}

// FinishRace рассчитывает награды по снимку старта и проводит их одной транзакцией.
// Повышение ранга добавляет специальное предложение level_up.
func (s *Service) FinishRace(ctx context.Context, playerID, opID, raceID string, finishOrder []int) (txn.Result[FinishRaceResult], error) {
	var res txn.Result[FinishRaceResult]
	if !validation.IsValidID(raceID) {
		return res, ErrInvalidRaceID
	}

	now := s.clock.Now()

	var snap *catalog.Snapshot
	op := txn.Op{PlayerID: playerID, OpID: opID, Name: OpFinishRace}
	op.Prepare = func(ctx context.Context) error {
		var err error
		snap, err = s.snapshot(ctx)
		return err
	}
	return txn.RunReadThenWrite(ctx, s.orch, op,
		func(ctx context.Context, r repository.Reader) (finishRead, error) {
			var (
				d   finishRead
				err error
			)
			if d.raceRead, err = readRace(playerID, raceID)(ctx, r); err != nil {
				return d, err
			}
			if d.main, err = r.GetMainOffer(ctx, playerID); err != nil {
				return d, err
			}
			if d.flow, err = r.GetOfferFlowState(ctx, playerID); err != nil {
				return d, err
			}
			return d, nil
		},
		func(w repository.Writer, d finishRead) (FinishRaceResult, error) {
			if d.race == nil {
				return FinishRaceResult{}, fmt.Errorf("%w: %s", ErrRaceNotFound, raceID)
			}
			if d.race.Status == model.RaceFinished {
				return FinishRaceResult{}, fmt.Errorf("%w: %s", ErrRaceFinished, raceID)
			}

			p := d.player
			rw, err := race.Compute(race.Input{
				PlayerIndex: d.race.PlayerIndex,
				FinishOrder: finishOrder,
				Ratings:     d.race.Ratings,
				CoinBooster: p.CoinBoosterActive(now),
				ExpBooster:  p.ExpBoosterActive(now),
				PreDeducted: d.race.PreDeducted,
			})
			if err != nil {
				return FinishRaceResult{}, err
			}

			p.Trophies = max(p.Trophies+int64(rw.TrophiesSettlement), 0)
			if err := inventory.Credit(&p, 0, int64(rw.Coins)); err != nil {
				return FinishRaceResult{}, err
			}
			p.Exp += int64(rw.Exp)
			inventory.Touch(&p, now)

			out := FinishRaceResult{RaceID: raceID, Rewards: rw}
			if rw.Promoted {
				so, err := s.levelUp(w, playerID, d, snap, now)
				if err != nil {
					return FinishRaceResult{}, err
				}
				out.SpecialOffer = so
			}

			result, err := json.Marshal(rw)
			if err != nil {
				return FinishRaceResult{}, fmt.Errorf("encode race result: %w", err)
			}
			rc := *d.race
			rc.Status = model.RaceFinished
			rc.Result = result
			rc.FinishedAt = &now
			w.PutRace(rc)
			w.PutPlayer(p)

			out.Trophies = p.Trophies
			out.Coins = p.Coins
			out.Exp = p.Exp
			return out, nil
		},
	)
}

// levelUp добавляет предложение за повышение ранга. Уже активное предложение
// не продлевается; отсутствие его в справочнике не ошибка.
func (s *Service) levelUp(w repository.Writer, playerID string, d finishRead, snap *catalog.Snapshot, now time.Time) (*model.SpecialOffer, error) {
	def, ok := snap.SpecialOffer(model.TriggerLevelUp)
	if !ok {
		return nil, nil
	}

	var added *model.SpecialOffer
	err := s.withMain(w, playerID, d.main, d.flow, snap, now, func(m *model.MainOffer) error {
		list, so, err := offer.AddSpecial(m.SpecialOffers, def, nil, now)
		if errors.Is(err, offer.ErrSpecialExists) {
			return nil
		}
		if err != nil {
			return err
		}
		m.SpecialOffers = list
		added = &so
		return nil
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}
