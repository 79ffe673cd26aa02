package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// 1日あたりの連番の桁（5桁）
const orderNumberSpace = 100000

var ErrOrderNumbersExhausted = errors.New("order numbers exhausted")

// 発行済みかどうかを確認する先（orders テーブル）
type OrderNumberChecker interface {
	ExistsByOrderNumber(ctx context.Context, orderNumber string) (bool, error)
}

// OrderNumberGenerator は ORD-YYYYMMDD-NNNNN 形式の注文番号を発行する。
// カウンタはプロセス全体で単調増加し、5桁で一周したら既存番号との衝突を確認して飛ばす。
type OrderNumberGenerator struct {
	counter atomic.Uint64
	now     func() time.Time
}

func NewOrderNumberGenerator() *OrderNumberGenerator {
	return &OrderNumberGenerator{now: time.Now}
}

// 起動時に今日の発行済み件数から始める（再起動直後の衝突ループを避ける）
func (g *OrderNumberGenerator) Seed(issuedToday int64) {
	if issuedToday <= 0 {
		return
	}
	n := uint64(issuedToday)
	for {
		cur := g.counter.Load()
		if cur >= n || g.counter.CompareAndSwap(cur, n) {
			return
		}
	}
}

// 衝突確認なしの次の候補
func (g *OrderNumberGenerator) Next() string {
	seq := g.counter.Add(1) % orderNumberSpace
	return fmt.Sprintf("ORD-%s-%05d", g.now().UTC().Format("20060102"), seq)
}

// Generate は未使用の番号が見つかるまで候補を進める。
// 全候補が埋まっていたら ErrOrderNumbersExhausted。
func (g *OrderNumberGenerator) Generate(ctx context.Context, checker OrderNumberChecker) (string, error) {
	for i := 0; i < orderNumberSpace; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n := g.Next()
		exists, err := checker.ExistsByOrderNumber(ctx, n)
		if err != nil {
			return "", err
		}
		if !exists {
			return n, nil
		}
	}
	return "", ErrOrderNumbersExhausted
}

// UTCの今日0時
func startOfUTCDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// 起動時のシード用
func SeedOrderNumbers(ctx context.Context, g *OrderNumberGenerator, counter interface {
	CountCreatedSince(ctx context.Context, since time.Time) (int64, error)
}) error {
	n, err := counter.CountCreatedSince(ctx, startOfUTCDay(g.now()))
	if err != nil {
		return err
	}
	g.Seed(n)
	return nil
}
