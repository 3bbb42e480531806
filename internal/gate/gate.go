// Package gate は通知の発火判定を行う。
// 商品×店舗ごとの直前状態とクールダウンを保持し、
// 「利用不可→利用可能」への遷移のみを通知対象とする。
package gate

import (
	"sync"
	"time"
)

// state は商品×店舗1組分の判定状態。
type state struct {
	last       *bool     // 直前の観測値。未観測ならnil。
	pending    bool      // 通知待ちの遷移があるか。
	lastSentAt time.Time // 最後に通知を送った時刻。ゼロ値なら未送信。
}

// Gate は通知発火のゲート。すべてのメソッドは並行呼び出しに安全。
type Gate struct {
	cooldown time.Duration

	mu     sync.Mutex
	states map[string]*state
}

// New はクールダウン間隔つきのGateを生成する。
func New(cooldown time.Duration) *Gate {
	return &Gate{
		cooldown: cooldown,
		states:   make(map[string]*state),
	}
}

func key(productID, storeID string) string {
	return productID + "/" + storeID
}

// Observe は観測値を1件取り込み、今すぐ通知すべきかを返す。
//
// 判定規則:
//   - 初回観測は記録のみで通知しない。
//   - 利用不可→利用可能の遷移は、前回送信からクールダウンが
//     経過している場合のみ通知待ちになる。経過していなければ
//     その遷移は破棄される（後から遅延送信はしない）。
//   - 利用可能→利用不可の遷移は通知待ちを取り消す。
//   - 通知待ちのまま利用可能が続く場合（前回の送信失敗など）は
//     再度通知対象として返す。
//
// trueが返って送信に成功したら、呼び出し側はMarkSentを呼ぶ。
// 送信に失敗した場合は何もしなくてよい。通知待ちが維持され、
// 次のサイクルで再び通知対象になる。
func (g *Gate) Observe(productID, storeID string, available bool, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.states[key(productID, storeID)]
	if !ok {
		v := available
		g.states[key(productID, storeID)] = &state{last: &v}
		return false
	}

	prev := *st.last
	v := available
	st.last = &v

	switch {
	case !prev && available:
		if g.cooldownElapsed(st, now) {
			st.pending = true
		}
	case prev && !available:
		st.pending = false
	}

	return st.pending && g.cooldownElapsed(st, now)
}

// MarkSent は通知送信の成功を記録する。
// 通知待ちを解消し、クールダウンを開始する。
func (g *Gate) MarkSent(productID, storeID string, at time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.states[key(productID, storeID)]
	if !ok {
		return
	}
	st.pending = false
	st.lastSentAt = at
}

// cooldownElapsed は前回送信からクールダウンが経過したかを返す。
// 一度も送信していなければ常に経過済みとみなす。
func (g *Gate) cooldownElapsed(st *state, now time.Time) bool {
	if st.lastSentAt.IsZero() {
		return true
	}
	return now.Sub(st.lastSentAt) >= g.cooldown
}
