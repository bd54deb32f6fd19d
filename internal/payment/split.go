package payment

import "math"

// 转账角色。
const (
	RoleAgent    = "agent"
	RoleReferrer = "referrer"
	RoleMain     = "main"
	RoleSavings  = "savings"
	RoleDirect   = "direct"
)

// Shares 描述分账比例。
type Shares struct {
	// Agent 是有推荐人时付给收款方的比例，其余归推荐人。
	Agent float64
	// Savings 是无推荐人时转入储蓄钱包的比例。
	Savings float64
}

// DefaultShares 返回 80/20 推荐分账与 5% 储蓄比例。
func DefaultShares() Shares {
	return Shares{Agent: 0.8, Savings: 0.05}
}

// Leg 是一笔待执行的转账。
type Leg struct {
	Role      string
	Recipient string
	Amount    float64
}

// Plan 计算转账明细。第一笔按比例取整到 6 位小数，第二笔取余数，两笔之和恒等于 amount。
func Plan(recipient string, amount float64, referrer, savingsWallet string, shares Shares) []Leg {
	if referrer != "" {
		agent := round6(amount * shares.Agent)
		return []Leg{
			{Role: RoleAgent, Recipient: recipient, Amount: agent},
			{Role: RoleReferrer, Recipient: referrer, Amount: round6(amount - agent)},
		}
	}
	if savingsWallet != "" && shares.Savings > 0 {
		main := round6(amount * (1 - shares.Savings))
		return []Leg{
			{Role: RoleMain, Recipient: recipient, Amount: main},
			{Role: RoleSavings, Recipient: savingsWallet, Amount: round6(amount - main)},
		}
	}
	return []Leg{{Role: RoleDirect, Recipient: recipient, Amount: round6(amount)}}
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
