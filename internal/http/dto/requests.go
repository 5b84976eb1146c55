package dto

type AuthWalletRequest struct {
	WalletAddress string  `json:"wallet_address"`
	DisplayName   *string `json:"display_name,omitempty"`
}

type RegisterAgentRequest struct {
	Name          string  `json:"name"`
	Description   *string `json:"description,omitempty"`
	WalletAddress string  `json:"wallet_address"`
}

type CreateIntentRequest struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	BudgetSOL   *string `json:"budget_sol,omitempty"`
}

type DepositEscrowRequest struct {
	AgentID   string `json:"agent_id"`
	AmountSOL string `json:"amount_sol"`
}

type OpenDisputeRequest struct {
	Reason string `json:"reason"`
}

type ResolveDisputeRequest struct {
	Resolution      string `json:"resolution"` // release_to_agent / refund_to_owner / split
	AgentPercentage *int   `json:"agent_percentage,omitempty"`
}
