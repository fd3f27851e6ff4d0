package wallet

import "time"

// Balance is an account balance rendered for clients.
type Balance struct {
    User    string    `json:"user"`
    Balance string    `json:"balance"`
    Display string    `json:"balance_display"`
    AsOf    time.Time `json:"as_of"`
}

// Movement is the result of a credit or debit.
type Movement struct {
    User    string `json:"user"`
    Amount  string `json:"amount"`
    Balance string `json:"balance"`
    Display string `json:"balance_display"`
}

// Status summarizes the ledger instance.
type Status struct {
    LedgerID    string `json:"ledger_id"`
    Initialized bool   `json:"initialized"`
    Admin       string `json:"admin,omitempty"`
    Paused      bool   `json:"paused"`
}
