// Package statemachine implements the investor lifecycle: an explicit allowed
// edge matrix, a (state, trigger) route table and time gated recovery.
package statemachine

import "FundGuard/internal/domain/models"

// Trigger classifies why the machine moved an investor.
type Trigger string

const (
	TriggerBreach       Trigger = "breach"
	TriggerSevereBreach Trigger = "severe_breach"
	TriggerFreeze       Trigger = "freeze"
	TriggerFraud        Trigger = "fraud"
	TriggerRecovery     Trigger = "recovery"
)

// Triggers lists every trigger in priority order, highest first.
var Triggers = []Trigger{TriggerFraud, TriggerFreeze, TriggerSevereBreach, TriggerBreach, TriggerRecovery}

// States lists every investor state.
var States = []models.InvestorState{
	models.StateActive,
	models.StateLimited,
	models.StateHighRisk,
	models.StateFrozen,
	models.StateBanned,
}

var allowed = map[models.InvestorState]map[models.InvestorState]bool{
	models.StateActive: {
		models.StateLimited:  true,
		models.StateHighRisk: true,
		models.StateFrozen:   true,
		models.StateBanned:   true,
	},
	models.StateLimited: {
		models.StateActive:   true,
		models.StateHighRisk: true,
		models.StateFrozen:   true,
	},
	models.StateHighRisk: {
		models.StateLimited: true,
		models.StateFrozen:  true,
		models.StateBanned:  true,
	},
	models.StateFrozen: {
		models.StateHighRisk: true,
		models.StateBanned:   true,
	},
	models.StateBanned: {},
}

// Allowed reports whether from -> to is an edge of the transition matrix.
func Allowed(from, to models.InvestorState) bool {
	return allowed[from][to]
}

type routeKey struct {
	from    models.InvestorState
	trigger Trigger
}

// routes maps a state and a trigger to the edges taken. A missing key means the
// trigger leaves the state unchanged. LIMITED has no direct edge to BANNED, so
// fraud from LIMITED passes through FROZEN.
var routes = map[routeKey][]models.InvestorState{
	{models.StateActive, TriggerBreach}:       {models.StateLimited},
	{models.StateActive, TriggerSevereBreach}: {models.StateHighRisk},
	{models.StateActive, TriggerFreeze}:       {models.StateFrozen},
	{models.StateActive, TriggerFraud}:        {models.StateBanned},

	{models.StateLimited, TriggerSevereBreach}: {models.StateHighRisk},
	{models.StateLimited, TriggerFreeze}:       {models.StateFrozen},
	{models.StateLimited, TriggerFraud}:        {models.StateFrozen, models.StateBanned},
	{models.StateLimited, TriggerRecovery}:     {models.StateActive},

	{models.StateHighRisk, TriggerFreeze}:   {models.StateFrozen},
	{models.StateHighRisk, TriggerFraud}:    {models.StateBanned},
	{models.StateHighRisk, TriggerRecovery}: {models.StateLimited},

	{models.StateFrozen, TriggerFraud}:    {models.StateBanned},
	{models.StateFrozen, TriggerRecovery}: {models.StateHighRisk},
}

// Route returns the states visited when trigger fires in from, nil when the
// trigger does not move the investor.
func Route(from models.InvestorState, trigger Trigger) []models.InvestorState {
	path := routes[routeKey{from, trigger}]
	if len(path) == 0 {
		return nil
	}
	return append([]models.InvestorState(nil), path...)
}

var limits = map[models.InvestorState]models.StateLimits{
	models.StateActive:   {DepositPct: 100, WithdrawalPct: 100},
	models.StateLimited:  {DepositPct: 50, WithdrawalPct: 25, MaxTier: 2},
	models.StateHighRisk: {DepositPct: 10, WithdrawalPct: 50, WithdrawalOfPosition: true, OneTimeWithdrawal: true, MaxTier: 1},
	models.StateFrozen:   {MaxTier: -1},
	models.StateBanned:   {MaxTier: -1},
}

// LimitsFor returns the operational limits of a state. Unknown states get the
// FROZEN limits.
func LimitsFor(s models.InvestorState) models.StateLimits {
	if l, ok := limits[s]; ok {
		return l
	}
	return limits[models.StateFrozen]
}
