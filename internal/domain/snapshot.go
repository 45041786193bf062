package domain

import (
	"sort"
	"time"
)

// RiskProfile drives concentration limits for a client
type RiskProfile string

const (
	RiskConservative RiskProfile = "CONSERVATIVE"
	RiskModerate     RiskProfile = "MODERATE"
	RiskAggressive   RiskProfile = "AGGRESSIVE"
)

// Client is one advisory client from the client master
type Client struct {
	ID                  string      `json:"client_id"`
	Name                string      `json:"name"`
	RiskProfile         RiskProfile `json:"risk_profile"`
	StrategyType        string      `json:"strategy_type,omitempty"`
	RelationshipManager string      `json:"relationship_manager,omitempty"`
	TotalAUM            float64     `json:"total_aum"`
}

// Holding is one position of a client
type Holding struct {
	ClientID       string  `json:"client_id"`
	InstrumentCode string  `json:"instrument_code"`
	InstrumentName string  `json:"instrument_name"`
	InstrumentType string  `json:"instrument_type"`
	SectorTag      string  `json:"sector_tag"`
	CurrentValue   float64 `json:"current_value"`
	CostBasis      float64 `json:"cost_basis"`
	Units          float64 `json:"units"`
	AllocationPct  float64 `json:"allocation_pct"`
	SIPAmount      float64 `json:"sip_amount"`
	SIPActive      bool    `json:"sip_active"`
}

// Instrument is an entry of the universe known to a snapshot
type Instrument struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Sector string `json:"sector"`
}

// Snapshot is the immutable client and holdings data a run is bound to
type Snapshot struct {
	CreatedAt      time.Time `json:"created_at"`
	ID             string    `json:"id"`
	ContentHash    string    `json:"content_hash"`
	ClientSource   string    `json:"client_source"`
	HoldingsSource string    `json:"holdings_source"`
	Clients        []Client  `json:"clients"`
	Holdings       []Holding `json:"holdings"`
}

// Client looks up a client by id
func (s *Snapshot) Client(id string) (Client, bool) {
	for _, c := range s.Clients {
		if c.ID == id {
			return c, true
		}
	}
	return Client{}, false
}

// HoldingsFor returns the holdings of one client
func (s *Snapshot) HoldingsFor(clientID string) []Holding {
	var out []Holding
	for _, h := range s.Holdings {
		if h.ClientID == clientID {
			out = append(out, h)
		}
	}
	return out
}

// Universe returns the distinct instruments held by any client, sorted by code
func (s *Snapshot) Universe() []Instrument {
	seen := make(map[string]Instrument)
	for _, h := range s.Holdings {
		if _, ok := seen[h.InstrumentCode]; ok {
			continue
		}
		seen[h.InstrumentCode] = Instrument{
			Code:   h.InstrumentCode,
			Name:   h.InstrumentName,
			Type:   h.InstrumentType,
			Sector: h.SectorTag,
		}
	}
	out := make([]Instrument, 0, len(seen))
	for _, inst := range seen {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// SectorExposure returns the allocation percentage a client has in each sector
func (s *Snapshot) SectorExposure(clientID string) map[string]float64 {
	exposure := make(map[string]float64)
	for _, h := range s.HoldingsFor(clientID) {
		exposure[h.SectorTag] += h.AllocationPct
	}
	return exposure
}
