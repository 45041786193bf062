package testing

import (
	"math"
	"time"

	"github.com/aristath/maestro/internal/domain"
)

// ClientsCSV is a client master with one client per risk profile
const ClientsCSV = `client_id,name,risk_profile,strategy_type,total_aum,relationship_manager
C001,Asha Mehta,MODERATE,GROWTH,2500000,RM-Kapoor
C002,Vikram Rao,CONSERVATIVE,INCOME,1800000,RM-Kapoor
C003,Neha Iyer,AGGRESSIVE,GROWTH,4200000,RM-Shah
`

// HoldingsCSV holds positions for the clients in ClientsCSV; allocations sum to 100 per client
const HoldingsCSV = `client_id,instrument_code,instrument_name,instrument_type,sector_tag,current_value,cost_basis,units,allocation_pct,sip_active,sip_amount
C001,NSE:HDFCBANK,HDFC Bank,EQUITY,BANKING,1000000,850000,600,40,false,0
C001,NSE:TCS,Tata Consultancy Services,EQUITY,IT,875000,700000,220,35,false,0
C001,119551,Parag Parikh Flexi Cap,MUTUAL_FUND,DIVERSIFIED,625000,500000,9000,25,true,10000
C002,NSE:ICICIBANK,ICICI Bank,EQUITY,BANKING,180000,150000,160,10,false,0
C002,NSE:INFY,Infosys,EQUITY,IT,540000,500000,350,30,false,0
C002,120503,Axis Short Duration Fund,MUTUAL_FUND,DEBT,1080000,1000000,40000,60,true,15000
C003,NSE:TCS,Tata Consultancy Services,EQUITY,IT,2100000,1600000,530,50,false,0
C003,NSE:RELIANCE,Reliance Industries,EQUITY,ENERGY,2100000,1900000,740,50,false,0
`

// HoldingsOverAllocatedCSV puts C002 at 105%
const HoldingsOverAllocatedCSV = `client_id,instrument_code,instrument_name,instrument_type,sector_tag,current_value,cost_basis,units,allocation_pct,sip_active,sip_amount
C001,NSE:HDFCBANK,HDFC Bank,EQUITY,BANKING,1000000,850000,600,40,false,0
C001,NSE:TCS,Tata Consultancy Services,EQUITY,IT,875000,700000,220,35,false,0
C001,119551,Parag Parikh Flexi Cap,MUTUAL_FUND,DIVERSIFIED,625000,500000,9000,25,true,10000
C002,NSE:ICICIBANK,ICICI Bank,EQUITY,BANKING,180000,150000,160,15,false,0
C002,NSE:INFY,Infosys,EQUITY,IT,540000,500000,350,30,false,0
C002,120503,Axis Short Duration Fund,MUTUAL_FUND,DEBT,1080000,1000000,40000,60,true,15000
`

// NewSnapshotFixture returns the snapshot described by ClientsCSV and HoldingsCSV
func NewSnapshotFixture() *domain.Snapshot {
	return &domain.Snapshot{
		ID:             "snap-fixture",
		ContentHash:    "fixture",
		ClientSource:   "fixture:clients",
		HoldingsSource: "fixture:holdings",
		CreatedAt:      time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC),
		Clients: []domain.Client{
			{ID: "C001", Name: "Asha Mehta", RiskProfile: domain.RiskModerate, StrategyType: "GROWTH", TotalAUM: 2500000, RelationshipManager: "RM-Kapoor"},
			{ID: "C002", Name: "Vikram Rao", RiskProfile: domain.RiskConservative, StrategyType: "INCOME", TotalAUM: 1800000, RelationshipManager: "RM-Kapoor"},
			{ID: "C003", Name: "Neha Iyer", RiskProfile: domain.RiskAggressive, StrategyType: "GROWTH", TotalAUM: 4200000, RelationshipManager: "RM-Shah"},
		},
		Holdings: []domain.Holding{
			{ClientID: "C001", InstrumentCode: "NSE:HDFCBANK", InstrumentName: "HDFC Bank", InstrumentType: "EQUITY", SectorTag: "BANKING", CurrentValue: 1000000, CostBasis: 850000, Units: 600, AllocationPct: 40},
			{ClientID: "C001", InstrumentCode: "NSE:TCS", InstrumentName: "Tata Consultancy Services", InstrumentType: "EQUITY", SectorTag: "IT", CurrentValue: 875000, CostBasis: 700000, Units: 220, AllocationPct: 35},
			{ClientID: "C001", InstrumentCode: "119551", InstrumentName: "Parag Parikh Flexi Cap", InstrumentType: "MUTUAL_FUND", SectorTag: "DIVERSIFIED", CurrentValue: 625000, CostBasis: 500000, Units: 9000, AllocationPct: 25, SIPActive: true, SIPAmount: 10000},
			{ClientID: "C002", InstrumentCode: "NSE:ICICIBANK", InstrumentName: "ICICI Bank", InstrumentType: "EQUITY", SectorTag: "BANKING", CurrentValue: 180000, CostBasis: 150000, Units: 160, AllocationPct: 10},
			{ClientID: "C002", InstrumentCode: "NSE:INFY", InstrumentName: "Infosys", InstrumentType: "EQUITY", SectorTag: "IT", CurrentValue: 540000, CostBasis: 500000, Units: 350, AllocationPct: 30},
			{ClientID: "C002", InstrumentCode: "120503", InstrumentName: "Axis Short Duration Fund", InstrumentType: "MUTUAL_FUND", SectorTag: "DEBT", CurrentValue: 1080000, CostBasis: 1000000, Units: 40000, AllocationPct: 60, SIPActive: true, SIPAmount: 15000},
			{ClientID: "C003", InstrumentCode: "NSE:TCS", InstrumentName: "Tata Consultancy Services", InstrumentType: "EQUITY", SectorTag: "IT", CurrentValue: 2100000, CostBasis: 1600000, Units: 530, AllocationPct: 50},
			{ClientID: "C003", InstrumentCode: "NSE:RELIANCE", InstrumentName: "Reliance Industries", InstrumentType: "EQUITY", SectorTag: "ENERGY", CurrentValue: 2100000, CostBasis: 1900000, Units: 740, AllocationPct: 50},
		},
	}
}

// NewTrendingSeries builds n daily bars ending on 2024-06-03 whose close
// moves by drift per day with a small oscillation. A positive drift gives
// an uptrend, a negative drift a downtrend.
func NewTrendingSeries(code string, n int, start, drift float64) domain.MarketSeries {
	end := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, n)
	for i := 0; i < n; i++ {
		close := start + drift*float64(i) + 1.5*math.Sin(float64(i)/3)
		if close < 1 {
			close = 1
		}
		bars[i] = domain.Bar{
			Date:   end.AddDate(0, 0, i-n+1),
			Open:   close - 0.4,
			High:   close + 1.2,
			Low:    close - 1.3,
			Close:  close,
			Volume: 100000 + float64((i%7)*15000),
		}
	}
	return domain.MarketSeries{
		Code:      code,
		Kind:      domain.SeriesOHLCV,
		Source:    "fixture",
		Bars:      bars,
		Available: true,
	}
}
