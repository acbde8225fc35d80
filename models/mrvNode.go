package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type NodeLocation struct {
	Latitude  float64 `gorm:"not null;default:0" json:"latitude"`
	Longitude float64 `gorm:"not null;default:0" json:"longitude"`
	Region    string  `gorm:"size:100" json:"region"`
}

type NodeEquipment struct {
	Sensors              datatypes.JSONSlice[string] `gorm:"type:json" json:"sensors"`
	Drones               int                         `gorm:"default:0" json:"drones"`
	WeatherStations      int                         `gorm:"default:0" json:"weather_stations"`
	InternetConnectivity string                      `gorm:"size:10" json:"internet_connectivity"`
}

// MRVNode is a cooperative rollup of member farmers. Membership is a
// non-owning reference; the totals are always recomputed from member credits.
type MRVNode struct {
	ID                    int                      `gorm:"primary_key" json:"id"`
	Name                  string                   `gorm:"size:100;not null" json:"name"`
	NodeType              NodeType                 `gorm:"size:20;not null;index" json:"node_type"`
	Location              NodeLocation             `gorm:"embedded;embeddedPrefix:location_" json:"location"`
	CoordinatorId         int                      `gorm:"index;not null" json:"coordinator_id"`
	MemberFarmers         datatypes.JSONSlice[int] `gorm:"type:json;not null" json:"member_farmers"`
	CooperativeId         *int                     `gorm:"index" json:"cooperative_id,omitempty"`
	IsActive              bool                     `gorm:"not null;default:true;index" json:"is_active"`
	TotalArea             decimal.Decimal          `gorm:"type:decimal(14,4);default:0" json:"total_area"`
	TotalCarbonCredits    decimal.Decimal          `gorm:"type:decimal(20,4);default:0" json:"total_carbon_credits"`
	VerifiedCarbonCredits decimal.Decimal          `gorm:"type:decimal(20,4);default:0" json:"verified_carbon_credits"`
	ConfidenceScore       float64                  `gorm:"not null;default:0" json:"confidence_score"`
	LastUpdated           time.Time                `json:"last_updated"`
	Equipment             NodeEquipment            `gorm:"embedded;embeddedPrefix:equipment_" json:"equipment"`
}

func (n *MRVNode) HasMember(farmerId int) bool {
	for _, id := range n.MemberFarmers {
		if id == farmerId {
			return true
		}
	}
	return false
}

type NewMRVNode struct {
	Name     string       `json:"name" validate:"required,max=100"`
	NodeType NodeType     `json:"node_type" validate:"required"`
	Location NodeLocation `json:"location"`
}

type CommunityStats struct {
	TotalFarmers  int             `json:"total_farmers"`
	TotalArea     decimal.Decimal `json:"total_area"`
	TotalCredits  decimal.Decimal `json:"total_credits"`
	AvgConfidence float64         `json:"avg_confidence"`
}
