package models

import (
	"encoding/json"
	"errors"
)

type PracticeType string

const (
	PracticeTypeSRI          PracticeType = "SRI"
	PracticeTypeOrganic      PracticeType = "Organic"
	PracticeTypeRegenerative PracticeType = "Regenerative"
	PracticeTypeAgroforestry PracticeType = "Agroforestry"
	PracticeTypeIntegrated   PracticeType = "Integrated"
)

var practiceTypes = map[string]PracticeType{
	"SRI":          PracticeTypeSRI,
	"Organic":      PracticeTypeOrganic,
	"Regenerative": PracticeTypeRegenerative,
	"Agroforestry": PracticeTypeAgroforestry,
	"Integrated":   PracticeTypeIntegrated,
}

func (t PracticeType) IsValid() bool {
	_, ok := practiceTypes[string(t)]
	return ok
}

// convert input to enum type
func (t *PracticeType) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("practice type must be string")
	}
	v, ok := practiceTypes[str]
	if !ok {
		return errors.New("invalid practice type")
	}
	*t = v
	return nil
}

type VerificationType string

const (
	VerificationTypeCropStage        VerificationType = "crop_stage"
	VerificationTypeFertilizerUse    VerificationType = "fertilizer_use"
	VerificationTypeIrrigation       VerificationType = "irrigation"
	VerificationTypeHarvest          VerificationType = "harvest"
	VerificationTypePestManagement   VerificationType = "pest_management"
	VerificationTypeSoilHealth       VerificationType = "soil_health"
	VerificationTypeTreePlanting     VerificationType = "tree_planting"
	VerificationTypeMethaneReduction VerificationType = "methane_reduction"
)

var verificationTypes = map[string]VerificationType{
	"crop_stage":        VerificationTypeCropStage,
	"fertilizer_use":    VerificationTypeFertilizerUse,
	"irrigation":        VerificationTypeIrrigation,
	"harvest":           VerificationTypeHarvest,
	"pest_management":   VerificationTypePestManagement,
	"soil_health":       VerificationTypeSoilHealth,
	"tree_planting":     VerificationTypeTreePlanting,
	"methane_reduction": VerificationTypeMethaneReduction,
}

func (t VerificationType) IsValid() bool {
	_, ok := verificationTypes[string(t)]
	return ok
}

func (t *VerificationType) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("verification type must be string")
	}
	v, ok := verificationTypes[str]
	if !ok {
		return errors.New("invalid verification type")
	}
	*t = v
	return nil
}

type VerificationStatus string

const (
	VerificationStatusPendingAnalysis VerificationStatus = "pending_analysis"
	VerificationStatusVerified        VerificationStatus = "verified"
	VerificationStatusPendingReview   VerificationStatus = "pending_review"
	VerificationStatusRejected        VerificationStatus = "rejected"
)

var verificationStatuses = map[string]VerificationStatus{
	"pending_analysis": VerificationStatusPendingAnalysis,
	"verified":         VerificationStatusVerified,
	"pending_review":   VerificationStatusPendingReview,
	"rejected":         VerificationStatusRejected,
}

// IsTerminal reports whether the analysis task has already resolved the record.
func (s VerificationStatus) IsTerminal() bool {
	return s == VerificationStatusVerified || s == VerificationStatusPendingReview || s == VerificationStatusRejected
}

func ParseVerificationStatus(str string) (VerificationStatus, error) {
	v, ok := verificationStatuses[str]
	if !ok {
		return "", errors.New("invalid verification status")
	}
	return v, nil
}

type CreditType string

const (
	CreditTypeSequestration    CreditType = "sequestration"
	CreditTypeMethaneReduction CreditType = "methane_reduction"
	CreditTypeSoilCarbon       CreditType = "soil_carbon"
	CreditTypeAgroforestry     CreditType = "agroforestry"
)

// CreditTypeForPractice maps a crop's practice onto the credit it earns.
func CreditTypeForPractice(p PracticeType) CreditType {
	if p == PracticeTypeAgroforestry {
		return CreditTypeAgroforestry
	}
	return CreditTypeSequestration
}

type CreditStatus string

const (
	CreditStatusPending  CreditStatus = "pending"
	CreditStatusVerified CreditStatus = "verified"
	CreditStatusIssued   CreditStatus = "issued"
	CreditStatusTraded   CreditStatus = "traded"
)

var creditStatusOrder = map[CreditStatus]int{
	CreditStatusPending:  0,
	CreditStatusVerified: 1,
	CreditStatusIssued:   2,
	CreditStatusTraded:   3,
}

// CanAdvanceTo allows exactly one forward step: pending -> verified -> issued -> traded.
func (s CreditStatus) CanAdvanceTo(next CreditStatus) bool {
	cur, ok := creditStatusOrder[s]
	if !ok {
		return false
	}
	n, ok := creditStatusOrder[next]
	if !ok {
		return false
	}
	return n == cur+1
}

func (s *CreditStatus) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("credit status must be string")
	}
	if _, ok := creditStatusOrder[CreditStatus(str)]; !ok {
		return errors.New("invalid credit status")
	}
	*s = CreditStatus(str)
	return nil
}

type CropStatus string

const (
	CropStatusPlanted   CropStatus = "planted"
	CropStatusGrowing   CropStatus = "growing"
	CropStatusHarvested CropStatus = "harvested"
)

func (s CropStatus) IsValid() bool {
	switch s {
	case CropStatusPlanted, CropStatusGrowing, CropStatusHarvested:
		return true
	}
	return false
}

type SensorType string

const (
	SensorTypeSoilMoisture SensorType = "soil_moisture"
	SensorTypeMethane      SensorType = "methane"
	SensorTypeTemperature  SensorType = "temperature"
	SensorTypePh           SensorType = "ph"
	SensorTypeDrone        SensorType = "drone"
)

func (s SensorType) IsValid() bool {
	switch s {
	case SensorTypeSoilMoisture, SensorTypeMethane, SensorTypeTemperature, SensorTypePh, SensorTypeDrone:
		return true
	}
	return false
}

type NodeType string

const (
	NodeTypeCommunity NodeType = "community"
	NodeTypeRegional  NodeType = "regional"
	NodeTypeDistrict  NodeType = "district"
)

func (t NodeType) IsValid() bool {
	switch t {
	case NodeTypeCommunity, NodeTypeRegional, NodeTypeDistrict:
		return true
	}
	return false
}
