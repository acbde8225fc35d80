package models

import "time"

type SensorReading struct {
	ID         int        `gorm:"primary_key" json:"id"`
	FarmerId   int        `gorm:"index;not null" json:"farmer_id"`
	CropId     *int       `gorm:"index" json:"crop_id,omitempty"`
	SensorId   string     `gorm:"size:100;not null;index" json:"sensor_id"`
	SensorType SensorType `gorm:"size:20;not null;index" json:"sensor_type"`
	Location   GeoPoint   `gorm:"embedded;embeddedPrefix:location_" json:"location"`
	Timestamp  time.Time  `gorm:"not null;index" json:"timestamp"`
	Value      float64    `gorm:"not null" json:"value"`
	Unit       string     `gorm:"size:20" json:"unit"`
	Quality    string     `gorm:"size:10" json:"quality,omitempty"`
	// device metadata
	BatteryLevel   *int `json:"battery_level,omitempty"`
	SignalStrength *int `json:"signal_strength,omitempty"`
}

type NewSensorReading struct {
	CropId         *int       `json:"crop_id"`
	SensorId       string     `json:"sensor_id" validate:"required,max=100"`
	SensorType     SensorType `json:"sensor_type" validate:"required"`
	Location       GeoPoint   `json:"location"`
	Value          float64    `json:"value"`
	Unit           string     `json:"unit" validate:"max=20"`
	Quality        string     `json:"quality" validate:"omitempty,oneof=good fair poor"`
	BatteryLevel   *int       `json:"battery_level"`
	SignalStrength *int       `json:"signal_strength"`
}
