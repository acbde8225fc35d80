package models

import (
	"log"

	"gorm.io/gorm"
)

func MigrateTable(db *gorm.DB) {
	err := db.AutoMigrate(
		&Farmer{}, &Crop{},
		&VerificationRecord{},
		&CarbonCredit{},
		&ComplianceReport{},
		&MRVNode{},
		&SensorReading{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
