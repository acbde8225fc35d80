package workflow

import (
	"fmt"
	"io"

	"github.com/mmdatafocus/mrv_backend/models"
	"github.com/xuri/excelize/v2"
)

const (
	reportSheet    = "Report"
	reportXLSXMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// ReportXLSXContentType is the content type of ExportComplianceReportXLSX output.
func ReportXLSXContentType() string { return reportXLSXMIME }

func ReportXLSXFilename(report *models.ComplianceReport) string {
	return fmt.Sprintf("compliance-report-%d.xlsx", report.ID)
}

// ExportComplianceReportXLSX writes the report as a two column workbook.
func ExportComplianceReportXLSX(w io.Writer, report *models.ComplianceReport) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", reportSheet); err != nil {
		return err
	}
	const dateLayout = "2006-01-02"
	rows := [][]interface{}{
		{"Field", "Value"},
		{"Report ID", report.ID},
		{"Farmer ID", report.FarmerId},
		{"Practice Type", string(report.PracticeType)},
		{"Period Start", report.ReportPeriod.StartDate.Format(dateLayout)},
		{"Period End", report.ReportPeriod.EndDate.Format(dateLayout)},
		{"Verifications", report.VerificationCount},
		{"Passed Verifications", report.PassedVerifications},
		{"Overall Compliance (%)", report.OverallCompliance},
		{"Certification Eligible", report.CertificationEligible},
		{"Crop Stages (%)", report.ReportData.CropStages},
		{"Fertilizer Compliance (%)", report.ReportData.FertilizerCompliance},
		{"Irrigation Compliance (%)", report.ReportData.IrrigationCompliance},
		{"Harvest Compliance (%)", report.ReportData.HarvestCompliance},
		{"Total Sequestration (tCO2e)", report.CarbonMetrics.TotalSequestration.String()},
		{"Methane Reduction (tCO2e)", report.CarbonMetrics.MethaneReduction.String()},
		{"Credits Generated", report.CarbonMetrics.CreditsGenerated.String()},
		{"Credits Verified", report.CarbonMetrics.CreditsVerified.String()},
		{"Estimated Earnings", report.CarbonMetrics.EstimatedEarnings.String()},
		{"Generated At", report.GeneratedAt.UTC().Format("2006-01-02 15:04:05")},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(reportSheet, cell, &row); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(reportSheet, "A", "A", 32); err != nil {
		return err
	}
	if err := f.SetColWidth(reportSheet, "B", "B", 24); err != nil {
		return err
	}
	return f.Write(w)
}
