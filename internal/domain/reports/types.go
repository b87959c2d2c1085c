package reports

type ReportType string

const (
	ReportTypeLabResult        ReportType = "LAB_RESULT"
	ReportTypeImaging          ReportType = "IMAGING"
	ReportTypeConsultation     ReportType = "CONSULTATION"
	ReportTypeDischargeSummary ReportType = "DISCHARGE_SUMMARY"
	ReportTypePrescription     ReportType = "PRESCRIPTION"
	ReportTypeNote             ReportType = "NOTE"
)

func (t ReportType) Valid() bool {
	switch t {
	case ReportTypeLabResult, ReportTypeImaging, ReportTypeConsultation,
		ReportTypeDischargeSummary, ReportTypePrescription, ReportTypeNote:
		return true
	}
	return false
}

type ReportStatus string

const (
	ReportStatusFinal   ReportStatus = "final"
	ReportStatusAmended ReportStatus = "amended"
)
