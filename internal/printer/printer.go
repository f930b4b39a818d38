package printer

import "github.com/slok/formbot/internal/model"

// Printer knows how to print automation information in different formats.
type Printer interface {
	PrintRun(run model.AutomationRun) error
	PrintUpload(res model.UploadResult) error
	PrintEmail(e model.EmailContent) error
	PrintHistory(recs []model.RunRecord) error
	PrintRunRecord(rec model.RunRecord) error
	PrintMessage(msg string) error
}
