package store

import (
	"encoding/csv"
	"io"

	"github.com/Alphas-DBS/Nova-Core/pkg/core"
)

var leadCSVHeader = []string{"name", "phone", "interestedIn", "notes", "sentiment", "status"}

// ExportLeadsCSV writes leads as CSV with a header row. IDs and
// timestamps are not exported; an import creates fresh records.
func ExportLeadsCSV(w io.Writer, leads []Lead) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(leadCSVHeader); err != nil {
		return core.NewStorageError("write csv header", err)
	}
	for _, lead := range leads {
		record := []string{lead.Name, lead.Phone, lead.InterestedIn, lead.Notes, lead.Sentiment, lead.Status}
		if err := cw.Write(record); err != nil {
			return core.NewStorageError("write csv record", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return core.NewStorageError("flush csv", err)
	}
	return nil
}

// ImportLeadsCSV reads leads from CSV produced by ExportLeadsCSV (or a
// compatible sheet export). The first row is treated as a header and
// skipped. Returned leads carry no IDs; store them with CreateLead.
func ImportLeadsCSV(r io.Reader) ([]Lead, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	records, err := cr.ReadAll()
	if err != nil {
		return nil, core.NewStorageError("read csv", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	var leads []Lead
	for _, record := range records[1:] {
		lead := Lead{}
		for i, value := range record {
			if i >= len(leadCSVHeader) {
				break
			}
			switch leadCSVHeader[i] {
			case "name":
				lead.Name = value
			case "phone":
				lead.Phone = value
			case "interestedIn":
				lead.InterestedIn = value
			case "notes":
				lead.Notes = value
			case "sentiment":
				lead.Sentiment = value
			case "status":
				lead.Status = value
			}
		}
		leads = append(leads, lead)
	}
	return leads, nil
}
