package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
)

// CSV renders the snapshot as a flat CSV document, one row per company,
// columns ordered as they appear on the board.
func CSV(snapshot Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	header := []string{"status", "company_id", "company_name", "region", "position", "days_in_status", "overdue"}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}

	for _, column := range snapshot.Columns {
		for _, company := range column.Companies {
			days := ""
			if company.DaysInStatus != nil {
				days = strconv.Itoa(*company.DaysInStatus)
			}
			record := []string{
				column.StatusName,
				company.ID,
				company.Name,
				company.Region,
				strconv.Itoa(company.Position),
				days,
				strconv.FormatBool(company.Overdue),
			}
			if err := writer.Write(record); err != nil {
				return nil, fmt.Errorf("write csv record: %w", err)
			}
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
