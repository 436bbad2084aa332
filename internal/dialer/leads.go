package dialer

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// ParseLeads reads a CSV lead list from r and returns the values of its
// "phone" column, in file order. The header row is required; the phone column
// may appear at any position. Rows with an empty phone cell are skipped.
func ParseLeads(r io.Reader) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("dialer: lead file is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("dialer: read lead header: %w", err)
	}

	phoneCol := -1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(name), "phone") {
			phoneCol = i
			break
		}
	}
	if phoneCol == -1 {
		return nil, fmt.Errorf("dialer: lead file has no phone column")
	}

	var phones []string
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("dialer: read lead row: %w", err)
		}
		if phoneCol >= len(row) {
			continue
		}
		phone := strings.TrimSpace(row[phoneCol])
		if phone != "" {
			phones = append(phones, phone)
		}
	}

	if len(phones) == 0 {
		return nil, fmt.Errorf("dialer: no phone numbers found in lead file")
	}
	return phones, nil
}
