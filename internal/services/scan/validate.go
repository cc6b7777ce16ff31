package scan

import (
	"regexp"
	"strings"

	"github.com/BearBump/CourierSync/internal/apperr"
)

const minEntryLen = 4

// Excel и Google Sheets превращают длинные номера в 2.11295E+13.
var scientificNotation = regexp.MustCompile(`^\d+(\.\d+)?[eE][+-]?\d+$`)

var defaultCourierNames = []string{"postex", "leopards", "tcs", "trax", "m&p", "callcourier", "blueex"}

// ValidateEntry rejects scans that cannot be an order number or tracking id. It never touches storage.
func ValidateEntry(entry string, courierNames []string) error {
	e := strings.TrimSpace(entry)
	if len(e) < minEntryLen {
		return apperr.Validation(apperr.CodeInvalidFormat,
			"entry is too short",
			"scan the full tracking number or order number")
	}
	if scientificNotation.MatchString(e) {
		return apperr.Validation(apperr.CodeInvalidFormat,
			"entry looks like a number mangled by a spreadsheet ("+e+")",
			"format the column as text and copy the tracking number again")
	}
	low := strings.ToLower(e)
	for _, list := range [][]string{defaultCourierNames, courierNames} {
		for _, name := range list {
			if low == strings.ToLower(strings.TrimSpace(name)) {
				return apperr.Validation(apperr.CodeInvalidFormat,
					"entry is a courier name, not a tracking number",
					"select the courier in the courier field and scan the tracking number")
			}
		}
	}
	return nil
}
