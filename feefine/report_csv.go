package feefine

import (
	"encoding/csv"
	"fmt"
	"io"
)

// RefundReportCSVHeader is the column order of the CSV export.
var RefundReportCSVHeader = []string{
	"Patron name", "Patron barcode", "Patron ID", "Patron group",
	"Fee/fine type", "Billed amount", "Date billed",
	"Paid amount", "Payment method", "Transaction information",
	"Transferred amount", "Transfer account", "Fee/fine ID",
	"Refund date", "Refund amount", "Refund action", "Refund reason",
	"Staff info", "Patron info", "Item barcode", "Instance",
	"Action completion date", "Staff member name", "Action taken",
}

// WriteRefundReportCSV writes the header and one record per entry.
func WriteRefundReportCSV(w io.Writer, entries []RefundReportEntry) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(RefundReportCSVHeader); err != nil {
		return fmt.Errorf("error writing header: %w", err)
	}
	for _, e := range entries {
		record := []string{
			e.PatronName, e.PatronBarcode, e.PatronID, e.PatronGroup,
			e.FeeFineType, e.BilledAmount, e.DateBilled,
			e.PaidAmount, e.PaymentMethod, e.TransactionInfo,
			e.TransferredAmount, e.TransferAccount, e.FeeFineID,
			e.RefundDate, e.RefundAmount, e.RefundAction, e.RefundReason,
			e.StaffInfo, e.PatronInfo, e.ItemBarcode, e.Instance,
			e.ActionCompletionDate, e.StaffMemberName, e.ActionTaken,
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("error writing refund record %s: %w", e.FeeFineID, err)
		}
	}
	writer.Flush()
	return writer.Error()
}
