package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chiehw/ethwatch/internal/storage"
)

const maxListedTransactions = 10

func formatAlert(txs []storage.Transaction, loc *time.Location) string {
	var lines []string
	if len(txs) == 1 {
		lines = append(lines, "🚨 <b>New transaction detected</b>")
	} else {
		lines = append(lines, fmt.Sprintf("🚨 <b>%d new transactions detected</b>", len(txs)))
	}

	for i, tx := range txs {
		if i == maxListedTransactions {
			lines = append(lines, "", fmt.Sprintf("… and %d more", len(txs)-maxListedTransactions))
			break
		}
		lines = append(lines, "", formatTransaction(tx, loc))
	}

	return strings.Join(lines, "\n")
}

func formatTransaction(tx storage.Transaction, loc *time.Location) string {
	return fmt.Sprintf(
		"🔹 %s\n"+
			"🔗 <a href=\"https://etherscan.io/tx/%s\">View transaction</a>\n"+
			"📦 Block: %d\n"+
			"💰 Value: %s",
		tx.Time.In(loc).Format("2006-01-02 15:04:05"),
		tx.Hash, tx.Block, formatETH(tx.Value),
	)
}

// formatETH renders a wei amount as ETH without losing precision.
func formatETH(wei decimal.Decimal) string {
	return wei.Shift(-18).String() + " ETH"
}
