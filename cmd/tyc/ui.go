package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	cl "tycoon/internal/cli"
	"tycoon/internal/domain"
	"tycoon/internal/emergency"
	"tycoon/internal/game"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/fatih/color"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptConfirm(label string) (bool, error) {
	fmt.Printf("%s? [y/N]: ", label)
	text, err := stdinReader.ReadString('\n')
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("8"))).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func renderCatalog(entries []cl.CatalogEntry) {
	accent.Println("\n== CATALOG ==")
	t := newTable("TYPE", "NAME", "COST", "INCOME/H", "CAPACITY", "DECAY/H", "RISK")
	for _, e := range entries {
		t.Row(
			e.TypeID,
			e.DisplayName,
			comma(e.PurchaseCost),
			comma(e.HourlyIncome),
			comma(e.Capacity),
			fmt.Sprintf("%.1f%%", e.DecayPerHour),
			e.RiskTier,
		)
	}
	fmt.Println(t.Render())
}

func renderStatus(v game.StatusView) {
	accent.Println("\n== PORTFOLIO ==")
	if v.Balance != nil {
		fmt.Printf("Wallet:        %s coins\n", comma(*v.Balance))
	}
	fmt.Printf("Earning:       %s coins/h\n", comma(v.TotalPerHour))
	fmt.Printf("Uncollected:   %s coins\n\n", comma(v.TotalUncollected))

	if len(v.Investments) == 0 {
		printInfo("No investments yet. Try `tyc catalog` and `tyc buy <type>`.")
		return
	}
	t := newTable("TYPE", "STATUS", "CONDITION", "BALANCE", "EARNING/H", "INCOME STOPS", "SHUTDOWN IN", "REPAIR", "EMERGENCY")
	for _, iv := range v.Investments {
		repair := "-"
		if iv.IsOpen && iv.Condition <= domain.RepairCeiling {
			repair = comma(iv.RepairCost)
		}
		emerg := "-"
		if iv.Emergency != nil {
			emerg = "until " + iv.Emergency.ExpiresAt.Local().Format("Jan 2 15:04")
		}
		t.Row(
			iv.TypeID,
			colorizeStatus(iv.Status),
			fmt.Sprintf("%.1f%%", iv.Condition),
			fmt.Sprintf("%s/%s", comma(iv.AccruedBalance), comma(iv.Capacity)),
			comma(iv.EarningPerHour),
			formatHours(iv.HoursUntilIncomeStops, iv.IsOpen),
			formatHours(iv.HoursUntilShutdown, iv.IsOpen),
			repair,
			emerg,
		)
	}
	fmt.Println(t.Render())
}

func renderEvents(raw map[string]any) error {
	payload, err := decodeInto[struct {
		Events []domain.Event `json:"events"`
	}](raw)
	if err != nil {
		return err
	}
	if len(payload.Events) == 0 {
		printInfo("No events yet.")
		return nil
	}
	t := newTable("WHEN", "KIND", "IMPACT", "DETAIL")
	for _, ev := range payload.Events {
		t.Row(
			ev.OccurredAt.Local().Format(time.DateTime),
			string(ev.Kind),
			colorizeCoins(ev.BalanceImpact),
			truncate(ev.Narrative, 60),
		)
	}
	fmt.Println(t.Render())
	return nil
}

func renderEmergencies(list []emergency.Decision) {
	if len(list) == 0 {
		printInfo("No pending emergencies.")
		return
	}
	for _, d := range list {
		danger.Printf("\n%s: %s\n", d.Key.TypeID, d.Narrative)
		fmt.Printf("Respond before %s\n", d.ExpiresAt.Local().Format("Jan 2 15:04"))
		t := newTable("TIER", "COST")
		for _, o := range d.Offers {
			t.Row(string(o.Tier), comma(o.Cost))
		}
		fmt.Println(t.Render())
	}
	printInfo("Answer with `tyc respond <type> <tier>`.")
}

func colorizeStatus(s domain.Status) string {
	switch s {
	case domain.StatusOperating:
		return success.Sprint(s)
	case domain.StatusDegraded:
		return warn.Sprint(s)
	default:
		return danger.Sprint(s)
	}
}

func colorizeCoins(v int64) string {
	text := comma(v)
	switch {
	case v > 0:
		return success.Sprint("+" + text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func formatHours(h float64, open bool) string {
	if !open {
		return "-"
	}
	if h <= 0 {
		return "now"
	}
	return fmt.Sprintf("%.1fh", h)
}

func decodeInto[T any](in any) (T, error) {
	var out T
	raw, err := json.Marshal(in)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

func comma(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return sign + s
	}
	var b strings.Builder
	b.WriteString(sign)
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		b.WriteByte(',')
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
